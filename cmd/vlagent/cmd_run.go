package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eatd/vl-desktop-agent/internal/agent"
	"github.com/eatd/vl-desktop-agent/internal/types"
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("dry-run", false, "plan and validate actions without injecting input")
	runCmd.Flags().Int("max-steps", 0, "step budget for this run (0 uses the configured value)")
}

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Run one goal in the foreground",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGoal,
}

func runGoal(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger, logCloser := setupLogging(cfg)
	defer logCloser.Close()

	req := agent.Request{Goal: strings.Join(args, " ")}
	req.MaxSteps, _ = cmd.Flags().GetInt("max-steps")
	if cmd.Flags().Changed("dry-run") {
		dry, _ := cmd.Flags().GetBool("dry-run")
		req.DryRun = &dry
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// First interrupt stops at the next step boundary. The step in flight
	// is never cancelled, so the second interrupt exits the process.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		if err := a.loop.Stop(); err == nil {
			fmt.Fprintln(os.Stderr, "Stopping after the current step (interrupt again to exit now).")
		}
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "Exiting without waiting for the current step.")
			os.Exit(130)
		case <-ctx.Done():
		}
	}()

	var session *types.Session
	var runErr error
	rt := a.runtime()
	rt.Go("run", func(ctx context.Context) error {
		defer cancel()
		session, runErr = a.loop.Run(ctx, req)
		return nil
	})
	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if session != nil {
		printSummary(session)
	}
	return runErr
}

func printSummary(s *types.Session) {
	fmt.Fprintf(os.Stdout, "Session %s: %s after %d steps\n", s.ID, s.Reason, len(s.Steps))
	if s.Error != "" {
		fmt.Fprintf(os.Stdout, "Error: %s\n", s.Error)
	}
}
