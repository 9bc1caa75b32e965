package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eatd/vl-desktop-agent/internal/bench"
)

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.AddCommand(benchListCmd)
	benchCmd.Flags().StringSlice("task", nil, "benchmark task id to run (repeatable, default all)")
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the benchmark task suite",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger, logCloser := setupLogging(cfg)
		defer logCloser.Close()

		ids, _ := cmd.Flags().GetStringSlice("task")
		tasks, err := bench.Find(bench.DefaultTasks, ids...)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		runner := bench.NewRunner(a.loop, benchStore(cfg), logger.With("component", "bench"))
		var run *bench.Run
		var runErr error
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		rt := a.runtime()
		rt.Go("bench", func(ctx context.Context) error {
			defer cancel()
			run, runErr = runner.Run(ctx, tasks)
			return nil
		})
		if err := rt.Run(ctx); err != nil {
			return err
		}
		if run != nil {
			printRun(run)
		}
		if errors.Is(runErr, context.Canceled) {
			fmt.Println("Benchmark interrupted; partial results saved.")
			return nil
		}
		return runErr
	},
}

var benchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved benchmark runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := benchStore(loadConfig()).List()
		if err != nil {
			return fmt.Errorf("list benchmark runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No benchmark runs found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tTASKS\tSUCCESS\tAVG STEPS")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%d\t%.0f%%\t%.1f\n", r.ID, len(r.Results), r.SuccessRate()*100, r.AvgSteps())
		}
		return w.Flush()
	},
}

func printRun(run *bench.Run) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tRESULT\tSTEPS\tSECONDS\tSTATUS")
	for _, r := range run.Results {
		result := "FAIL"
		if r.Success {
			result = "OK"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%s\n", r.TaskID, result, r.Steps, r.Seconds, r.Status)
	}
	w.Flush()
	fmt.Printf("\nRun %s: %.0f%% success, %.1f average steps\n", run.ID, run.SuccessRate()*100, run.AvgSteps())
}
