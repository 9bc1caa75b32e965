package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eatd/vl-desktop-agent/internal/config"
	"github.com/eatd/vl-desktop-agent/internal/events"
	"github.com/eatd/vl-desktop-agent/internal/scheduler"
	"github.com/eatd/vl-desktop-agent/internal/server"
	"github.com/eatd/vl-desktop-agent/internal/telegram"
	"github.com/eatd/vl-desktop-agent/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "vlagent.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger, logCloser := setupLogging(cfg)
	defer logCloser.Close()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	rt := a.runtime()
	tasks := taskStore(cfg)

	hub := events.NewHub(logger.With("component", "hub"))
	hub.Snapshot = func() types.Event {
		st := a.loop.Status()
		return types.NewEvent(types.EventStatus, st.SessionID, st)
	}
	a.bus.Subscribe(hub)
	defer hub.Close()

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChatID, a.loop, tasks, logger.With("component", "telegram"))
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		a.bus.Subscribe(adapter)
		rt.Go("telegram", adapter.Run)
		logger.Info("telegram adapter started")
	} else {
		logger.Warn("telegram adapter disabled (no token)")
	}

	sched := scheduler.New(tasks, scheduler.StartRun(ctx, a.loop, logger), logger.With("component", "scheduler"))
	rt.Go("scheduler", sched.Run)

	api := server.New(ctx, server.Deps{
		Agent:      a.loop,
		Traces:     a.traces,
		Tasks:      tasks,
		Benchmarks: benchStore(cfg),
		Events:     hub,
		Settings:   config.File{Path: cfgPath},
		Logger:     logger.With("component", "server"),
	})
	rt.Serve(&http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	})

	logger.Info("vlagent started",
		"data_dir", cfg.DataDir,
		"trace_dir", cfg.TracePath(),
		"listen", cfg.Server.Addr,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"dry_run", cfg.Agent.DryRun,
		"pid_file", pidFile,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case err := <-errCh:
			return err
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, restarting")
				cancel()
				if err := <-errCh; err != nil {
					logger.Error("shutdown before restart failed", "error", err)
				}
				return reexec(cfg, logger, pidFile)
			}
			logger.Info("shutting down", "signal", sig)
			cancel()
			return <-errCh
		}
	}
}

// reexec replaces the process with a fresh copy of itself. Activities are
// already stopped so the listen address is free.
func reexec(cfg *config.Config, logger *slog.Logger, pidFile string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}
	os.Remove(pidFile)
	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
		if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
			logger.Error("failed to re-write PID file", "error", writeErr)
		}
		return fmt.Errorf("re-exec: %w", err)
	}
	return nil
}
