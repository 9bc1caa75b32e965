// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/eatd/vl-desktop-agent/internal/agent"
	"github.com/eatd/vl-desktop-agent/internal/state"
	"github.com/eatd/vl-desktop-agent/internal/types"
)

// Handler is the callback invoked when a scheduled task fires.
type Handler func(task state.Task)

// Starter begins a run in the background.
type Starter interface {
	Start(ctx context.Context, req agent.Request) (types.SessionID, error)
}

// Scheduler evaluates cron expressions from the task store and fires tasks
// through a handler callback.
type Scheduler struct {
	store   *state.TaskStore
	handler Handler
	logger  *slog.Logger
	cron    *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidSchedule reports whether expr parses as a cron schedule.
func ValidSchedule(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// New creates a new Scheduler backed by the given task store. The handler is
// called each time a scheduled task fires.
func New(store *state.TaskStore, handler Handler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		handler: handler,
		logger:  logger,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
}

// StartRun returns a Handler that starts the task's goal on s. A task that
// fires while a run is active is skipped, not queued.
func StartRun(ctx context.Context, s Starter, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(task state.Task) {
		id, err := s.Start(ctx, agent.Request{Goal: task.Goal, MaxSteps: task.MaxSteps})
		switch {
		case errors.Is(err, agent.ErrAlreadyRunning):
			logger.Info("skipping scheduled task, run in progress", "name", task.Name)
		case err != nil:
			logger.Error("scheduled task failed to start", "name", task.Name, "error", err)
		default:
			logger.Info("scheduled task started", "name", task.Name, "session_id", id)
		}
	}
}

// Start loads tasks from the store, registers enabled tasks that have a
// schedule as cron entries, and starts the cron ticker.
func (s *Scheduler) Start() error {
	tasks, err := s.store.List()
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if task.Schedule == "" || !task.Enabled {
			continue
		}

		t := *task
		_, err := s.cron.AddFunc(t.Schedule, func() {
			s.logger.Info("cron firing task", "name", t.Name)
			s.handler(t)
		})
		if err != nil {
			s.logger.Error("invalid cron schedule", "name", t.Name, "schedule", t.Schedule, "error", err)
			continue
		}
		s.logger.Info("scheduled task", "name", t.Name, "schedule", t.Schedule)
	}

	s.cron.Start()
	return nil
}

// Entries is the number of registered schedules.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	<-s.cron.Stop().Done()
	s.cron = cron.New(cron.WithParser(cronParser))
	return s.Start()
}

// Stop stops the cron ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Run starts the scheduler and stops it when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}
