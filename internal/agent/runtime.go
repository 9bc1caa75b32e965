package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Activity is a long-lived task that returns when ctx is done.
type Activity func(ctx context.Context) error

// Runtime runs the concurrent activities around a Loop (capture, event
// publication, presentation servers) and stops the loop on shutdown.
type Runtime struct {
	loop       *Loop
	logger     *slog.Logger
	activities []namedActivity
	// StopTimeout bounds how long shutdown waits for the in-flight step.
	StopTimeout time.Duration
}

type namedActivity struct {
	name string
	fn   Activity
}

func NewRuntime(loop *Loop, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{loop: loop, logger: logger, StopTimeout: 30 * time.Second}
}

// Go registers an activity. Must be called before Run.
func (r *Runtime) Go(name string, fn Activity) {
	r.activities = append(r.activities, namedActivity{name: name, fn: fn})
}

// Serve registers an HTTP server that shuts down gracefully with the runtime.
func (r *Runtime) Serve(srv *http.Server) {
	r.Go("http", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	})
}

// Run starts every activity and blocks until ctx is done or one fails.
// An in-flight run is asked to stop and given StopTimeout to finish its step.
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range r.activities {
		a := a
		g.Go(func() error {
			r.logger.Debug("activity started", "activity", a.name)
			if err := a.fn(gctx); err != nil {
				r.logger.Error("activity failed", "activity", a.name, "error", err)
				return fmt.Errorf("%s: %w", a.name, err)
			}
			r.logger.Debug("activity stopped", "activity", a.name)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if r.loop == nil {
			return nil
		}
		if err := r.loop.Stop(); err == nil {
			r.logger.Info("stopping active run")
		}
		waitCtx, cancel := context.WithTimeout(context.Background(), r.StopTimeout)
		defer cancel()
		if err := r.loop.Wait(waitCtx); err != nil {
			r.logger.Warn("run did not stop in time", "error", err)
		}
		return nil
	})
	return g.Wait()
}
