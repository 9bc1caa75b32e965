// Package capture keeps a continuously refreshed latest-frame slot.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eatd/vl-desktop-agent/internal/types"
)

var (
	// ErrNoFrame means no suitable frame arrived within the wait bound.
	ErrNoFrame = errors.New("no frame available")
	// ErrClosed means the source stopped and will not produce frames again.
	ErrClosed = errors.New("capture source closed")
)

// Grabber produces one screen image per call.
type Grabber interface {
	Grab(ctx context.Context) (image.Image, error)
}

type Options struct {
	Interval time.Duration
	// GrabTimeout bounds one Grab call.
	GrabTimeout time.Duration
	// MaxFailures consecutive grab errors close the source.
	MaxFailures int
}

func DefaultOptions() Options {
	return Options{
		Interval:    500 * time.Millisecond,
		GrabTimeout: 5 * time.Second,
		MaxFailures: 10,
	}
}

// Source publishes frames from a Grabber. The latest frame is an immutable
// snapshot swapped atomically; no lock is held while grabbing.
type Source struct {
	grabber Grabber
	opts    Options
	logger  *slog.Logger

	latest atomic.Pointer[types.Frame]
	seq    atomic.Uint64

	mu    sync.Mutex
	ready chan struct{}
	err   error
}

func NewSource(g Grabber, opts Options, logger *slog.Logger) *Source {
	d := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = d.Interval
	}
	if opts.GrabTimeout <= 0 {
		opts.GrabTimeout = d.GrabTimeout
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = d.MaxFailures
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		grabber: g,
		opts:    opts,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Run refreshes the slot at the configured interval until ctx is done or
// the grabber fails MaxFailures times in a row. Waiters are released with
// ErrClosed when Run returns.
func (s *Source) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := s.grabOnce(ctx); err != nil {
			if ctx.Err() != nil {
				s.close(ErrClosed)
				return nil
			}
			failures++
			s.logger.Warn("frame grab failed", "error", err, "consecutive", failures)
			if failures >= s.opts.MaxFailures {
				err = fmt.Errorf("%w: %d consecutive grab failures: %v", ErrClosed, failures, err)
				s.close(err)
				return err
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			s.close(ErrClosed)
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Source) grabOnce(ctx context.Context) error {
	gctx, cancel := context.WithTimeout(ctx, s.opts.GrabTimeout)
	defer cancel()

	start := time.Now()
	img, err := s.grabber.Grab(gctx)
	if err != nil {
		return err
	}
	s.Publish(img, start)
	return nil
}

// Publish stores img as the latest frame and wakes waiters.
func (s *Source) Publish(img image.Image, capturedAt time.Time) *types.Frame {
	f := &types.Frame{Image: img, CapturedAt: capturedAt, Seq: s.seq.Add(1)}
	s.latest.Store(f)

	s.mu.Lock()
	close(s.ready)
	s.ready = make(chan struct{})
	s.mu.Unlock()
	return f
}

func (s *Source) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = err
	close(s.ready)
	s.ready = make(chan struct{})
}

// Err reports why the source closed, or nil while it is live.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Latest returns the newest frame, waiting up to timeout for the first one.
func (s *Source) Latest(ctx context.Context, timeout time.Duration) (*types.Frame, error) {
	return s.After(ctx, time.Time{}, timeout)
}

// After returns the newest frame captured at or after t, waiting up to
// timeout for one to arrive.
func (s *Source) After(ctx context.Context, t time.Time, timeout time.Duration) (*types.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		ready, closedErr := s.ready, s.err
		s.mu.Unlock()

		if closedErr != nil {
			return nil, closedErr
		}
		if f := s.latest.Load(); f != nil && !f.CapturedAt.Before(t) {
			return f, nil
		}

		select {
		case <-ready:
		case <-timer.C:
			return nil, ErrNoFrame
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
