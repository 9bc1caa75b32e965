// Package agent drives the observe, infer, validate, act and verify cycle.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eatd/vl-desktop-agent/internal/input"
	"github.com/eatd/vl-desktop-agent/internal/parse"
	"github.com/eatd/vl-desktop-agent/internal/prompt"
	"github.com/eatd/vl-desktop-agent/internal/safety"
	"github.com/eatd/vl-desktop-agent/internal/types"
	"github.com/eatd/vl-desktop-agent/internal/vision"
	"github.com/eatd/vl-desktop-agent/pkg/llm"
)

var (
	ErrAlreadyRunning = errors.New("agent already running")
	ErrNotRunning     = errors.New("agent not running")
	ErrEmptyGoal      = errors.New("goal is empty")
)

// FrameSource provides captured frames.
type FrameSource interface {
	Latest(ctx context.Context, timeout time.Duration) (*types.Frame, error)
	After(ctx context.Context, t time.Time, timeout time.Duration) (*types.Frame, error)
}

// ModelClient invokes the inference service with its own timeout and retries.
type ModelClient interface {
	Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error)
}

// Deps are the loop's collaborators. Trace and Events may be nil.
type Deps struct {
	Frames   FrameSource
	Model    ModelClient
	Prompts  *prompt.Builder
	Parser   *parse.Parser
	Executor *input.Executor
	Detector *vision.ChangeDetector
	Trace    types.TraceStore
	Events   types.Publisher
	Logger   *slog.Logger
}

// Request starts one run. MaxSteps and DryRun override the loop options
// when set.
type Request struct {
	Goal     string
	MaxSteps int
	DryRun   *bool
}

type discard struct{}

func (discard) Publish(types.Event) {}

// Loop owns run state. Runs never overlap; Start and Run reject a second
// run while one is active.
type Loop struct {
	deps Deps
	opts Options

	mu      sync.Mutex
	status  types.Status
	session *types.Session
	done    chan struct{}
}

func New(deps Deps, opts Options) (*Loop, error) {
	switch {
	case deps.Frames == nil:
		return nil, errors.New("agent: frame source is required")
	case deps.Model == nil:
		return nil, errors.New("agent: model client is required")
	case deps.Prompts == nil:
		return nil, errors.New("agent: prompt builder is required")
	case deps.Executor == nil:
		return nil, errors.New("agent: executor is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Parser == nil {
		deps.Parser = parse.New(deps.Logger)
	}
	if deps.Detector == nil {
		deps.Detector = vision.NewChangeDetector()
	}
	if deps.Events == nil {
		deps.Events = discard{}
	}
	opts = opts.withDefaults()
	l := &Loop{deps: deps, opts: opts}
	l.status = types.Status{State: types.StateIdle, MaxSteps: opts.MaxSteps, DryRun: opts.DryRun}
	return l, nil
}

func (l *Loop) Options() Options { return l.opts }

type latencyReporter interface{ Stats() types.LatencyStats }
type dropCounter interface{ Dropped() uint64 }

// Status returns a consistent snapshot of the run state.
func (l *Loop) Status() types.Status {
	l.mu.Lock()
	st := l.status
	l.mu.Unlock()
	if r, ok := l.deps.Model.(latencyReporter); ok {
		st.Latency = r.Stats()
	}
	if d, ok := l.deps.Events.(dropCounter); ok {
		st.Dropped = d.Dropped()
	}
	return st
}

// Session returns a copy of the current or most recent session, or nil.
func (l *Loop) Session() *types.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return nil
	}
	return l.session.Clone()
}

// Start begins a run in the background and returns its session id.
func (l *Loop) Start(ctx context.Context, req Request) (types.SessionID, error) {
	r, err := l.begin(req)
	if err != nil {
		return "", err
	}
	go l.execute(ctx, r)
	return r.session.ID, nil
}

// Run executes a run to completion and returns the finalized session.
func (l *Loop) Run(ctx context.Context, req Request) (*types.Session, error) {
	r, err := l.begin(req)
	if err != nil {
		return nil, err
	}
	l.execute(ctx, r)
	s := l.Session()
	if s.Reason == types.TerminationFailed {
		return s, fmt.Errorf("run failed: %s", s.Error)
	}
	return s, nil
}

// Stop requests a cooperative stop. It takes effect at the next step boundary.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if l.status.State != types.StateRunning {
		l.mu.Unlock()
		return ErrNotRunning
	}
	l.status.State = types.StateStopping
	l.mu.Unlock()
	l.publishStatus()
	return nil
}

// Wait blocks until the current run, if any, has finished.
func (l *Loop) Wait(ctx context.Context) error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) stopRequested() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status.State == types.StateStopping
}

// run is the loop-private state of one session.
type run struct {
	session   *types.Session
	maxSteps  int
	dryRun    bool
	validator *safety.Validator
	done      chan struct{}
}

func (l *Loop) begin(req Request) (*run, error) {
	if req.Goal == "" {
		return nil, ErrEmptyGoal
	}
	l.mu.Lock()
	if l.status.State == types.StateRunning || l.status.State == types.StateStopping {
		l.mu.Unlock()
		return nil, ErrAlreadyRunning
	}

	now := time.Now().UTC()
	r := &run{
		maxSteps: l.opts.MaxSteps,
		dryRun:   l.opts.DryRun,
		done:     make(chan struct{}),
	}
	if req.MaxSteps > 0 {
		r.maxSteps = req.MaxSteps
	}
	if req.DryRun != nil {
		r.dryRun = *req.DryRun
	}
	r.session = &types.Session{
		ID:        types.NewSessionID(now),
		Goal:      req.Goal,
		DryRun:    r.dryRun,
		Model:     l.opts.Model,
		Reference: l.opts.Reference,
		StartedAt: now,
		Steps:     []types.Step{},
	}
	l.session = r.session.Clone()
	l.done = r.done
	l.status = types.Status{
		State:     types.StateRunning,
		SessionID: r.session.ID,
		Goal:      req.Goal,
		MaxSteps:  r.maxSteps,
		DryRun:    r.dryRun,
	}

	v, err := safety.New(l.opts.Policy)
	if err != nil {
		l.mu.Unlock()
		l.finish(r, types.TerminationFailed, err)
		return nil, err
	}
	r.validator = v
	l.mu.Unlock()
	return r, nil
}

func (l *Loop) execute(ctx context.Context, r *run) {
	s := r.session
	logger := l.deps.Logger.With("session_id", s.ID)
	logger.Info("run started", "goal", s.Goal, "max_steps", r.maxSteps, "dry_run", r.dryRun)
	l.publishStatus()
	l.log(s.ID, 0, fmt.Sprintf("run started: %s", s.Goal))

	st := newStepper(l, r, logger)
	reason := types.TerminationBudget
	var runErr error
	for n := 1; ; n++ {
		if l.stopRequested() || ctx.Err() != nil {
			reason = types.TerminationCancelled
			break
		}
		if n > r.maxSteps {
			break
		}

		step, done, err := st.step(ctx, n)
		s.Steps = append(s.Steps, step)
		s.StepCount = len(s.Steps)
		l.record(r, step)

		if err != nil && isCritical(err) {
			reason, runErr = types.TerminationFailed, err
			break
		}
		if done {
			s.Completed = true
			reason = types.TerminationCompleted
			break
		}
	}
	l.finish(r, reason, runErr)
	logger.Info("run finished", "termination", reason, "steps", s.StepCount, "completed", s.Completed)
}

// record persists a finalized step before the next one begins and publishes it.
func (l *Loop) record(r *run, step types.Step) {
	s := r.session
	if l.deps.Trace != nil {
		if err := l.deps.Trace.Save(s); err != nil {
			l.deps.Logger.Error("save trace", "session_id", s.ID, "step", step.Number, "error", err)
			l.publish(types.NewEvent(types.EventError, s.ID, types.MessagePayload{
				Step:    step.Number,
				Message: fmt.Sprintf("save trace: %v", err),
			}))
		}
	}
	l.mu.Lock()
	l.session = s.Clone()
	l.status.Step = step.Number
	l.mu.Unlock()
	l.publish(types.NewEvent(types.EventStep, s.ID, step))
}

func (l *Loop) finish(r *run, reason types.Termination, err error) {
	s := r.session
	end := time.Now().UTC()
	s.EndedAt = &end
	s.Reason = reason
	state := types.StateStopped
	if reason == types.TerminationFailed {
		state = types.StateFailed
		if err != nil {
			s.Error = err.Error()
		}
	}
	if l.deps.Trace != nil {
		if saveErr := l.deps.Trace.Save(s); saveErr != nil {
			l.deps.Logger.Error("save trace", "session_id", s.ID, "error", saveErr)
		}
	}

	l.mu.Lock()
	l.session = s.Clone()
	l.status.State = state
	l.status.Reason = reason
	l.status.Error = s.Error
	close(r.done)
	l.mu.Unlock()

	if err != nil {
		l.publish(types.NewEvent(types.EventError, s.ID, messageFor(0, err)))
	}
	l.publishStatus()
}

func (l *Loop) publish(ev types.Event) { l.deps.Events.Publish(ev) }

func (l *Loop) publishStatus() {
	st := l.Status()
	l.publish(types.NewEvent(types.EventStatus, st.SessionID, st))
}

func (l *Loop) log(id types.SessionID, step int, msg string) {
	l.publish(types.NewEvent(types.EventLog, id, types.MessagePayload{Step: step, Message: msg}))
}
