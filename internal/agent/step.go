package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eatd/vl-desktop-agent/internal/action"
	"github.com/eatd/vl-desktop-agent/internal/agenterr"
	"github.com/eatd/vl-desktop-agent/internal/capture"
	"github.com/eatd/vl-desktop-agent/internal/geometry"
	"github.com/eatd/vl-desktop-agent/internal/input"
	"github.com/eatd/vl-desktop-agent/internal/prompt"
	"github.com/eatd/vl-desktop-agent/internal/recovery"
	"github.com/eatd/vl-desktop-agent/internal/types"
	"github.com/eatd/vl-desktop-agent/internal/vision"
	"github.com/eatd/vl-desktop-agent/pkg/llm"
)

// stepper executes the steps of one run, strictly one at a time.
type stepper struct {
	l        *Loop
	r        *run
	logger   *slog.Logger
	recovery *recovery.Manager
	// previous is the pre-action JPEG of the last step that reached the model.
	previous []byte
	// screen is the latest observation; it is carried until the next one.
	screen string
}

func newStepper(l *Loop, r *run, logger *slog.Logger) *stepper {
	return &stepper{l: l, r: r, logger: logger, recovery: recovery.New(l.opts.Recovery)}
}

func isCritical(err error) bool { return agenterr.IsCritical(err) }

func messageFor(step int, err error) types.MessagePayload {
	p := types.MessagePayload{Step: step, Message: err.Error()}
	if e, ok := agenterr.As(err); ok {
		p.Category = string(e.Category)
		p.Severity = e.Severity.String()
		p.Hint = e.Hint
	}
	return p
}

// fail finalizes st as failed with a classified error and emits one event.
func (s *stepper) fail(st *types.Step, outcome types.Outcome, err error) error {
	st.Outcome = outcome
	st.Reason = err.Error()
	st.Category = agenterr.CategoryOf(err)
	typ := types.EventError
	if st.Category == agenterr.CategorySafety {
		typ = types.EventWarning
	}
	s.logger.Warn("step failed", "step", st.Number, "outcome", outcome, "error", err)
	s.l.publish(types.NewEvent(typ, s.r.session.ID, messageFor(st.Number, err)))
	return err
}

// step runs iteration n. done is true when an allowed Done action ended the run.
func (s *stepper) step(ctx context.Context, n int) (st types.Step, done bool, err error) {
	st = types.Step{Number: n, StartedAt: time.Now().UTC()}
	defer func() { st.Duration = time.Since(st.StartedAt) }()
	opts := s.l.opts

	// A started step runs to completion. Stop and cancellation are honoured
	// between steps; every wait below carries its own deadline.
	ctx = context.WithoutCancel(ctx)

	frame, err := s.acquire(ctx)
	if err != nil {
		return st, false, s.fail(&st, types.OutcomeExecutionFailed, err)
	}
	mapper, err := geometry.NewMapper(opts.Reference, frame.Size())
	if err != nil {
		return st, false, s.fail(&st, types.OutcomeExecutionFailed, agenterr.Execution("map", err))
	}
	s.r.session.Screen = mapper.Screen

	current, err := vision.EncodeJPEG(frame.Image, 0)
	if err != nil {
		return st, false, s.fail(&st, types.OutcomeExecutionFailed, agenterr.Execution("encode frame", err))
	}
	s.saveFrame(&st, current)
	s.preview(n, frame)

	directive, armed := s.recovery.Pending()
	if armed {
		st.Hint = directive.Hint
		if directive.Wait > 0 {
			return s.forcedWait(ctx, st, frame, directive)
		}
	}

	history := s.history()
	if s.observeDue(n, history, armed) {
		s.observe(ctx, n, current)
	}
	st.Observation = s.screen

	msgs, err := s.l.deps.Prompts.Build(prompt.Input{
		Goal:        s.r.session.Goal,
		Step:        n,
		MaxSteps:    s.r.maxSteps,
		History:     history,
		Hint:        st.Hint,
		ScreenState: s.screen,
		Current:     current,
		Previous:    s.previous,
	})
	if err != nil {
		return st, false, s.fail(&st, types.OutcomeExecutionFailed, agenterr.Critical(agenterr.Execution("build prompt", err)))
	}
	s.previous = current

	var tools []llm.Tool
	if opts.UseTools {
		tools = prompt.Tools()
	}
	resp, err := s.l.deps.Model.Complete(ctx, msgs, tools)
	if err != nil {
		if _, ok := agenterr.As(err); !ok {
			err = agenterr.Model("complete", err, false)
		}
		return st, false, s.fail(&st, types.OutcomeModelFailed, err)
	}
	st.Raw = rawOf(resp)

	a, err := s.l.deps.Parser.Parse(resp)
	if err != nil {
		return st, false, s.fail(&st, types.OutcomeParseFailed, agenterr.Parsing("parse response", err))
	}
	st.Action = a

	verdict := s.r.validator.Validate(a, mapper)
	st.Warnings = verdict.Warnings
	for _, w := range verdict.Warnings {
		s.l.publish(types.NewEvent(types.EventWarning, s.r.session.ID, types.MessagePayload{Step: n, Message: w}))
	}
	mapped := mapper.MapAction(a)
	plan := input.Plan(mapped)
	st.Targets = plan.Targets
	if !verdict.Allowed {
		err := s.fail(&st, types.OutcomeBlocked, agenterr.Safety("validate", errors.New(verdict.Reason)))
		st.Reason = verdict.Reason
		s.publishAction(st, plan)
		return st, false, err
	}

	_, isDone := a.(action.Done)
	actedAt := time.Now()
	switch {
	case s.r.dryRun:
		st.Outcome = types.OutcomeDryRun
	case isDone:
		st.Outcome = types.OutcomeExecuted
	default:
		if err := s.act(ctx, mapped); err != nil {
			err = s.fail(&st, types.OutcomeExecutionFailed, agenterr.Execution("execute", err))
			s.publishAction(st, plan)
			return st, false, err
		}
		st.Outcome = types.OutcomeExecuted
	}
	s.publishAction(st, plan)
	if isDone {
		return st, true, nil
	}

	if err := s.verify(ctx, &st, frame, actedAt); err != nil {
		return st, false, err
	}
	if _, isWait := a.(action.Wait); !isWait && st.Measured {
		if s.recovery.Observe(st.Score, action.Describe(a)) {
			s.logger.Info("no visible effect, recovery armed", "step", n, "mode", opts.Recovery.Mode)
			s.l.log(s.r.session.ID, n, "recent actions had no visible effect; recovery armed for the next step")
		}
	}
	return st, false, nil
}

// acquire waits for the latest frame, retrying a bounded number of times.
// A closed source is CRITICAL.
func (s *stepper) acquire(ctx context.Context) (*types.Frame, error) {
	var err error
	for attempt := 0; attempt <= s.l.opts.FrameRetries; attempt++ {
		var f *types.Frame
		f, err = s.l.deps.Frames.Latest(ctx, s.l.opts.FrameTimeout)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, capture.ErrNoFrame) {
			break
		}
		s.logger.Debug("no frame yet", "attempt", attempt+1, "error", err)
	}
	e := agenterr.Execution("capture", err)
	if errors.Is(err, capture.ErrClosed) {
		return nil, agenterr.Critical(e)
	}
	return nil, e
}

// act injects a under ActionTimeout.
func (s *stepper) act(ctx context.Context, a action.Action) error {
	ctx, cancel := context.WithTimeout(ctx, s.l.opts.ActionTimeout)
	defer cancel()
	_, err := s.l.deps.Executor.Execute(ctx, a)
	return err
}

func (s *stepper) observeDue(n int, history []prompt.Entry, armed bool) bool {
	every := s.l.opts.ObserveEvery
	if every <= 0 {
		return false
	}
	return (n-1)%every == 0 || armed || prompt.Stuck(history)
}

// observe asks the model to describe the screen. A failed observation
// clears the carried description and the step goes on without one.
func (s *stepper) observe(ctx context.Context, n int, current []byte) {
	msgs, err := s.l.deps.Prompts.Observe(s.r.session.Goal, current)
	var resp *llm.Response
	if err == nil {
		resp, err = s.l.deps.Model.Complete(ctx, msgs, nil)
	}
	if err != nil {
		s.screen = ""
		s.logger.Warn("observation failed", "step", n, "error", err)
		s.l.publish(types.NewEvent(types.EventWarning, s.r.session.ID,
			types.MessagePayload{Step: n, Message: "observation failed: " + err.Error()}))
		return
	}
	s.screen = strings.TrimSpace(resp.Content)
	if r := []rune(s.screen); len(r) > maxObservation {
		s.screen = string(r[:maxObservation])
	}
	summary := s.screen
	if r := []rune(summary); len(r) > 80 {
		summary = string(r[:80]) + "..."
	}
	s.logger.Debug("screen observed", "step", n, "state", summary)
	s.l.log(s.r.session.ID, n, "observed: "+summary)
}

const maxObservation = 1000

// verify waits for the display to settle, re-captures and scores the change.
// A missing post-action frame leaves the step executed but unmeasured and is
// reported as a capture error.
func (s *stepper) verify(ctx context.Context, st *types.Step, before *types.Frame, actedAt time.Time) error {
	if d := s.l.opts.Settle; d > 0 {
		time.Sleep(d)
	}
	after, err := s.l.deps.Frames.After(ctx, actedAt, s.l.opts.FrameTimeout)
	if err != nil {
		e := agenterr.Execution("capture", err)
		if errors.Is(err, capture.ErrClosed) {
			return agenterr.Critical(e)
		}
		st.Reason = e.Error()
		st.Category = e.Category
		s.logger.Warn("post-action frame unavailable", "step", st.Number, "error", err)
		s.l.publish(types.NewEvent(types.EventError, s.r.session.ID, messageFor(st.Number, e)))
		return nil
	}
	st.Score = s.l.deps.Detector.Score(before.Image, after.Image)
	st.Measured = true
	return nil
}

// forcedWait replaces the model call with a wait when recovery runs in wait mode.
func (s *stepper) forcedWait(ctx context.Context, st types.Step, frame *types.Frame, d recovery.Directive) (types.Step, bool, error) {
	a := action.Wait{Meta: action.Meta{Rationale: "recovery: no visible effect", Confidence: 1}, Duration: d.Wait}
	st.Action = a
	st.Outcome = types.OutcomeRecoveryInjected
	actedAt := time.Now()
	if err := s.act(ctx, a); err != nil {
		return st, false, s.fail(&st, types.OutcomeExecutionFailed, agenterr.Execution("execute", err))
	}
	s.publishAction(st, input.Plan(a))
	err := s.verify(ctx, &st, frame, actedAt)
	return st, false, err
}

func (s *stepper) history() []prompt.Entry {
	steps := s.r.session.Steps
	out := make([]prompt.Entry, 0, len(steps))
	for _, st := range steps {
		out = append(out, prompt.EntryFor(st, s.l.opts.Recovery.NoEffect))
	}
	return out
}

func (s *stepper) saveFrame(st *types.Step, jpeg []byte) {
	if !s.l.opts.SaveFrames || s.l.deps.Trace == nil {
		return
	}
	name, err := s.l.deps.Trace.SaveFrame(s.r.session.ID, st.Number, jpeg)
	if err != nil {
		s.logger.Warn("save frame", "step", st.Number, "error", err)
		return
	}
	st.Frame = name
}

func (s *stepper) preview(n int, frame *types.Frame) {
	if !s.l.opts.Preview {
		return
	}
	thumb, err := vision.Thumbnail(frame.Image, s.l.opts.PreviewWidth)
	if err != nil {
		return
	}
	s.l.publish(types.NewEvent(types.EventPreview, s.r.session.ID, types.PreviewPayload{Step: n, MIME: "image/jpeg", Image: thumb}))
}

func (s *stepper) publishAction(st types.Step, plan input.Result) {
	if st.Action == nil {
		return
	}
	meta := st.Action.Info()
	p := types.ActionPayload{
		Step:        st.Number,
		Kind:        string(st.Action.Kind()),
		Description: plan.Description,
		Outcome:     st.Outcome,
		Rationale:   meta.Rationale,
		Confidence:  meta.Confidence,
	}
	for _, t := range plan.Targets {
		p.Targets = append(p.Targets, types.ActionTarget{X: t.X, Y: t.Y})
	}
	s.l.publish(types.NewEvent(types.EventAction, s.r.session.ID, p))
}

func rawOf(resp *llm.Response) string {
	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		return fmt.Sprintf("%s(%s)", tc.Function.Name, tc.Function.Arguments)
	}
	return resp.Content
}
