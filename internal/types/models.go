// internal/types/models.go
package types

import (
	"encoding/json"
	"fmt"
	"image"
	"time"

	"github.com/eatd/vl-desktop-agent/internal/action"
	"github.com/eatd/vl-desktop-agent/internal/agenterr"
	"github.com/eatd/vl-desktop-agent/internal/geometry"
)

// Frame is an immutable captured screen image. Once published it is shared
// read-only between the capture source, the change detector and the trace.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
	Seq        uint64
}

func (f *Frame) Size() geometry.Size {
	b := f.Image.Bounds()
	return geometry.Size{W: b.Dx(), H: b.Dy()}
}

type RunState string

const (
	StateIdle     RunState = "idle"
	StateRunning  RunState = "running"
	StateStopping RunState = "stopping"
	StateStopped  RunState = "stopped"
	StateFailed   RunState = "failed"
)

type Outcome string

const (
	OutcomeExecuted         Outcome = "executed"
	OutcomeDryRun           Outcome = "executed (dry-run)"
	OutcomeBlocked          Outcome = "blocked"
	OutcomeParseFailed      Outcome = "parse-failed"
	OutcomeModelFailed      Outcome = "model-failed"
	OutcomeExecutionFailed  Outcome = "execution-failed"
	OutcomeRecoveryInjected Outcome = "recovery-injected"
)

// Ran reports whether the step's action was dispatched, or would have been in dry-run.
func (o Outcome) Ran() bool {
	return o == OutcomeExecuted || o == OutcomeDryRun || o == OutcomeRecoveryInjected
}

type Termination string

const (
	TerminationCompleted Termination = "completed"
	TerminationBudget    Termination = "budget-exhausted"
	TerminationCancelled Termination = "cancelled"
	TerminationFailed    Termination = "failed"
)

// Step is one finalized loop iteration.
type Step struct {
	Number   int
	Action   action.Action
	Raw      string
	Outcome  Outcome
	Reason   string
	Category agenterr.Category
	// Score is the post-action change percentage; Measured is false when no
	// re-capture happened (blocked, failed, Done).
	Score    float64
	Measured bool
	Targets  []action.Point
	Warnings []string
	Frame    string
	Hint     string
	// Observation is the screen description the action prompt carried.
	Observation string
	StartedAt   time.Time
	Duration    time.Duration
}

type stepJSON struct {
	Number     int               `json:"step"`
	Action     *action.Fields    `json:"action,omitempty"`
	Raw        string            `json:"raw_response,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	Category   agenterr.Category `json:"category,omitempty"`
	Score      float64           `json:"change_score"`
	Measured   bool              `json:"measured"`
	Targets    []action.Point    `json:"targets,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
	Frame      string            `json:"frame,omitempty"`
	Hint       string            `json:"recovery_hint,omitempty"`
	Observed   string            `json:"observation,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMS int64             `json:"duration_ms"`
}

func (s Step) MarshalJSON() ([]byte, error) {
	j := stepJSON{
		Number:     s.Number,
		Raw:        s.Raw,
		Outcome:    s.Outcome,
		Reason:     s.Reason,
		Category:   s.Category,
		Score:      s.Score,
		Measured:   s.Measured,
		Targets:    s.Targets,
		Warnings:   s.Warnings,
		Frame:      s.Frame,
		Hint:       s.Hint,
		Observed:   s.Observation,
		StartedAt:  s.StartedAt,
		DurationMS: s.Duration.Milliseconds(),
	}
	if s.Action != nil {
		f := action.ToFields(s.Action)
		j.Action = &f
	}
	return json.Marshal(j)
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var j stepJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*s = Step{
		Number:      j.Number,
		Raw:         j.Raw,
		Outcome:     j.Outcome,
		Reason:      j.Reason,
		Category:    j.Category,
		Score:       j.Score,
		Measured:    j.Measured,
		Targets:     j.Targets,
		Warnings:    j.Warnings,
		Frame:       j.Frame,
		Hint:        j.Hint,
		Observation: j.Observed,
		StartedAt:   j.StartedAt,
		Duration:    time.Duration(j.DurationMS) * time.Millisecond,
	}
	if j.Action != nil {
		a, err := action.Build(*j.Action)
		if err != nil {
			return fmt.Errorf("step %d: %w", j.Number, err)
		}
		s.Action = a
	}
	return nil
}

// Session is one run of a goal. It is owned by the loop while running and
// immutable once EndedAt is set.
type Session struct {
	ID        SessionID     `json:"id"`
	Goal      string        `json:"goal"`
	Completed bool          `json:"completed"`
	Reason    Termination   `json:"termination,omitempty"`
	Error     string        `json:"error,omitempty"`
	DryRun    bool          `json:"dry_run"`
	Model     string        `json:"model,omitempty"`
	Screen    geometry.Size `json:"screen"`
	Reference geometry.Size `json:"reference"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	StepCount int           `json:"total_steps"`
	Steps     []Step        `json:"steps"`
}

// Clone returns a copy that shares no slices with s.
func (s *Session) Clone() *Session {
	c := *s
	c.Steps = append([]Step(nil), s.Steps...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// SessionInfo is the listing form of a persisted session.
type SessionInfo struct {
	ID        SessionID   `json:"id"`
	Goal      string      `json:"goal"`
	Completed bool        `json:"completed"`
	Reason    Termination `json:"termination,omitempty"`
	StepCount int         `json:"total_steps"`
	StartedAt time.Time   `json:"started_at"`
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		Goal:      s.Goal,
		Completed: s.Completed,
		Reason:    s.Reason,
		StepCount: s.StepCount,
		StartedAt: s.StartedAt,
	}
}

// Status is a consistent snapshot of the loop's run state.
type Status struct {
	State     RunState     `json:"state"`
	SessionID SessionID    `json:"session_id,omitempty"`
	Goal      string       `json:"goal,omitempty"`
	Step      int          `json:"step"`
	MaxSteps  int          `json:"max_steps"`
	DryRun    bool         `json:"dry_run"`
	Reason    Termination  `json:"termination,omitempty"`
	Error     string       `json:"error,omitempty"`
	Latency   LatencyStats `json:"model_latency"`
	Dropped   uint64       `json:"events_dropped"`
}

// LatencyStats aggregates model invocation latency.
type LatencyStats struct {
	Count  int64   `json:"count"`
	Errors int64   `json:"errors"`
	MeanMS float64 `json:"mean_ms"`
	MaxMS  float64 `json:"max_ms"`
}
