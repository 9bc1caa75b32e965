package agent

import (
	"time"

	"github.com/eatd/vl-desktop-agent/internal/geometry"
	"github.com/eatd/vl-desktop-agent/internal/recovery"
	"github.com/eatd/vl-desktop-agent/internal/safety"
)

// Options is the loop's configuration. It is copied at construction and
// never read from anywhere else.
type Options struct {
	MaxSteps int
	DryRun   bool
	// Settle is the delay between executing an action and re-capturing.
	Settle time.Duration
	// FrameTimeout bounds each wait for a frame; FrameRetries is how many
	// extra waits are made before the step fails.
	FrameTimeout time.Duration
	FrameRetries int
	// ActionTimeout bounds one injected action. A started action is never
	// cancelled by shutdown, only by this deadline.
	ActionTimeout time.Duration
	// ObserveEvery asks the model to describe the screen on the first step
	// and every ObserveEvery steps after, and whenever the run looks stuck.
	// Zero disables observation.
	ObserveEvery int
	Reference    geometry.Size
	Policy       safety.Policy
	Recovery     recovery.Options
	// SaveFrames writes the pre-action frame of every step to the trace.
	SaveFrames bool
	// Preview publishes a thumbnail of every pre-action frame.
	Preview      bool
	PreviewWidth int
	// UseTools declares the computer_action tool to the model.
	UseTools bool
	// Model is recorded in the session for later comparison.
	Model string
}

func DefaultOptions() Options {
	return Options{
		MaxSteps:      20,
		Settle:        time.Second,
		FrameTimeout:  5 * time.Second,
		FrameRetries:  2,
		ActionTimeout: 30 * time.Second,
		ObserveEvery:  3,
		Reference:     geometry.DefaultReference,
		Policy:        safety.DefaultPolicy(),
		Recovery:      recovery.DefaultOptions(),
		SaveFrames:    true,
		PreviewWidth:  480,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxSteps <= 0 {
		o.MaxSteps = def.MaxSteps
	}
	if o.FrameTimeout <= 0 {
		o.FrameTimeout = def.FrameTimeout
	}
	if o.FrameRetries < 0 {
		o.FrameRetries = 0
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = def.ActionTimeout
	}
	if o.ObserveEvery < 0 {
		o.ObserveEvery = 0
	}
	if !o.Reference.Valid() {
		o.Reference = def.Reference
	}
	if o.PreviewWidth <= 0 {
		o.PreviewWidth = def.PreviewWidth
	}
	return o
}
