// Package recovery detects runs of steps that had no visible effect and
// arms a one-shot directive that biases the next step.
package recovery

import (
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	// ModeHint injects a hint into the next prompt.
	ModeHint Mode = "hint"
	// ModeWait replaces the next model call with a forced wait.
	ModeWait Mode = "wait"
)

type Options struct {
	// NoEffect is the change score below which a step counts as having had no effect.
	NoEffect float64
	// StuckAfter is the number of consecutive no-effect steps that arms a directive.
	StuckAfter int
	Mode       Mode
	// Wait is the forced wait duration in ModeWait.
	Wait time.Duration
}

func DefaultOptions() Options {
	return Options{
		NoEffect:   2.0,
		StuckAfter: 3,
		Mode:       ModeHint,
		Wait:       2 * time.Second,
	}
}

// Directive is an armed recovery. Wait is zero in ModeHint.
type Directive struct {
	Hint string
	Wait time.Duration
}

// Manager is owned by a single loop goroutine and is not safe for concurrent use.
type Manager struct {
	opts    Options
	count   int
	failed  []string
	pending *Directive
}

func New(opts Options) *Manager {
	def := DefaultOptions()
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = def.StuckAfter
	}
	if opts.Mode == "" {
		opts.Mode = def.Mode
	}
	if opts.Mode == ModeWait && opts.Wait <= 0 {
		opts.Wait = def.Wait
	}
	return &Manager{opts: opts}
}

// Observe feeds one measured step. It returns true when this observation
// armed a directive; the counter is reset at that moment.
func (m *Manager) Observe(score float64, description string) bool {
	if score >= m.opts.NoEffect {
		m.count = 0
		m.failed = m.failed[:0]
		return false
	}
	m.count++
	m.failed = append(m.failed, description)
	if m.count < m.opts.StuckAfter {
		return false
	}

	d := Directive{Hint: hint(m.failed)}
	if m.opts.Mode == ModeWait {
		d.Wait = m.opts.Wait
	}
	m.pending = &d
	m.count = 0
	m.failed = m.failed[:0]
	return true
}

// Count is the current number of consecutive no-effect steps.
func (m *Manager) Count() int { return m.count }

// Pending returns the armed directive and clears it.
func (m *Manager) Pending() (Directive, bool) {
	if m.pending == nil {
		return Directive{}, false
	}
	d := *m.pending
	m.pending = nil
	return d, true
}

// Reset clears all state, for a new session.
func (m *Manager) Reset() {
	m.count = 0
	m.failed = m.failed[:0]
	m.pending = nil
}

func hint(failed []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The last %d actions had no visible effect on the screen:\n", len(failed))
	for i, f := range failed {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, f)
	}
	sb.WriteString("Reconsider your approach. The application may already be open or the target may need focus first. " +
		"Choose an action that is different from the ones above.")
	return sb.String()
}
