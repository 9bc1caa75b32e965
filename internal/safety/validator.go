package safety

import (
	"fmt"
	"strings"

	"github.com/eatd/vl-desktop-agent/internal/action"
	"github.com/eatd/vl-desktop-agent/internal/geometry"
)

// Check names a validator rule.
type Check string

const (
	CheckHotkey     Check = "hotkey"
	CheckText       Check = "text"
	CheckBounds     Check = "bounds"
	CheckConfidence Check = "confidence"
	CheckRationale  Check = "rationale"
)

// Violation is one failed check.
type Violation struct {
	Check  Check  `json:"check"`
	Reason string `json:"reason"`
}

// Verdict is the result of validating one action. Reason reports the first
// violation in check order; all violations are kept.
type Verdict struct {
	Allowed    bool        `json:"allowed"`
	Reason     string      `json:"reason,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// Validator evaluates actions against a compiled Policy. It holds no
// mutable state and is safe for concurrent use.
type Validator struct {
	policy Policy
	c      compiled
}

// New compiles p. A policy that does not compile is a misconfiguration.
func New(p Policy) (*Validator, error) {
	c, err := compile(p)
	if err != nil {
		return nil, fmt.Errorf("compile safety policy: %w", err)
	}
	return &Validator{policy: p, c: c}, nil
}

func (v *Validator) Policy() Policy { return v.policy }

// Validate checks a, whose coordinates are still in reference space, against
// the screen described by m. Bounds use the same projection the mapper uses,
// so a point that passes here is never altered by the mapper's clamp.
func (v *Validator) Validate(a action.Action, m geometry.Mapper) Verdict {
	var verdict Verdict
	deny := func(check Check, format string, args ...any) {
		verdict.Violations = append(verdict.Violations, Violation{Check: check, Reason: fmt.Sprintf(format, args...)})
	}

	var s subject
	_ = a.Accept(&s)

	if len(s.keys) > 0 {
		pressed := comboKeys(s.keys)
		if hk, blocked := v.c.blocked(pressed); blocked {
			deny(CheckHotkey, "hotkey %s is blocked (%s)", strings.Join(pressed, "+"), hk.orig)
		}
	}

	if s.hasText {
		for _, pat := range v.c.patterns {
			if pat.re.MatchString(s.text) {
				deny(CheckText, "text matches dangerous pattern %q", pat.src)
				break
			}
		}
		if v.policy.MaxTextLength > 0 && len(s.text) > v.policy.MaxTextLength {
			deny(CheckText, "text length %d exceeds %d", len(s.text), v.policy.MaxTextLength)
		}
	}

	for _, p := range action.Points(a) {
		sp := m.Project(p)
		if !m.Contains(sp) {
			deny(CheckBounds, "coordinate (%d, %d) maps to (%d, %d) outside %s screen", p.X, p.Y, sp.X, sp.Y, m.Screen)
			continue
		}
		if m.NearEdge(sp, v.policy.EdgeMargin) {
			verdict.Warnings = append(verdict.Warnings,
				fmt.Sprintf("coordinate (%d, %d) is within %dpx of the screen edge", sp.X, sp.Y, v.policy.EdgeMargin))
		}
	}

	info := a.Info()
	if v.policy.MinConfidence > 0 && info.Confidence < v.policy.MinConfidence {
		deny(CheckConfidence, "confidence %.2f below minimum %.2f", info.Confidence, v.policy.MinConfidence)
	}

	if s.done && v.policy.RequireDoneRationale && info.Rationale == "" {
		deny(CheckRationale, "completion claimed without a rationale")
	}

	verdict.Allowed = len(verdict.Violations) == 0
	if !verdict.Allowed {
		verdict.Reason = verdict.Violations[0].Reason
	}
	return verdict
}

// subject extracts the policy-relevant payload of an action.
type subject struct {
	keys    []string
	text    string
	hasText bool
	done    bool
}

func (s *subject) VisitClick(action.Click) error             { return nil }
func (s *subject) VisitDoubleClick(action.DoubleClick) error { return nil }
func (s *subject) VisitRightClick(action.RightClick) error   { return nil }
func (s *subject) VisitMouseDown(action.MouseDown) error     { return nil }
func (s *subject) VisitMouseUp(action.MouseUp) error         { return nil }
func (s *subject) VisitDrag(action.Drag) error               { return nil }
func (s *subject) VisitScroll(action.Scroll) error           { return nil }
func (s *subject) VisitWait(action.Wait) error               { return nil }

func (s *subject) VisitType(a action.Type) error {
	s.text, s.hasText = a.Text, true
	return nil
}

func (s *subject) VisitPaste(a action.Paste) error {
	s.text, s.hasText = a.Text, true
	return nil
}

func (s *subject) VisitHotkey(a action.Hotkey) error {
	s.keys = a.Keys
	return nil
}

func (s *subject) VisitDone(action.Done) error {
	s.done = true
	return nil
}
