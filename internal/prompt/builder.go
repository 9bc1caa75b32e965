// Package prompt assembles the per-step conversation sent to the vision model.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/pkoukk/tiktoken-go"

	"github.com/eatd/vl-desktop-agent/internal/action"
	"github.com/eatd/vl-desktop-agent/internal/geometry"
	"github.com/eatd/vl-desktop-agent/internal/parse"
	"github.com/eatd/vl-desktop-agent/internal/types"
	"github.com/eatd/vl-desktop-agent/pkg/llm"
)

// Marker tags a history entry with what happened.
type Marker string

const (
	MarkerOK       Marker = "[OK]"
	MarkerNoEffect Marker = "[NO EFFECT]"
	MarkerBlocked  Marker = "[BLOCKED]"
	MarkerFailed   Marker = "[FAILED]"
)

// Entry is one prior step as the model sees it.
type Entry struct {
	Description string
	Marker      Marker
	// Point is the first model-space coordinate of the action, if any.
	Point *action.Point
}

// EntryFor summarizes a finalized step. Steps whose change score stayed
// below noEffect are marked as having had no effect.
func EntryFor(s types.Step, noEffect float64) Entry {
	e := Entry{Marker: MarkerOK}
	if s.Action != nil {
		e.Description = action.Describe(s.Action)
		if pts := action.Points(s.Action); len(pts) > 0 {
			p := pts[0]
			e.Point = &p
		}
	} else {
		e.Description = "no action (" + string(s.Outcome) + ")"
	}
	switch {
	case s.Outcome == types.OutcomeBlocked:
		e.Marker = MarkerBlocked
		if s.Reason != "" {
			e.Description += ": " + s.Reason
		}
	case !s.Outcome.Ran():
		e.Marker = MarkerFailed
	case s.Measured && s.Score < noEffect:
		e.Marker = MarkerNoEffect
	}
	return e
}

// Options configures a Builder.
type Options struct {
	// Model selects the tokenizer; unknown models fall back to cl100k_base.
	Model     string
	Reference geometry.Size
	// Window is the number of most recent history entries kept.
	Window int
	// HistoryTokens caps the rendered history; 0 disables the cap and the
	// tokenizer is not loaded.
	HistoryTokens int
	// Template overrides DefaultTemplate.
	Template string
}

// Builder renders prompts. It is safe for concurrent use.
type Builder struct {
	opts      Options
	tmpl      *template.Template
	tokenizer *tiktoken.Tiktoken
}

func New(opts Options) (*Builder, error) {
	if !opts.Reference.Valid() {
		opts.Reference = geometry.DefaultReference
	}
	if opts.Window <= 0 {
		opts.Window = 10
	}
	text := opts.Template
	if text == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("system").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	b := &Builder{opts: opts, tmpl: tmpl}
	if opts.HistoryTokens > 0 {
		enc, err := tiktoken.EncodingForModel(opts.Model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				return nil, fmt.Errorf("get tokenizer: %w", err)
			}
		}
		b.tokenizer = enc
	}
	return b, nil
}

func (b *Builder) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Input is everything one step's prompt is built from.
type Input struct {
	Goal     string
	Step     int
	MaxSteps int
	History  []Entry
	// Hint is a pending recovery directive, injected once.
	Hint string
	// ScreenState is the model's own description of the screen from the
	// most recent observation call, if any.
	ScreenState string
	// Current and Previous are JPEG frames; Previous may be nil.
	Current  []byte
	Previous []byte
}

// Data is what the template sees.
type Data struct {
	Goal        string
	Reference   geometry.Size
	Step        int
	MaxSteps    int
	History     []Line
	Stuck       bool
	Hint        string
	ScreenState string
}

type Line struct {
	N           int
	Marker      Marker
	Description string
	Repeated    bool
}

// Build returns the system and user messages for one step.
func (b *Builder) Build(in Input) ([]llm.Message, error) {
	history := b.window(in.History)
	data := Data{
		Goal:        in.Goal,
		Reference:   b.opts.Reference,
		Step:        in.Step,
		MaxSteps:    in.MaxSteps,
		History:     lines(history),
		Stuck:       Stuck(history),
		Hint:        in.Hint,
		ScreenState: in.ScreenState,
	}
	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, data); err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	user := llm.Message{Role: "user", Content: "Current screen."}
	if len(in.Current) > 0 {
		user.Images = append(user.Images, llm.Image{MIME: "image/jpeg", Data: in.Current})
	}
	if len(in.Previous) > 0 {
		user.Content = "The first image is the current screen. The second is the screen before your last action; compare them to judge its effect."
		user.Images = append(user.Images, llm.Image{MIME: "image/jpeg", Data: in.Previous})
	}
	user.Content += "\nNext action (JSON only):"

	return []llm.Message{
		{Role: "system", Content: sb.String()},
		user,
	}, nil
}

// Observe returns the messages of an observation call: the model is asked
// to describe the current screen in prose, with no action expected.
func (b *Builder) Observe(goal string, current []byte) ([]llm.Message, error) {
	var sb strings.Builder
	if err := observeTmpl.Execute(&sb, struct{ Goal string }{goal}); err != nil {
		return nil, fmt.Errorf("render observation prompt: %w", err)
	}
	user := llm.Message{Role: "user", Content: "Describe this screen."}
	if len(current) > 0 {
		user.Images = []llm.Image{{MIME: "image/jpeg", Data: current}}
	}
	return []llm.Message{{Role: "system", Content: sb.String()}, user}, nil
}

// window keeps the most recent entries that fit both the entry count and
// the token budget.
func (b *Builder) window(history []Entry) []Entry {
	if len(history) > b.opts.Window {
		history = history[len(history)-b.opts.Window:]
	}
	if b.tokenizer == nil {
		return history
	}
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := b.countTokens(string(history[i].Marker) + " " + history[i].Description)
		if used+n > b.opts.HistoryTokens {
			break
		}
		used += n
		start = i
	}
	return history[start:]
}

func lines(history []Entry) []Line {
	seen := make(map[action.Point]int)
	out := make([]Line, len(history))
	for i, e := range history {
		out[i] = Line{N: i + 1, Marker: e.Marker, Description: e.Description}
		if e.Point != nil {
			seen[*e.Point]++
			out[i].Repeated = seen[*e.Point] > 1
		}
	}
	return out
}

// Stuck reports whether at least two of the last five entries had no effect.
func Stuck(history []Entry) bool {
	if len(history) > 5 {
		history = history[len(history)-5:]
	}
	n := 0
	for _, e := range history {
		if e.Marker == MarkerNoEffect {
			n++
		}
	}
	return n >= 2
}

var toolSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["click", "double_click", "right_click", "mouse_down", "mouse_up", "drag", "type", "paste", "scroll", "hotkey", "wait", "done"]},
    "x": {"type": "integer"},
    "y": {"type": "integer"},
    "end_x": {"type": "integer"},
    "end_y": {"type": "integer"},
    "text": {"type": "string"},
    "amount": {"type": "integer"},
    "keys": {"type": "array", "items": {"type": "string"}},
    "seconds": {"type": "number"},
    "reasoning": {"type": "string"},
    "confidence": {"type": "number"}
  },
  "required": ["action", "reasoning"]
}`)

// Tools returns the computer_action tool definition for providers that
// accept tool declarations.
func Tools() []llm.Tool {
	return []llm.Tool{{
		Type: "function",
		Function: llm.Function{
			Name:        parse.ToolName,
			Description: "Perform exactly one desktop action. Coordinates use the normalized reference grid.",
			Parameters:  toolSchema,
		},
	}}
}
