// Package parse turns raw model output into a typed action.
//
// Models are asked for a single JSON object, but small vision models often
// wrap it in prose or code fences, emit trailing commas, single quotes, or a
// function-call shorthand like click(x=20, y=710). Parser repairs those near
// misses in a fixed order and logs every repair it applies. It never guesses
// an action kind or a multi-point coordinate.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eatd/vl-desktop-agent/internal/action"
	"github.com/eatd/vl-desktop-agent/pkg/llm"
)

var (
	ErrNoAction    = errors.New("no action found")
	ErrUnknownKind = errors.New("unknown action kind")
	ErrAmbiguous   = errors.New("ambiguous coordinates")
)

// Error is a parse failure carrying the offending fragment.
type Error struct {
	Fragment string
	Err      error
}

const maxFragment = 240

func (e *Error) Error() string {
	return fmt.Sprintf("parse response %q: %v", e.Fragment, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(fragment string, err error) *Error {
	fragment = strings.TrimSpace(fragment)
	if len(fragment) > maxFragment {
		fragment = fragment[:maxFragment] + "..."
	}
	return &Error{Fragment: fragment, Err: err}
}

// Parser is safe for concurrent use.
type Parser struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

func (p *Parser) repaired(repair string, args ...any) {
	p.logger.Debug("repaired model response", append([]any{"repair", repair}, args...)...)
}

// Parse prefers a tool-call payload and falls back to the text content.
func (p *Parser) Parse(resp *llm.Response) (action.Action, error) {
	if resp == nil {
		return nil, fail("", ErrNoAction)
	}
	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		return p.ParseToolCall(tc.Function.Name, tc.Function.Arguments)
	}
	return p.ParseText(resp.Content)
}

// ToolName is the function name offered to providers that support tool calls.
const ToolName = "computer_action"

// ParseToolCall decodes a structured tool-call payload. When the tool is not
// the generic action tool its name is taken as the action kind.
func (p *Parser) ParseToolCall(name string, args json.RawMessage) (action.Action, error) {
	raw := strings.TrimSpace(string(args))
	// Some servers double-encode arguments as a JSON string.
	var inner string
	if json.Unmarshal(args, &inner) == nil {
		p.repaired("unquote_arguments")
		raw = inner
	}
	obj, err := p.decodeObject(raw)
	if err != nil {
		return nil, fail(raw, err)
	}
	if name != "" && name != ToolName {
		if _, ok := obj["action"]; !ok {
			obj["action"] = name
		}
	}
	return p.build(obj, raw)
}

// ParseText extracts one action from free text.
func (p *Parser) ParseText(text string) (action.Action, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, fail(text, ErrNoAction)
	}

	if unfenced, ok := stripFences(s); ok {
		p.repaired("strip_fences")
		s = unfenced
	}

	if obj, src, ok := p.objectFrom(s); ok {
		return p.build(obj, src)
	}

	if obj, src, ok := p.callFrom(s); ok {
		return p.build(obj, src)
	}

	return nil, fail(s, ErrNoAction)
}

// objectFrom finds and decodes the first JSON-like object in s.
func (p *Parser) objectFrom(s string) (map[string]any, string, bool) {
	frag, ok := firstObject(s)
	if !ok {
		return nil, "", false
	}
	if frag != s {
		p.repaired("extract_object", "discarded", len(s)-len(frag))
	}
	obj, err := p.decodeObject(frag)
	if err != nil {
		return nil, "", false
	}
	return obj, frag, true
}

func (p *Parser) decodeObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		return obj, nil
	}
	relaxed := relax(s)
	if err := json.Unmarshal([]byte(relaxed), &obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	p.repaired("lenient_json")
	return obj, nil
}

// build normalizes a decoded object and constructs the action.
func (p *Parser) build(obj map[string]any, src string) (action.Action, error) {
	if flattenNested(obj) {
		p.repaired("flatten_nested")
	}
	f, err := p.normalize(obj, src)
	if err != nil {
		return nil, fail(src, err)
	}
	a, err := action.Build(f)
	if err != nil {
		return nil, fail(src, err)
	}
	return a, nil
}
