package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMissingField is returned by Build when a variant's required payload is absent.
var ErrMissingField = errors.New("missing field")

// Fields is the flat, tagged wire form of an action. It is what traces
// persist and what the response parser normalizes model output into.
type Fields struct {
	Kind   Kind     `json:"kind"`
	At     *Point   `json:"at,omitempty"`
	To     *Point   `json:"to,omitempty"`
	Text   string   `json:"text,omitempty"`
	Amount *int     `json:"amount,omitempty"`
	Keys   []string `json:"keys,omitempty"`
	WaitMS int64    `json:"wait_ms,omitempty"`
	Meta
}

// DefaultWait is used when a Wait action does not name a duration.
const DefaultWait = time.Second

var builders = map[Kind]func(Fields) (Action, error){
	KindClick: func(f Fields) (Action, error) {
		p, err := requirePoint(f.At, "at")
		return Click{Meta: f.Meta, At: p}, err
	},
	KindDoubleClick: func(f Fields) (Action, error) {
		p, err := requirePoint(f.At, "at")
		return DoubleClick{Meta: f.Meta, At: p}, err
	},
	KindRightClick: func(f Fields) (Action, error) {
		p, err := requirePoint(f.At, "at")
		return RightClick{Meta: f.Meta, At: p}, err
	},
	KindMouseDown: func(f Fields) (Action, error) {
		p, err := requirePoint(f.At, "at")
		return MouseDown{Meta: f.Meta, At: p}, err
	},
	KindMouseUp: func(f Fields) (Action, error) {
		p, err := requirePoint(f.At, "at")
		return MouseUp{Meta: f.Meta, At: p}, err
	},
	KindDrag: func(f Fields) (Action, error) {
		from, err := requirePoint(f.At, "at")
		if err != nil {
			return nil, err
		}
		to, err := requirePoint(f.To, "to")
		return Drag{Meta: f.Meta, From: from, To: to}, err
	},
	KindType: func(f Fields) (Action, error) {
		if f.Text == "" {
			return nil, fmt.Errorf("%w: text", ErrMissingField)
		}
		t := Type{Meta: f.Meta, Text: f.Text}
		if f.At != nil {
			p := *f.At
			t.Anchor = &p
		}
		return t, nil
	},
	KindPaste: func(f Fields) (Action, error) {
		if f.Text == "" {
			return nil, fmt.Errorf("%w: text", ErrMissingField)
		}
		return Paste{Meta: f.Meta, Text: f.Text}, nil
	},
	KindScroll: func(f Fields) (Action, error) {
		if f.Amount == nil {
			return nil, fmt.Errorf("%w: amount", ErrMissingField)
		}
		return Scroll{Meta: f.Meta, Amount: *f.Amount}, nil
	},
	KindHotkey: func(f Fields) (Action, error) {
		if len(f.Keys) == 0 {
			return nil, fmt.Errorf("%w: keys", ErrMissingField)
		}
		return Hotkey{Meta: f.Meta, Keys: append([]string(nil), f.Keys...)}, nil
	},
	KindWait: func(f Fields) (Action, error) {
		d := time.Duration(f.WaitMS) * time.Millisecond
		if d <= 0 {
			d = DefaultWait
		}
		return Wait{Meta: f.Meta, Duration: d}, nil
	},
	KindDone: func(f Fields) (Action, error) {
		return Done{Meta: f.Meta}, nil
	},
}

func requirePoint(p *Point, name string) (Point, error) {
	if p == nil {
		return Point{}, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return *p, nil
}

// Known reports whether k names a variant.
func Known(k Kind) bool {
	_, ok := builders[k]
	return ok
}

// Build constructs the variant named by f.Kind.
func Build(f Fields) (Action, error) {
	b, ok := builders[f.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown action kind %q", f.Kind)
	}
	a, err := b(f)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", f.Kind, err)
	}
	return a, nil
}

// ToFields flattens a into its wire form.
func ToFields(a Action) Fields {
	f := fieldsVisitor{}
	_ = a.Accept(&f)
	f.out.Kind = a.Kind()
	f.out.Meta = a.Info()
	return f.out
}

type fieldsVisitor struct{ out Fields }

func ptr(p Point) *Point { return &p }

func (v *fieldsVisitor) VisitClick(a Click) error             { v.out.At = ptr(a.At); return nil }
func (v *fieldsVisitor) VisitDoubleClick(a DoubleClick) error { v.out.At = ptr(a.At); return nil }
func (v *fieldsVisitor) VisitRightClick(a RightClick) error   { v.out.At = ptr(a.At); return nil }
func (v *fieldsVisitor) VisitMouseDown(a MouseDown) error     { v.out.At = ptr(a.At); return nil }
func (v *fieldsVisitor) VisitMouseUp(a MouseUp) error         { v.out.At = ptr(a.At); return nil }

func (v *fieldsVisitor) VisitDrag(a Drag) error {
	v.out.At, v.out.To = ptr(a.From), ptr(a.To)
	return nil
}

func (v *fieldsVisitor) VisitType(a Type) error {
	v.out.Text = a.Text
	if a.Anchor != nil {
		v.out.At = ptr(*a.Anchor)
	}
	return nil
}

func (v *fieldsVisitor) VisitPaste(a Paste) error { v.out.Text = a.Text; return nil }

func (v *fieldsVisitor) VisitScroll(a Scroll) error {
	n := a.Amount
	v.out.Amount = &n
	return nil
}

func (v *fieldsVisitor) VisitHotkey(a Hotkey) error {
	v.out.Keys = append([]string(nil), a.Keys...)
	return nil
}

func (v *fieldsVisitor) VisitWait(a Wait) error {
	v.out.WaitMS = a.Duration.Milliseconds()
	return nil
}

func (v *fieldsVisitor) VisitDone(Done) error { return nil }

// Encode marshals a to its tagged JSON form.
func Encode(a Action) ([]byte, error) {
	return json.Marshal(ToFields(a))
}

// Decode parses the tagged JSON form written by Encode.
func Decode(data []byte) (Action, error) {
	var f Fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal action: %w", err)
	}
	return Build(f)
}
