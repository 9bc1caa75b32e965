package input

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/eatd/vl-desktop-agent/internal/action"
	"github.com/google/go-cmp/cmp"
)

type recorder struct {
	calls []string
	fail  error
}

func (r *recorder) rec(format string, args ...any) error {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	return r.fail
}

func (r *recorder) Click(_ context.Context, p action.Point) error { return r.rec("click %d,%d", p.X, p.Y) }
func (r *recorder) DoubleClick(_ context.Context, p action.Point) error {
	return r.rec("double %d,%d", p.X, p.Y)
}
func (r *recorder) RightClick(_ context.Context, p action.Point) error {
	return r.rec("right %d,%d", p.X, p.Y)
}
func (r *recorder) MouseDown(_ context.Context, p action.Point) error {
	return r.rec("down %d,%d", p.X, p.Y)
}
func (r *recorder) MouseUp(_ context.Context, p action.Point) error { return r.rec("up %d,%d", p.X, p.Y) }
func (r *recorder) Drag(_ context.Context, a, b action.Point) error {
	return r.rec("drag %d,%d %d,%d", a.X, a.Y, b.X, b.Y)
}
func (r *recorder) TypeText(_ context.Context, s string) error  { return r.rec("type %s", s) }
func (r *recorder) PasteText(_ context.Context, s string) error { return r.rec("paste %s", s) }
func (r *recorder) Scroll(_ context.Context, n int) error       { return r.rec("scroll %d", n) }
func (r *recorder) Hotkey(_ context.Context, k []string) error  { return r.rec("hotkey %v", k) }

func TestExecuteDispatchesEveryKind(t *testing.T) {
	anchor := action.Point{X: 3, Y: 4}
	tests := []struct {
		in   action.Action
		want []string
	}{
		{action.Click{At: action.Point{X: 960, Y: 540}}, []string{"click 960,540"}},
		{action.DoubleClick{At: action.Point{X: 1, Y: 2}}, []string{"double 1,2"}},
		{action.RightClick{At: action.Point{X: 1, Y: 2}}, []string{"right 1,2"}},
		{action.MouseDown{At: action.Point{X: 1, Y: 2}}, []string{"down 1,2"}},
		{action.MouseUp{At: action.Point{X: 1, Y: 2}}, []string{"up 1,2"}},
		{action.Drag{From: action.Point{X: 1, Y: 2}, To: action.Point{X: 5, Y: 6}}, []string{"drag 1,2 5,6"}},
		{action.Type{Text: "hi", Anchor: &anchor}, []string{"click 3,4", "type hi"}},
		{action.Type{Text: "hi"}, []string{"type hi"}},
		{action.Paste{Text: "clip"}, []string{"paste clip"}},
		{action.Scroll{Amount: -3}, []string{"scroll -3"}},
		{action.Hotkey{Keys: []string{"ctrl", "l"}}, []string{"hotkey [ctrl l]"}},
		{action.Wait{Duration: time.Millisecond}, nil},
		{action.Done{}, nil},
	}
	for _, tt := range tests {
		r := &recorder{}
		res, err := NewExecutor(r).Execute(context.Background(), tt.in)
		if err != nil {
			t.Fatalf("%s: %v", tt.in.Kind(), err)
		}
		if diff := cmp.Diff(tt.want, r.calls); diff != "" {
			t.Errorf("%s calls mismatch (-want +got):\n%s", tt.in.Kind(), diff)
		}
		if res.Description == "" {
			t.Errorf("%s: empty description", tt.in.Kind())
		}
	}
}

func TestExecuteReportsTargets(t *testing.T) {
	res, err := NewExecutor(Nop{}).Execute(context.Background(), action.Click{At: action.Point{X: 960, Y: 540}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]action.Point{{X: 960, Y: 540}}, res.Targets); diff != "" {
		t.Errorf("targets mismatch:\n%s", diff)
	}
	if res.Description != "Click at (960, 540)" {
		t.Errorf("description = %q", res.Description)
	}
}

func TestExecuteWrapsInjectorError(t *testing.T) {
	boom := errors.New("no display")
	_, err := NewExecutor(&recorder{fail: boom}).Execute(context.Background(), action.Scroll{Amount: 1})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped injector error", err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExecutor(Nop{}).Execute(ctx, action.Wait{Duration: time.Hour})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestKeySym(t *testing.T) {
	tests := map[string][]string{
		"ctrl+l":          {"Ctrl", "L"},
		"super+Return":    {"win", "enter"},
		"alt+F4":          {"alt", "f4"},
		"ctrl+shift+Next": {"ctrl", "shift", "pagedown"},
	}
	for want, keys := range tests {
		if got := KeySym(keys); got != want {
			t.Errorf("KeySym(%v) = %q, want %q", keys, got, want)
		}
	}
}

func TestNewBackend(t *testing.T) {
	if inj, err := New("nop"); err != nil || inj != (Nop{}) {
		t.Errorf("New(nop) = %v, %v", inj, err)
	}
	if _, err := New("robot"); err == nil {
		t.Error("expected error for unknown backend")
	}
}
