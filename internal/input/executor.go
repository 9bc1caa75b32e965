// Package input dispatches validated, mapped actions to an OS injection backend.
package input

import (
	"context"
	"fmt"
	"time"

	"github.com/eatd/vl-desktop-agent/internal/action"
)

// Injector performs primitive input operations at physical screen
// coordinates. Implementations assume arguments are already validated.
type Injector interface {
	Click(ctx context.Context, p action.Point) error
	DoubleClick(ctx context.Context, p action.Point) error
	RightClick(ctx context.Context, p action.Point) error
	MouseDown(ctx context.Context, p action.Point) error
	MouseUp(ctx context.Context, p action.Point) error
	Drag(ctx context.Context, from, to action.Point) error
	TypeText(ctx context.Context, text string) error
	PasteText(ctx context.Context, text string) error
	Scroll(ctx context.Context, amount int) error
	Hotkey(ctx context.Context, keys []string) error
}

// Result describes what was (or would have been) dispatched.
type Result struct {
	Description string
	Targets     []action.Point
}

// Plan describes a without executing it.
func Plan(a action.Action) Result {
	return Result{Description: action.Describe(a), Targets: action.Points(a)}
}

type Executor struct {
	injector Injector
}

func NewExecutor(inj Injector) *Executor {
	return &Executor{injector: inj}
}

// Execute dispatches a, whose coordinates must already be in screen space.
func (e *Executor) Execute(ctx context.Context, a action.Action) (Result, error) {
	d := &dispatcher{ctx: ctx, inj: e.injector}
	if err := a.Accept(d); err != nil {
		return Plan(a), fmt.Errorf("execute %s: %w", a.Kind(), err)
	}
	return Plan(a), nil
}

type dispatcher struct {
	ctx context.Context
	inj Injector
}

func (d *dispatcher) VisitClick(a action.Click) error { return d.inj.Click(d.ctx, a.At) }
func (d *dispatcher) VisitDoubleClick(a action.DoubleClick) error {
	return d.inj.DoubleClick(d.ctx, a.At)
}
func (d *dispatcher) VisitRightClick(a action.RightClick) error {
	return d.inj.RightClick(d.ctx, a.At)
}
func (d *dispatcher) VisitMouseDown(a action.MouseDown) error { return d.inj.MouseDown(d.ctx, a.At) }
func (d *dispatcher) VisitMouseUp(a action.MouseUp) error     { return d.inj.MouseUp(d.ctx, a.At) }
func (d *dispatcher) VisitDrag(a action.Drag) error           { return d.inj.Drag(d.ctx, a.From, a.To) }

func (d *dispatcher) VisitType(a action.Type) error {
	if a.Anchor != nil {
		if err := d.inj.Click(d.ctx, *a.Anchor); err != nil {
			return fmt.Errorf("focus anchor: %w", err)
		}
	}
	return d.inj.TypeText(d.ctx, a.Text)
}

func (d *dispatcher) VisitPaste(a action.Paste) error   { return d.inj.PasteText(d.ctx, a.Text) }
func (d *dispatcher) VisitScroll(a action.Scroll) error { return d.inj.Scroll(d.ctx, a.Amount) }
func (d *dispatcher) VisitHotkey(a action.Hotkey) error { return d.inj.Hotkey(d.ctx, a.Keys) }

func (d *dispatcher) VisitWait(a action.Wait) error {
	t := time.NewTimer(a.Duration)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

func (d *dispatcher) VisitDone(action.Done) error { return nil }

// Nop performs no OS effect and reports success.
type Nop struct{}

func (Nop) Click(context.Context, action.Point) error       { return nil }
func (Nop) DoubleClick(context.Context, action.Point) error { return nil }
func (Nop) RightClick(context.Context, action.Point) error  { return nil }
func (Nop) MouseDown(context.Context, action.Point) error   { return nil }
func (Nop) MouseUp(context.Context, action.Point) error     { return nil }
func (Nop) Drag(context.Context, action.Point, action.Point) error {
	return nil
}
func (Nop) TypeText(context.Context, string) error  { return nil }
func (Nop) PasteText(context.Context, string) error { return nil }
func (Nop) Scroll(context.Context, int) error       { return nil }
func (Nop) Hotkey(context.Context, []string) error  { return nil }

// New returns the injector for a configured backend name.
func New(backend string) (Injector, error) {
	switch backend {
	case "", "xdotool":
		return NewXDoTool(), nil
	case "nop", "none":
		return Nop{}, nil
	}
	return nil, fmt.Errorf("unknown input backend %q", backend)
}
