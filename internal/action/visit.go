package action

import (
	"fmt"
	"strings"
)

// Points returns the coordinates carried by a, in order.
func Points(a Action) []Point {
	var c pointCollector
	_ = a.Accept(&c)
	return c.points
}

type pointCollector struct {
	points []Point
}

func (c *pointCollector) add(p ...Point) error {
	c.points = append(c.points, p...)
	return nil
}

func (c *pointCollector) VisitClick(a Click) error             { return c.add(a.At) }
func (c *pointCollector) VisitDoubleClick(a DoubleClick) error { return c.add(a.At) }
func (c *pointCollector) VisitRightClick(a RightClick) error   { return c.add(a.At) }
func (c *pointCollector) VisitMouseDown(a MouseDown) error     { return c.add(a.At) }
func (c *pointCollector) VisitMouseUp(a MouseUp) error         { return c.add(a.At) }
func (c *pointCollector) VisitDrag(a Drag) error               { return c.add(a.From, a.To) }
func (c *pointCollector) VisitPaste(Paste) error               { return nil }
func (c *pointCollector) VisitScroll(Scroll) error             { return nil }
func (c *pointCollector) VisitHotkey(Hotkey) error             { return nil }
func (c *pointCollector) VisitWait(Wait) error                 { return nil }
func (c *pointCollector) VisitDone(Done) error                 { return nil }

func (c *pointCollector) VisitType(a Type) error {
	if a.Anchor != nil {
		return c.add(*a.Anchor)
	}
	return nil
}

// MapPoints returns a copy of a with every coordinate passed through f.
// The original is left untouched.
func MapPoints(a Action, f func(Point) Point) Action {
	m := &pointMapper{f: f}
	_ = a.Accept(m)
	return m.out
}

type pointMapper struct {
	f   func(Point) Point
	out Action
}

func (m *pointMapper) VisitClick(a Click) error {
	a.At = m.f(a.At)
	m.out = a
	return nil
}

func (m *pointMapper) VisitDoubleClick(a DoubleClick) error {
	a.At = m.f(a.At)
	m.out = a
	return nil
}

func (m *pointMapper) VisitRightClick(a RightClick) error {
	a.At = m.f(a.At)
	m.out = a
	return nil
}

func (m *pointMapper) VisitMouseDown(a MouseDown) error {
	a.At = m.f(a.At)
	m.out = a
	return nil
}

func (m *pointMapper) VisitMouseUp(a MouseUp) error {
	a.At = m.f(a.At)
	m.out = a
	return nil
}

func (m *pointMapper) VisitDrag(a Drag) error {
	a.From, a.To = m.f(a.From), m.f(a.To)
	m.out = a
	return nil
}

func (m *pointMapper) VisitType(a Type) error {
	if a.Anchor != nil {
		p := m.f(*a.Anchor)
		a.Anchor = &p
	}
	m.out = a
	return nil
}

func (m *pointMapper) VisitPaste(a Paste) error {
	m.out = a
	return nil
}

func (m *pointMapper) VisitScroll(a Scroll) error {
	m.out = a
	return nil
}

func (m *pointMapper) VisitHotkey(a Hotkey) error {
	a.Keys = append([]string(nil), a.Keys...)
	m.out = a
	return nil
}

func (m *pointMapper) VisitWait(a Wait) error {
	m.out = a
	return nil
}

func (m *pointMapper) VisitDone(a Done) error {
	m.out = a
	return nil
}

// Describe renders a short human-readable description of a.
func Describe(a Action) string {
	var d describer
	_ = a.Accept(&d)
	return d.s
}

type describer struct{ s string }

func (d *describer) set(format string, args ...any) error {
	d.s = fmt.Sprintf(format, args...)
	return nil
}

func (d *describer) VisitClick(a Click) error { return d.set("Click at (%d, %d)", a.At.X, a.At.Y) }
func (d *describer) VisitDoubleClick(a DoubleClick) error {
	return d.set("Double-click at (%d, %d)", a.At.X, a.At.Y)
}
func (d *describer) VisitRightClick(a RightClick) error {
	return d.set("Right-click at (%d, %d)", a.At.X, a.At.Y)
}
func (d *describer) VisitMouseDown(a MouseDown) error {
	return d.set("Mouse down at (%d, %d)", a.At.X, a.At.Y)
}
func (d *describer) VisitMouseUp(a MouseUp) error {
	return d.set("Mouse up at (%d, %d)", a.At.X, a.At.Y)
}
func (d *describer) VisitDrag(a Drag) error {
	return d.set("Drag from (%d, %d) to (%d, %d)", a.From.X, a.From.Y, a.To.X, a.To.Y)
}

func (d *describer) VisitType(a Type) error {
	if a.Anchor != nil {
		return d.set("Type %q at (%d, %d)", a.Text, a.Anchor.X, a.Anchor.Y)
	}
	return d.set("Type %q", a.Text)
}

func (d *describer) VisitPaste(a Paste) error { return d.set("Paste %q", a.Text) }

func (d *describer) VisitScroll(a Scroll) error {
	if a.Amount < 0 {
		return d.set("Scroll down %d", -a.Amount)
	}
	return d.set("Scroll up %d", a.Amount)
}

func (d *describer) VisitHotkey(a Hotkey) error { return d.set("Hotkey %s", strings.Join(a.Keys, "+")) }
func (d *describer) VisitWait(a Wait) error     { return d.set("Wait %s", a.Duration) }

func (d *describer) VisitDone(a Done) error {
	if a.Rationale != "" {
		return d.set("Goal completed: %s", a.Rationale)
	}
	return d.set("Goal completed")
}
