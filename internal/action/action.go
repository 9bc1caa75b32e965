// Package action defines the closed set of actions the agent can propose.
//
// Every consumer dispatches through Visitor, which has one method per
// variant. Adding a variant means adding a Visit method, and every visitor in
// the tree stops compiling until it handles the new case.
package action

import (
	"time"
)

// Kind is the wire tag of an action variant.
type Kind string

const (
	KindClick       Kind = "click"
	KindDoubleClick Kind = "double_click"
	KindRightClick  Kind = "right_click"
	KindMouseDown   Kind = "mouse_down"
	KindMouseUp     Kind = "mouse_up"
	KindDrag        Kind = "drag"
	KindType        Kind = "type"
	KindPaste       Kind = "paste"
	KindScroll      Kind = "scroll"
	KindHotkey      Kind = "hotkey"
	KindWait        Kind = "wait"
	KindDone        Kind = "done"
)

// Kinds lists every variant in declaration order.
var Kinds = []Kind{
	KindClick, KindDoubleClick, KindRightClick, KindMouseDown, KindMouseUp,
	KindDrag, KindType, KindPaste, KindScroll, KindHotkey, KindWait, KindDone,
}

// Point is a coordinate pair. Whether it is in reference space or screen
// space depends on where the owning action came from.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Meta holds the fields common to all variants.
type Meta struct {
	Rationale  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Action is implemented by the variant structs in this package only.
type Action interface {
	Kind() Kind
	Info() Meta
	Accept(v Visitor) error
	sealed()
}

// Visitor receives exactly one call per Accept.
type Visitor interface {
	VisitClick(Click) error
	VisitDoubleClick(DoubleClick) error
	VisitRightClick(RightClick) error
	VisitMouseDown(MouseDown) error
	VisitMouseUp(MouseUp) error
	VisitDrag(Drag) error
	VisitType(Type) error
	VisitPaste(Paste) error
	VisitScroll(Scroll) error
	VisitHotkey(Hotkey) error
	VisitWait(Wait) error
	VisitDone(Done) error
}

type Click struct {
	Meta
	At Point
}

type DoubleClick struct {
	Meta
	At Point
}

type RightClick struct {
	Meta
	At Point
}

type MouseDown struct {
	Meta
	At Point
}

type MouseUp struct {
	Meta
	At Point
}

type Drag struct {
	Meta
	From Point
	To   Point
}

// Type enters text, optionally clicking Anchor first to focus a field.
type Type struct {
	Meta
	Text   string
	Anchor *Point
}

// Paste enters text through the clipboard.
type Paste struct {
	Meta
	Text string
}

// Scroll amount is positive for up, negative for down.
type Scroll struct {
	Meta
	Amount int
}

// Hotkey keys are pressed in order and released in reverse.
type Hotkey struct {
	Meta
	Keys []string
}

type Wait struct {
	Meta
	Duration time.Duration
}

// Done signals that the goal is complete.
type Done struct {
	Meta
}

func (Click) Kind() Kind       { return KindClick }
func (DoubleClick) Kind() Kind { return KindDoubleClick }
func (RightClick) Kind() Kind  { return KindRightClick }
func (MouseDown) Kind() Kind   { return KindMouseDown }
func (MouseUp) Kind() Kind     { return KindMouseUp }
func (Drag) Kind() Kind        { return KindDrag }
func (Type) Kind() Kind        { return KindType }
func (Paste) Kind() Kind       { return KindPaste }
func (Scroll) Kind() Kind      { return KindScroll }
func (Hotkey) Kind() Kind      { return KindHotkey }
func (Wait) Kind() Kind        { return KindWait }
func (Done) Kind() Kind        { return KindDone }

func (m Meta) Info() Meta { return m }

func (a Click) Accept(v Visitor) error       { return v.VisitClick(a) }
func (a DoubleClick) Accept(v Visitor) error { return v.VisitDoubleClick(a) }
func (a RightClick) Accept(v Visitor) error  { return v.VisitRightClick(a) }
func (a MouseDown) Accept(v Visitor) error   { return v.VisitMouseDown(a) }
func (a MouseUp) Accept(v Visitor) error     { return v.VisitMouseUp(a) }
func (a Drag) Accept(v Visitor) error        { return v.VisitDrag(a) }
func (a Type) Accept(v Visitor) error        { return v.VisitType(a) }
func (a Paste) Accept(v Visitor) error       { return v.VisitPaste(a) }
func (a Scroll) Accept(v Visitor) error      { return v.VisitScroll(a) }
func (a Hotkey) Accept(v Visitor) error      { return v.VisitHotkey(a) }
func (a Wait) Accept(v Visitor) error        { return v.VisitWait(a) }
func (a Done) Accept(v Visitor) error        { return v.VisitDone(a) }

func (Click) sealed()       {}
func (DoubleClick) sealed() {}
func (RightClick) sealed()  {}
func (MouseDown) sealed()   {}
func (MouseUp) sealed()     {}
func (Drag) sealed()        {}
func (Type) sealed()        {}
func (Paste) sealed()       {}
func (Scroll) sealed()      {}
func (Hotkey) sealed()      {}
func (Wait) sealed()        {}
func (Done) sealed()        {}

// IsPointer reports whether the kind targets the pointer at one or more points.
func IsPointer(k Kind) bool {
	switch k {
	case KindClick, KindDoubleClick, KindRightClick, KindMouseDown, KindMouseUp, KindDrag:
		return true
	}
	return false
}

// SinglePoint reports whether the kind carries at most one coordinate pair.
func SinglePoint(k Kind) bool {
	switch k {
	case KindClick, KindDoubleClick, KindRightClick, KindMouseDown, KindMouseUp, KindType:
		return true
	}
	return false
}
