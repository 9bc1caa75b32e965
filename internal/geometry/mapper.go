// Package geometry translates coordinates between the model's reference image
// space and the physical screen.
package geometry

import (
	"fmt"
	"math"

	"github.com/eatd/vl-desktop-agent/internal/action"
)

// Size is a width and height in pixels.
type Size struct {
	W int `json:"width"`
	H int `json:"height"`
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.W, s.H) }

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool { return s.W > 0 && s.H > 0 }

// DefaultReference is the normalized space vision models are prompted with.
var DefaultReference = Size{W: 1000, H: 1000}

// Mapper scales each axis independently from Ref to Screen.
type Mapper struct {
	Ref    Size
	Screen Size
}

// NewMapper returns a mapper, rejecting empty sizes.
func NewMapper(ref, screen Size) (Mapper, error) {
	if !ref.Valid() {
		return Mapper{}, fmt.Errorf("invalid reference size %s", ref)
	}
	if !screen.Valid() {
		return Mapper{}, fmt.Errorf("invalid screen size %s", screen)
	}
	return Mapper{Ref: ref, Screen: screen}, nil
}

func scale(v, to, from int) int {
	return int(math.Round(float64(v) * float64(to) / float64(from)))
}

// Project applies the affine transform without clamping.
func (m Mapper) Project(p action.Point) action.Point {
	return action.Point{
		X: scale(p.X, m.Screen.W, m.Ref.W),
		Y: scale(p.Y, m.Screen.H, m.Ref.H),
	}
}

// Contains reports whether a screen point lies within [0,W]x[0,H].
func (m Mapper) Contains(p action.Point) bool {
	return p.X >= 0 && p.X <= m.Screen.W && p.Y >= 0 && p.Y <= m.Screen.H
}

// Map projects p and clamps the result to the screen.
func (m Mapper) Map(p action.Point) action.Point {
	s := m.Project(p)
	s.X = clamp(s.X, 0, m.Screen.W)
	s.Y = clamp(s.Y, 0, m.Screen.H)
	return s
}

// NearEdge reports whether a screen point is within margin pixels of any border.
func (m Mapper) NearEdge(p action.Point, margin int) bool {
	if margin <= 0 {
		return false
	}
	return p.X < margin || p.Y < margin || m.Screen.W-p.X < margin || m.Screen.H-p.Y < margin
}

// MapAction returns a copy of a with every coordinate mapped to the screen.
func (m Mapper) MapAction(a action.Action) action.Action {
	return action.MapPoints(a, m.Map)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
