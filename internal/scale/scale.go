// Package scale converts between the fixed-resolution image space the agent
// perceives and the browser's real viewport pixel space.
package scale

import (
	"fmt"
	"math"
)

// Viewport describes the two coordinate spaces. Built once from config and
// never mutated afterwards.
type Viewport struct {
	RealWidth   int
	RealHeight  int
	AgentWidth  int
	AgentHeight int
}

// Mapper is a pure transform derived from a Viewport. Out-of-range input is
// clamped rather than rejected; upstream validation already bounds the agent
// image size.
type Mapper struct {
	vp     Viewport
	scaleX float64
	scaleY float64
}

// Point is a pixel coordinate in either space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect is an axis-aligned rectangle: top-left corner plus size.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewMapper validates the viewport dimensions and precomputes scale factors.
func NewMapper(vp Viewport) (*Mapper, error) {
	if vp.RealWidth <= 0 || vp.RealHeight <= 0 {
		return nil, fmt.Errorf("real viewport must be positive, got %dx%d", vp.RealWidth, vp.RealHeight)
	}
	if vp.AgentWidth <= 0 || vp.AgentHeight <= 0 {
		return nil, fmt.Errorf("agent image size must be positive, got %dx%d", vp.AgentWidth, vp.AgentHeight)
	}
	return &Mapper{
		vp:     vp,
		scaleX: float64(vp.RealWidth) / float64(vp.AgentWidth),
		scaleY: float64(vp.RealHeight) / float64(vp.AgentHeight),
	}, nil
}

// Viewport returns the viewport configuration the mapper was built from.
func (m *Mapper) Viewport() Viewport { return m.vp }

// ToReal maps a point from agent image space into real viewport pixels.
// Rounding is half-up for determinism; the result is clamped into the
// viewport so it is always a valid actuation target.
func (m *Mapper) ToReal(p Point) Point {
	return Point{
		X: clamp(roundHalfUp(float64(p.X)*m.scaleX), 0, m.vp.RealWidth-1),
		Y: clamp(roundHalfUp(float64(p.Y)*m.scaleY), 0, m.vp.RealHeight-1),
	}
}

// ToAgent maps a real viewport point back into agent image space, e.g. when
// reporting a highlighted match location to the agent. Inverse of ToReal
// within ±1 of rounding tolerance.
func (m *Mapper) ToAgent(p Point) Point {
	return Point{
		X: clamp(roundHalfUp(float64(p.X)/m.scaleX), 0, m.vp.AgentWidth-1),
		Y: clamp(roundHalfUp(float64(p.Y)/m.scaleY), 0, m.vp.AgentHeight-1),
	}
}

// ToRealRect maps an agent-space rectangle given as two corner points into a
// normalized real-space rectangle. Corners may be given in any order.
func (m *Mapper) ToRealRect(a, b Point) Rect {
	ra := m.ToReal(a)
	rb := m.ToReal(b)
	x0, x1 := minMax(ra.X, rb.X)
	y0, y1 := minMax(ra.Y, rb.Y)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func roundHalfUp(f float64) int {
	return int(math.Floor(f + 0.5))
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

func minMax(a, b int) (int, int) {
	if a <= b {
		return a, b
	}
	return b, a
}
