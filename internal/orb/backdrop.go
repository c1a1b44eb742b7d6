package orb

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Backdrop cycle lengths in seconds.
const (
	gradientPeriod = 20
	glowPeriod     = 4
	accentPeriod   = 8
)

// Backdrop holds the atmospheric background behind the orb: a drifting
// gradient, a glow that follows the cursor and a slowly pulsing accent.
type Backdrop struct {
	cursor mgl32.Vec2
}

// BackdropUniforms are the per-frame shader inputs for the background.
type BackdropUniforms struct {
	Cursor      mgl32.Vec2 // [0,1], origin bottom left
	Shift       float32    // gradient offset in [0,1]
	Glow        float32    // cursor glow opacity
	Accent      float32    // accent layer opacity
	AccentScale float32
}

// NewBackdrop returns a backdrop with the glow centred.
func NewBackdrop() *Backdrop {
	return &Backdrop{cursor: mgl32.Vec2{0.5, 0.5}}
}

// SetCursor records a cursor position in window coordinates, where y grows
// downward. Positions outside the window are clamped to its edge.
func (b *Backdrop) SetCursor(x, y float64, width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	nx := mgl32.Clamp(float32(x/float64(width)), 0, 1)
	ny := mgl32.Clamp(float32(y/float64(height)), 0, 1)
	b.cursor = mgl32.Vec2{nx, 1 - ny}
}

// Cursor returns the normalized cursor position.
func (b *Backdrop) Cursor() mgl32.Vec2 {
	return b.cursor
}

// Uniforms evaluates the background at time t seconds.
func (b *Backdrop) Uniforms(t float64) BackdropUniforms {
	return BackdropUniforms{
		Cursor:      b.cursor,
		Shift:       float32(triangle(t / gradientPeriod)),
		Glow:        float32(pulse(t, glowPeriod, 0.4, 0.8)),
		Accent:      float32(pulse(t, accentPeriod, 0.3, 0.5)),
		AccentScale: float32(pulse(t, accentPeriod, 1, 1.2)),
	}
}

// triangle rises from 0 to 1 and back once per unit of x.
func triangle(x float64) float64 {
	f := x - math.Floor(x)
	return 1 - math.Abs(2*f-1)
}

// pulse eases between lo and hi and back once per period, starting at lo.
func pulse(t, period, lo, hi float64) float64 {
	phase := 2 * math.Pi * t / period
	return lo + (hi-lo)*(1-math.Cos(phase))/2
}
