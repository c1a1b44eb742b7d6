package orb

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

// Starfield is a shell of points that slowly rotates behind the orb.
type Starfield struct {
	Points  []mgl32.Vec3
	yaw     float64
	yawRate float64
}

// NewStarfield scatters count points between radius 5 and 15.
func NewStarfield(count int, rng *rand.Rand) *Starfield {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	points := make([]mgl32.Vec3, count)
	for i := range points {
		radius := 5 + rng.Float64()*10
		theta := rng.Float64() * 2 * math.Pi
		phi := math.Acos(2*rng.Float64() - 1)

		points[i] = mgl32.Vec3{
			float32(radius * math.Sin(phi) * math.Cos(theta)),
			float32(radius * math.Sin(phi) * math.Sin(theta)),
			float32(radius * math.Cos(phi)),
		}
	}

	return &Starfield{Points: points, yawRate: 0.02}
}

// Step advances the rotation.
func (s *Starfield) Step(dt float64) {
	s.yaw += dt * s.yawRate
}

// Yaw returns the current rotation in radians.
func (s *Starfield) Yaw() float64 {
	return s.yaw
}
