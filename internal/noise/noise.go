// Package noise provides coherent noise fields used to deform the orb surface.
package noise

import (
	"github.com/ojrac/opensimplex-go"
)

// Field samples a 3D noise field. Values are in [-1, 1].
type Field interface {
	Eval3(x, y, z float64) float64
}

// Simplex is an owned simplex-style noise generator.
type Simplex struct {
	seed  int64
	noise opensimplex.Noise
}

// NewSimplex creates a generator for the given seed.
func NewSimplex(seed int64) *Simplex {
	return &Simplex{
		seed:  seed,
		noise: opensimplex.New(seed),
	}
}

// Eval3 returns the noise value at (x, y, z), clamped to [-1, 1].
func (s *Simplex) Eval3(x, y, z float64) float64 {
	v := s.noise.Eval3(x, y, z)
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Seed returns the seed the generator was built with.
func (s *Simplex) Seed() int64 {
	return s.seed
}

// Constant is a Field that returns the same value everywhere.
type Constant float64

// Eval3 implements Field.
func (c Constant) Eval3(_, _, _ float64) float64 {
	return float64(c)
}
