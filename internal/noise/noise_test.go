package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimplex_Deterministic(t *testing.T) {
	a := NewSimplex(42)
	b := NewSimplex(42)

	for i := 0; i < 50; i++ {
		x := float64(i) * 0.37
		assert.Equal(t, a.Eval3(x, x*0.5, -x), b.Eval3(x, x*0.5, -x))
	}
	assert.Equal(t, int64(42), a.Seed())
}

func TestSimplex_Range(t *testing.T) {
	n := NewSimplex(7)

	for x := -4.0; x <= 4.0; x += 0.25 {
		for y := -4.0; y <= 4.0; y += 0.5 {
			v := n.Eval3(x, y, x-y)
			assert.GreaterOrEqual(t, v, -1.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestSimplex_Varies(t *testing.T) {
	n := NewSimplex(1)

	seen := map[float64]struct{}{}
	for i := 0; i < 20; i++ {
		seen[n.Eval3(float64(i)*0.13, 0.2, 0.7)] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "noise should not be flat")
}

func TestConstant(t *testing.T) {
	var f Field = Constant(0.25)
	assert.Equal(t, 0.25, f.Eval3(1, 2, 3))
}
