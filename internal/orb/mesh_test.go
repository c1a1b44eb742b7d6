package orb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIcosphere_Counts(t *testing.T) {
	tests := []struct {
		detail    int
		vertices  int
		triangles int
	}{
		{0, 12, 20},
		{1, 42, 80},
		{2, 162, 320},
	}

	for _, tt := range tests {
		m := NewIcosphere(1, tt.detail)
		assert.Equal(t, tt.vertices, m.VertexCount(), "detail %d", tt.detail)
		assert.Equal(t, tt.triangles, m.TriangleCount(), "detail %d", tt.detail)
	}
}

func TestNewIcosphere_OnSphere(t *testing.T) {
	m := NewIcosphere(2, 1)

	for i, p := range m.Original {
		assert.InDelta(t, 2.0, float64(p.Len()), 1e-5, "vertex %d", i)
	}
	assert.Equal(t, m.Original, m.Positions)
}

func TestNewIcosphere_IndicesInRange(t *testing.T) {
	m := NewIcosphere(1, 1)

	for _, idx := range m.Indices {
		require.Less(t, int(idx), m.VertexCount())
	}
}

func TestMesh_WireframeIndices(t *testing.T) {
	m := NewIcosphere(1, 1)

	lines := m.WireframeIndices()
	// Euler: E = V + F - 2
	assert.Equal(t, (42+80-2)*2, len(lines))
}

func TestMesh_Reset(t *testing.T) {
	m := NewIcosphere(1, 0)
	m.Positions[0] = m.Positions[0].Mul(3)

	m.Reset()
	assert.Equal(t, m.Original[0], m.Positions[0])
}
