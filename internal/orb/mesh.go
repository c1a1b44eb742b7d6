// Package orb builds and animates the noise-deformed orb mesh.
package orb

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Mesh is a fixed-topology triangulated sphere. Original is never modified
// after construction; Positions is the working copy rewritten each frame.
type Mesh struct {
	Original  []mgl32.Vec3
	Positions []mgl32.Vec3
	Indices   []uint32
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Original)
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Reset copies the original positions back into the working copy.
func (m *Mesh) Reset() {
	copy(m.Positions, m.Original)
}

// NewIcosphere builds an icosahedron of the given radius, subdivided detail
// times. Detail 0 is the bare icosahedron (12 vertices); detail 1 gives 42.
func NewIcosphere(radius float32, detail int) *Mesh {
	if detail < 0 {
		detail = 0
	}

	t := float32((1 + math.Sqrt(5)) / 2)
	verts := []mgl32.Vec3{
		{-1, t, 0}, {1, t, 0}, {-1, -t, 0}, {1, -t, 0},
		{0, -1, t}, {0, 1, t}, {0, -1, -t}, {0, 1, -t},
		{t, 0, -1}, {t, 0, 1}, {-t, 0, -1}, {-t, 0, 1},
	}
	for i := range verts {
		verts[i] = verts[i].Normalize().Mul(radius)
	}

	faces := []uint32{
		0, 11, 5, 0, 5, 1, 0, 1, 7, 0, 7, 10, 0, 10, 11,
		1, 5, 9, 5, 11, 4, 11, 10, 2, 10, 7, 6, 7, 1, 8,
		3, 9, 4, 3, 4, 2, 3, 2, 6, 3, 6, 8, 3, 8, 9,
		4, 9, 5, 2, 4, 11, 6, 2, 10, 8, 6, 7, 9, 8, 1,
	}

	for d := 0; d < detail; d++ {
		verts, faces = subdivide(verts, faces, radius)
	}

	positions := make([]mgl32.Vec3, len(verts))
	copy(positions, verts)

	return &Mesh{
		Original:  verts,
		Positions: positions,
		Indices:   faces,
	}
}

type edge struct{ a, b uint32 }

func subdivide(verts []mgl32.Vec3, faces []uint32, radius float32) ([]mgl32.Vec3, []uint32) {
	mids := make(map[edge]uint32, len(faces))

	midpoint := func(a, b uint32) uint32 {
		key := edge{a, b}
		if a > b {
			key = edge{b, a}
		}
		if idx, ok := mids[key]; ok {
			return idx
		}
		mid := verts[a].Add(verts[b]).Mul(0.5).Normalize().Mul(radius)
		verts = append(verts, mid)
		idx := uint32(len(verts) - 1)
		mids[key] = idx
		return idx
	}

	out := make([]uint32, 0, len(faces)*4)
	for i := 0; i+2 < len(faces); i += 3 {
		a, b, c := faces[i], faces[i+1], faces[i+2]
		ab := midpoint(a, b)
		bc := midpoint(b, c)
		ca := midpoint(c, a)
		out = append(out,
			a, ab, ca,
			b, bc, ab,
			c, ca, bc,
			ab, bc, ca,
		)
	}

	return verts, out
}

// WireframeIndices returns the mesh's unique edges for line rendering.
func (m *Mesh) WireframeIndices() []uint32 {
	return EdgeIndices(m.Indices)
}

// EdgeIndices converts triangle indices into a unique edge list.
func EdgeIndices(tris []uint32) []uint32 {
	seen := make(map[edge]struct{}, len(tris))
	lines := make([]uint32, 0, len(tris))

	add := func(a, b uint32) {
		key := edge{a, b}
		if a > b {
			key = edge{b, a}
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		lines = append(lines, key.a, key.b)
	}

	for i := 0; i+2 < len(tris); i += 3 {
		a, b, c := tris[i], tris[i+1], tris[i+2]
		add(a, b)
		add(b, c)
		add(c, a)
	}
	return lines
}
