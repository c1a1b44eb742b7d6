package orb

import (
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// WriteGLB encodes a mesh snapshot as binary glTF.
func WriteGLB(w io.Writer, positions []mgl32.Vec3, indices []uint32) error {
	if len(positions) == 0 {
		return fmt.Errorf("orb: empty mesh")
	}

	doc := gltf.NewDocument()

	pos := make([][3]float32, len(positions))
	for i, p := range positions {
		pos[i] = [3]float32{p[0], p[1], p[2]}
	}

	posAcc := modeler.WritePosition(doc, pos)
	idxAcc := modeler.WriteIndices(doc, indices)

	doc.Meshes = []*gltf.Mesh{{
		Name: "orb",
		Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(idxAcc),
			Attributes: gltf.PrimitiveAttributes{gltf.POSITION: posAcc},
		}},
	}}
	doc.Nodes = []*gltf.Node{{Name: "orb", Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)

	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("orb: encode glb: %w", err)
	}
	return nil
}
