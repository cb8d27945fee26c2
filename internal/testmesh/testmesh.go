// Package testmesh builds small meshes and skeletons for package tests.
package testmesh

import (
	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
)

// Strip returns a triangle strip of n vertices (n >= 3) laid out along X in
// two rows, as one sub-mesh with n-2 triangles. Normals, UV0 and colors are
// filled so every optional stream is exercised.
func Strip(n int) *mesh.Mesh {
	m := &mesh.Mesh{Name: "strip"}
	for i := 0; i < n; i++ {
		y := float32(i % 2)
		x := float32(i / 2)
		m.Vertices = append(m.Vertices, math.Vec3{X: x, Y: y})
		m.Normals = append(m.Normals, math.Vec3{Z: 1})
		m.Colors = append(m.Colors, math.Vec4{1, 1, 1, 1})
		m.UVs[0].Data = append(m.UVs[0].Data, math.Vec4{x, y, 0, 0})
	}
	m.UVs[0].Dimension = 2
	for i := 0; i+2 < n; i++ {
		if i%2 == 0 {
			m.Indices = append(m.Indices, uint32(i), uint32(i+2), uint32(i+1))
		} else {
			m.Indices = append(m.Indices, uint32(i), uint32(i+1), uint32(i+2))
		}
	}
	m.SubMeshes = []mesh.SubMesh{{IndexStart: 0, IndexCount: len(m.Indices), FirstVertex: 0, VertexCount: n}}
	m.RecalculateBounds()
	return m
}

// Append appends b to a as a new sub-mesh and returns a.
func Append(a, b *mesh.Mesh) *mesh.Mesh {
	base := len(a.Vertices)
	start := len(a.Indices)
	a.Vertices = append(a.Vertices, b.Vertices...)
	a.Normals = append(a.Normals, b.Normals...)
	a.Colors = append(a.Colors, b.Colors...)
	a.UVs[0].Data = append(a.UVs[0].Data, b.UVs[0].Data...)
	a.BonesPerVertex = append(a.BonesPerVertex, b.BonesPerVertex...)
	a.BoneWeights = append(a.BoneWeights, b.BoneWeights...)
	for _, idx := range b.Indices {
		a.Indices = append(a.Indices, idx+uint32(base))
	}
	a.SubMeshes = append(a.SubMeshes, mesh.SubMesh{
		IndexStart:  start,
		IndexCount:  len(b.Indices),
		FirstVertex: base,
		VertexCount: len(b.Vertices),
	})
	a.RecalculateBounds()
	return a
}

// SkinToBones gives vertex i a single full-weight influence on bone
// i % boneCount and identity bindposes.
func SkinToBones(m *mesh.Mesh, boneCount int) {
	n := m.VertexCount()
	m.BonesPerVertex = make([]uint8, n)
	m.BoneWeights = make([]mesh.BoneWeight, n)
	for i := 0; i < n; i++ {
		m.BonesPerVertex[i] = 1
		m.BoneWeights[i] = mesh.BoneWeight{BoneIndex: i % boneCount, Weight: 1}
	}
	m.Bindposes = make([]math.Mat4, boneCount)
	for i := range m.Bindposes {
		m.Bindposes[i] = math.Identity()
	}
}

// Shape returns a single-frame blendshape moving the listed vertices by
// delta along +Z at the given frame weight.
func Shape(name string, vertexCount int, weight float32, delta float32, vertices ...int) mesh.BlendShape {
	dv := make([]math.Vec3, vertexCount)
	for _, v := range vertices {
		dv[v] = math.Vec3{Z: delta}
	}
	return mesh.BlendShape{
		Name:   name,
		Frames: []mesh.BlendShapeFrame{{Weight: weight, DeltaVertices: dv}},
	}
}
