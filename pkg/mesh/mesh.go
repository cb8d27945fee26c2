// Package mesh holds the in-memory mesh representation consumed and produced
// by the combiner: per-vertex attribute streams, sub-meshes, ragged skin
// weights, bindposes and keyframed blendshapes.
package mesh

import (
	"fmt"
	"slices"

	"github.com/Faultbox/skinmerge/pkg/math"
)

// MaxUVChannels is the number of texture coordinate channels a mesh carries.
const MaxUVChannels = 8

// MaxUInt16Vertices is the largest vertex count addressable with 16-bit indices.
const MaxUInt16Vertices = 65535

// IndexFormat is the width of the index buffer.
type IndexFormat int

const (
	IndexUInt16 IndexFormat = 0
	IndexUInt32 IndexFormat = 1
)

// String returns a human-readable index format name.
func (f IndexFormat) String() string {
	switch f {
	case IndexUInt16:
		return "UInt16"
	case IndexUInt32:
		return "UInt32"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// BoneWeight is one skin influence of a vertex.
type BoneWeight struct {
	BoneIndex int
	Weight    float32
}

// SubMesh is a contiguous triangle range drawn with one material. The
// triangles only reference vertices in [FirstVertex, FirstVertex+VertexCount).
type SubMesh struct {
	IndexStart  int // Offset into Mesh.Indices
	IndexCount  int // Multiple of 3
	FirstVertex int
	VertexCount int
}

// UVChannel holds one texture coordinate stream. Dimension is 2, 3 or 4;
// unused components are zero.
type UVChannel struct {
	Dimension int
	Data      []math.Vec4
}

// Mesh is a triangle mesh. Optional streams are nil when absent.
type Mesh struct {
	Name string

	Vertices []math.Vec3
	Normals  []math.Vec3
	Tangents []math.Vec4
	Colors   []math.Vec4
	UVs      [MaxUVChannels]UVChannel

	// Skin weights use a ragged layout: vertex v owns BonesPerVertex[v]
	// consecutive entries of BoneWeights.
	BonesPerVertex []uint8
	BoneWeights    []BoneWeight
	Bindposes      []math.Mat4

	Indices   []uint32
	SubMeshes []SubMesh

	BlendShapes []BlendShape

	Bounds      Bounds
	IndexFormat IndexFormat
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices)
}

// HasBoneWeights reports whether the mesh carries a skin weight table.
func (m *Mesh) HasBoneWeights() bool {
	return len(m.BonesPerVertex) > 0
}

// WeightOffsets returns, for every vertex, the index of its first entry in
// BoneWeights. The extra trailing element equals len(BoneWeights).
func (m *Mesh) WeightOffsets() []int {
	offsets := make([]int, len(m.BonesPerVertex)+1)
	for i, c := range m.BonesPerVertex {
		offsets[i+1] = offsets[i] + int(c)
	}
	return offsets
}

// SubMeshIndices returns the index slice of sub-mesh i. The slice aliases
// m.Indices.
func (m *Mesh) SubMeshIndices(i int) []uint32 {
	sm := m.SubMeshes[i]
	return m.Indices[sm.IndexStart : sm.IndexStart+sm.IndexCount]
}

// TriangleCount returns the number of triangles across all sub-meshes.
func (m *Mesh) TriangleCount() int {
	total := 0
	for _, sm := range m.SubMeshes {
		total += sm.IndexCount / 3
	}
	return total
}

// BlendShapeIndex returns the index of the named blendshape or -1.
func (m *Mesh) BlendShapeIndex(name string) int {
	for i := range m.BlendShapes {
		if m.BlendShapes[i].Name == name {
			return i
		}
	}
	return -1
}

// UpdateIndexFormat widens the index format when the vertex count no longer
// fits 16-bit indices. Returns true when the format was widened.
func (m *Mesh) UpdateIndexFormat() bool {
	if len(m.Vertices) > MaxUInt16Vertices && m.IndexFormat != IndexUInt32 {
		m.IndexFormat = IndexUInt32
		return true
	}
	return false
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	c := &Mesh{
		Name:           m.Name,
		Vertices:       slices.Clone(m.Vertices),
		Normals:        slices.Clone(m.Normals),
		Tangents:       slices.Clone(m.Tangents),
		Colors:         slices.Clone(m.Colors),
		BonesPerVertex: slices.Clone(m.BonesPerVertex),
		BoneWeights:    slices.Clone(m.BoneWeights),
		Bindposes:      slices.Clone(m.Bindposes),
		Indices:        slices.Clone(m.Indices),
		SubMeshes:      slices.Clone(m.SubMeshes),
		Bounds:         m.Bounds,
		IndexFormat:    m.IndexFormat,
	}
	for i, uv := range m.UVs {
		c.UVs[i] = UVChannel{Dimension: uv.Dimension, Data: slices.Clone(uv.Data)}
	}
	if m.BlendShapes != nil {
		c.BlendShapes = make([]BlendShape, len(m.BlendShapes))
		for i := range m.BlendShapes {
			c.BlendShapes[i] = m.BlendShapes[i].Clone()
		}
	}
	return c
}
