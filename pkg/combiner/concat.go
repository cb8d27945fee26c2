package combiner

import (
	"fmt"

	"github.com/Faultbox/skinmerge/pkg/blendshape"
	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
)

// Stream defaults for instances lacking a stream another instance has.
var (
	defaultNormal  = math.Vec3{Z: 1}
	defaultTangent = math.Vec4{1, 0, 0, 1}
	defaultColor   = math.Vec4{1, 1, 1, 1}
)

// concatenate copies the vertex range and triangles of every instance into
// a new mesh, applying instance transforms. With single set all instances
// share one sub-mesh, otherwise each gets its own. Blendshapes of every
// instance are registered with merger at their destination offset.
func concatenate(name string, insts []*instance, single bool, merger *blendshape.Merger) (*mesh.Mesh, error) {
	var hasNormals, hasTangents, hasColors, hasSkin bool
	var uvDims [mesh.MaxUVChannels]int
	total := 0
	for _, in := range insts {
		m := in.mesh
		hasNormals = hasNormals || m.Normals != nil
		hasTangents = hasTangents || m.Tangents != nil
		hasColors = hasColors || m.Colors != nil
		hasSkin = hasSkin || m.HasBoneWeights()
		for ch, uv := range m.UVs {
			if uv.Data != nil {
				uvDims[ch] = max(uvDims[ch], uv.Dimension)
			}
		}
		total += m.SubMeshes[in.subMesh].VertexCount
	}

	out := &mesh.Mesh{Name: name, Vertices: make([]math.Vec3, 0, total)}
	if hasNormals {
		out.Normals = make([]math.Vec3, 0, total)
	}
	if hasTangents {
		out.Tangents = make([]math.Vec4, 0, total)
	}
	if hasColors {
		out.Colors = make([]math.Vec4, 0, total)
	}
	if hasSkin {
		out.BonesPerVertex = make([]uint8, 0, total)
	}
	for ch, d := range uvDims {
		if d > 0 {
			out.UVs[ch] = mesh.UVChannel{Dimension: d, Data: make([]math.Vec4, 0, total)}
		}
	}

	for _, in := range insts {
		m := in.mesh
		sm := m.SubMeshes[in.subMesh]
		lo, hi := sm.FirstVertex, sm.FirstVertex+sm.VertexCount
		base := len(out.Vertices)

		xf, nxf := math.Identity(), math.Identity()
		if in.transform != nil {
			xf = *in.transform
			nxf = xf.NormalMatrix()
		}

		for v := lo; v < hi; v++ {
			out.Vertices = append(out.Vertices, xf.TransformPoint(m.Vertices[v]))
			if hasNormals {
				n := defaultNormal
				if m.Normals != nil {
					n = nxf.TransformDirection(m.Normals[v]).Normalize()
				}
				out.Normals = append(out.Normals, n)
			}
			if hasTangents {
				t := defaultTangent
				if m.Tangents != nil {
					d := xf.TransformDirection(m.Tangents[v].XYZ()).Normalize()
					t = math.Vec4{d.X, d.Y, d.Z, m.Tangents[v][3]}
				}
				out.Tangents = append(out.Tangents, t)
			}
			if hasColors {
				col := defaultColor
				if m.Colors != nil {
					col = m.Colors[v]
				}
				out.Colors = append(out.Colors, col)
			}
		}

		for ch, d := range uvDims {
			if d == 0 {
				continue
			}
			if src := m.UVs[ch].Data; src != nil {
				out.UVs[ch].Data = append(out.UVs[ch].Data, src[lo:hi]...)
			} else {
				out.UVs[ch].Data = append(out.UVs[ch].Data, make([]math.Vec4, sm.VertexCount)...)
			}
		}

		if hasSkin {
			if m.HasBoneWeights() {
				offsets := m.WeightOffsets()
				out.BonesPerVertex = append(out.BonesPerVertex, m.BonesPerVertex[lo:hi]...)
				out.BoneWeights = append(out.BoneWeights, m.BoneWeights[offsets[lo]:offsets[hi]]...)
			} else {
				out.BonesPerVertex = append(out.BonesPerVertex, make([]uint8, sm.VertexCount)...)
			}
		}

		start := len(out.Indices)
		for _, idx := range m.SubMeshIndices(in.subMesh) {
			out.Indices = append(out.Indices, idx-uint32(lo)+uint32(base))
		}
		if single && len(out.SubMeshes) > 0 {
			out.SubMeshes[0].IndexCount = len(out.Indices)
			out.SubMeshes[0].VertexCount = len(out.Vertices)
		} else {
			out.SubMeshes = append(out.SubMeshes, mesh.SubMesh{
				IndexStart:  start,
				IndexCount:  len(out.Indices) - start,
				FirstVertex: base,
				VertexCount: sm.VertexCount,
			})
		}

		if merger == nil {
			continue
		}
		for s := range m.BlendShapes {
			if err := merger.AddFrom(m, in.subMesh, s, base, in.transform); err != nil {
				return nil, fmt.Errorf("concatenate %q: %w", name, err)
			}
		}
	}

	out.RecalculateBounds()
	return out, nil
}
