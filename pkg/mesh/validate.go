package mesh

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"
)

// ErrInvalidMesh is wrapped by every invariant violation Validate reports.
var ErrInvalidMesh = errors.New("invalid mesh")

// Validate checks the structural invariants of the mesh and returns every
// violation found, combined with multierr.
func (m *Mesh) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil mesh", ErrInvalidMesh)
	}

	n := len(m.Vertices)
	var err error

	checkLen := func(name string, got int) {
		if got != 0 && got != n {
			err = multierr.Append(err, fmt.Errorf("%w: %s length %d, want %d", ErrInvalidMesh, name, got, n))
		}
	}
	checkLen("normals", len(m.Normals))
	checkLen("tangents", len(m.Tangents))
	checkLen("colors", len(m.Colors))
	for i, uv := range m.UVs {
		checkLen(fmt.Sprintf("uv%d", i), len(uv.Data))
	}
	checkLen("bones per vertex", len(m.BonesPerVertex))

	for i, idx := range m.Indices {
		if int(idx) >= n {
			err = multierr.Append(err, fmt.Errorf("%w: index %d references vertex %d of %d", ErrInvalidMesh, i, idx, n))
			break
		}
	}

	err = multierr.Append(err, m.validateSubMeshes())
	err = multierr.Append(err, m.validateSkin())

	for i := range m.BlendShapes {
		if e := checkBlendShape(&m.BlendShapes[i], n); e != nil {
			err = multierr.Append(err, fmt.Errorf("%w: %w", ErrInvalidMesh, e))
		}
	}
	return err
}

func (m *Mesh) validateSubMeshes() error {
	var err error
	n := len(m.Vertices)

	for i, sm := range m.SubMeshes {
		if sm.IndexCount%3 != 0 {
			err = multierr.Append(err, fmt.Errorf("%w: sub-mesh %d index count %d not a multiple of 3", ErrInvalidMesh, i, sm.IndexCount))
		}
		if sm.IndexStart < 0 || sm.IndexCount < 0 || sm.IndexStart+sm.IndexCount > len(m.Indices) {
			err = multierr.Append(err, fmt.Errorf("%w: sub-mesh %d index range [%d,+%d) outside %d indices", ErrInvalidMesh, i, sm.IndexStart, sm.IndexCount, len(m.Indices)))
			continue
		}
		if sm.FirstVertex < 0 || sm.VertexCount < 0 || sm.FirstVertex+sm.VertexCount > n {
			err = multierr.Append(err, fmt.Errorf("%w: sub-mesh %d vertex range [%d,+%d) outside %d vertices", ErrInvalidMesh, i, sm.FirstVertex, sm.VertexCount, n))
			continue
		}
		for _, idx := range m.SubMeshIndices(i) {
			if int(idx) < sm.FirstVertex || int(idx) >= sm.FirstVertex+sm.VertexCount {
				err = multierr.Append(err, fmt.Errorf("%w: sub-mesh %d references vertex %d outside its range", ErrInvalidMesh, i, idx))
				break
			}
		}
	}

	order := make([]int, len(m.SubMeshes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return m.SubMeshes[order[a]].FirstVertex < m.SubMeshes[order[b]].FirstVertex
	})
	for k := 1; k < len(order); k++ {
		prev, cur := m.SubMeshes[order[k-1]], m.SubMeshes[order[k]]
		if prev.VertexCount > 0 && cur.VertexCount > 0 && prev.FirstVertex+prev.VertexCount > cur.FirstVertex {
			err = multierr.Append(err, fmt.Errorf("%w: sub-meshes %d and %d overlap", ErrInvalidMesh, order[k-1], order[k]))
		}
	}
	return err
}

func (m *Mesh) validateSkin() error {
	if !m.HasBoneWeights() {
		if len(m.BoneWeights) != 0 {
			return fmt.Errorf("%w: %d bone weights without per-vertex counts", ErrInvalidMesh, len(m.BoneWeights))
		}
		return nil
	}

	total := 0
	for _, c := range m.BonesPerVertex {
		total += int(c)
	}
	if total != len(m.BoneWeights) {
		return fmt.Errorf("%w: bone counts sum to %d, have %d weights", ErrInvalidMesh, total, len(m.BoneWeights))
	}
	for i, bw := range m.BoneWeights {
		if bw.BoneIndex < 0 || bw.BoneIndex >= len(m.Bindposes) {
			return fmt.Errorf("%w: weight %d references bone %d of %d bindposes", ErrInvalidMesh, i, bw.BoneIndex, len(m.Bindposes))
		}
	}
	return nil
}
