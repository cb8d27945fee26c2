package meshcut

import "github.com/Faultbox/skinmerge/pkg/mesh"

// compactStreams shifts every surviving per-vertex entry down in place.
// Absent streams stay nil and bindposes are per bone, so they are left alone.
func compactStreams(m *mesh.Mesh, live []bool) {
	m.Vertices = compact(m.Vertices, live)
	m.Normals = compact(m.Normals, live)
	m.Tangents = compact(m.Tangents, live)
	m.Colors = compact(m.Colors, live)
	for i := range m.UVs {
		m.UVs[i].Data = compact(m.UVs[i].Data, live)
	}

	if m.HasBoneWeights() {
		compactSkin(m, live)
	}

	for s := range m.BlendShapes {
		frames := m.BlendShapes[s].Frames
		for f := range frames {
			frames[f].DeltaVertices = compact(frames[f].DeltaVertices, live)
			frames[f].DeltaNormals = compact(frames[f].DeltaNormals, live)
			frames[f].DeltaTangents = compact(frames[f].DeltaTangents, live)
		}
	}
}

func compact[T any](s []T, live []bool) []T {
	if s == nil {
		return nil
	}
	w := 0
	for r := range s {
		if live[r] {
			s[w] = s[r]
			w++
		}
	}
	return s[:w]
}

// compactSkin compacts the ragged weight table. The read and write cursors
// into BoneWeights advance by each vertex's own count, independent of the
// vertex cursor.
func compactSkin(m *mesh.Mesh, live []bool) {
	counts := m.BonesPerVertex
	weights := m.BoneWeights

	wv, rw, ww := 0, 0, 0
	for v, cnt := range counts {
		c := int(cnt)
		if live[v] {
			copy(weights[ww:ww+c], weights[rw:rw+c])
			counts[wv] = cnt
			wv++
			ww += c
		}
		rw += c
	}
	m.BonesPerVertex = counts[:wv]
	m.BoneWeights = weights[:ww]
}
