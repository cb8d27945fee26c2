package mesh

import (
	"github.com/Faultbox/skinmerge/pkg/math"
)

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min math.Vec3
	Max math.Vec3
}

// EmptyBounds returns an inverted box that any point will expand.
func EmptyBounds() Bounds {
	return Bounds{
		Min: math.Vec3{X: 1e30, Y: 1e30, Z: 1e30},
		Max: math.Vec3{X: -1e30, Y: -1e30, Z: -1e30},
	}
}

// IsEmpty reports whether no point has been added.
func (b Bounds) IsEmpty() bool {
	return b.Min.X > b.Max.X
}

// Encapsulate grows the box to contain p.
func (b *Bounds) Encapsulate(p math.Vec3) {
	b.Min = b.Min.Min(p)
	b.Max = b.Max.Max(p)
}

// Union grows the box to contain other.
func (b *Bounds) Union(other Bounds) {
	if other.IsEmpty() {
		return
	}
	b.Encapsulate(other.Min)
	b.Encapsulate(other.Max)
}

// Center returns the box center.
func (b Bounds) Center() math.Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// Corners returns the eight box corners.
func (b Bounds) Corners() [8]math.Vec3 {
	return [8]math.Vec3{
		{X: b.Min.X, Y: b.Min.Y, Z: b.Min.Z},
		{X: b.Max.X, Y: b.Min.Y, Z: b.Min.Z},
		{X: b.Min.X, Y: b.Max.Y, Z: b.Min.Z},
		{X: b.Max.X, Y: b.Max.Y, Z: b.Min.Z},
		{X: b.Min.X, Y: b.Min.Y, Z: b.Max.Z},
		{X: b.Max.X, Y: b.Min.Y, Z: b.Max.Z},
		{X: b.Min.X, Y: b.Max.Y, Z: b.Max.Z},
		{X: b.Max.X, Y: b.Max.Y, Z: b.Max.Z},
	}
}

// Transform returns the box enclosing b transformed by m.
func (b Bounds) Transform(m math.Mat4) Bounds {
	out := EmptyBounds()
	if b.IsEmpty() {
		return out
	}
	for _, c := range b.Corners() {
		out.Encapsulate(m.TransformPoint(c))
	}
	return out
}

// RecalculateBounds recomputes Bounds from the vertex positions.
func (m *Mesh) RecalculateBounds() {
	b := EmptyBounds()
	for _, v := range m.Vertices {
		b.Encapsulate(v)
	}
	if b.IsEmpty() {
		b = Bounds{}
	}
	m.Bounds = b
}

// NormalsFor computes area-weighted vertex normals for the mesh topology
// using the given positions. Vertices not referenced by any triangle get
// the zero vector.
func (m *Mesh) NormalsFor(positions []math.Vec3) []math.Vec3 {
	normals := make([]math.Vec3, len(positions))
	for t := 0; t+2 < len(m.Indices); t += 3 {
		a, b, c := m.Indices[t], m.Indices[t+1], m.Indices[t+2]
		e1 := positions[b].Sub(positions[a])
		e2 := positions[c].Sub(positions[a])
		// Unnormalized cross product weights by triangle area.
		n := e1.Cross(e2)
		normals[a] = normals[a].Add(n)
		normals[b] = normals[b].Add(n)
		normals[c] = normals[c].Add(n)
	}
	for i := range normals {
		normals[i] = normals[i].Normalize()
	}
	return normals
}

// RecalculateNormals replaces Normals with computed vertex normals.
func (m *Mesh) RecalculateNormals() {
	m.Normals = m.NormalsFor(m.Vertices)
}

// TangentsFor computes per-vertex tangents from UV channel 0. Returns nil
// when the mesh has no UV0 or the normals are missing.
func (m *Mesh) TangentsFor(positions, normals []math.Vec3) []math.Vec4 {
	uv := m.UVs[0].Data
	if len(uv) != len(positions) || len(normals) != len(positions) {
		return nil
	}

	tan := make([]math.Vec3, len(positions))
	bitan := make([]math.Vec3, len(positions))
	for t := 0; t+2 < len(m.Indices); t += 3 {
		a, b, c := m.Indices[t], m.Indices[t+1], m.Indices[t+2]
		e1 := positions[b].Sub(positions[a])
		e2 := positions[c].Sub(positions[a])
		du1, dv1 := uv[b][0]-uv[a][0], uv[b][1]-uv[a][1]
		du2, dv2 := uv[c][0]-uv[a][0], uv[c][1]-uv[a][1]

		det := du1*dv2 - du2*dv1
		if det == 0 {
			continue
		}
		r := 1 / det
		sdir := e1.Scale(dv2).Sub(e2.Scale(dv1)).Scale(r)
		tdir := e2.Scale(du1).Sub(e1.Scale(du2)).Scale(r)
		for _, v := range [3]uint32{a, b, c} {
			tan[v] = tan[v].Add(sdir)
			bitan[v] = bitan[v].Add(tdir)
		}
	}

	out := make([]math.Vec4, len(positions))
	for i, n := range normals {
		// Gram-Schmidt orthogonalize against the normal.
		t := tan[i].Sub(n.Scale(n.Dot(tan[i]))).Normalize()
		if t == (math.Vec3{}) {
			out[i] = math.Vec4{1, 0, 0, 1}
			continue
		}
		w := float32(1)
		if n.Cross(t).Dot(bitan[i]) < 0 {
			w = -1
		}
		out[i] = math.Vec4{t.X, t.Y, t.Z, w}
	}
	return out
}

// RecalculateTangents replaces Tangents with computed tangents. The mesh is
// left unchanged when UV0 or normals are missing.
func (m *Mesh) RecalculateTangents() {
	if t := m.TangentsFor(m.Vertices, m.Normals); t != nil {
		m.Tangents = t
	}
}
