// Package meshcut removes vertices and triangles from a mesh while keeping
// every per-vertex stream, the ragged skin weight table, the blendshape
// deltas and the triangle indices consistent with each other.
package meshcut

import (
	"errors"
	"fmt"

	"github.com/Faultbox/skinmerge/pkg/mesh"
)

// Cutter errors.
var (
	ErrNilMesh          = errors.New("meshcut: nil mesh")
	ErrVertexOutOfRange = errors.New("meshcut: vertex index out of range")
	ErrFinalized        = errors.New("meshcut: removal set already flushed")
	ErrApplied          = errors.New("meshcut: cut already applied")
	ErrMaterialCount    = errors.New("meshcut: material count does not match sub-mesh count")
)

type mark uint8

const (
	markKeep mark = iota
	markRemove
	markAggressive
)

// Options tunes a cut.
type Options struct {
	// RemoveEmptySubMeshes drops sub-meshes left without triangles and
	// reports their original slots in Result.RemovedSubMeshes.
	RemoveEmptySubMeshes bool
}

// Cutter collects vertex removal requests for one mesh and applies them in
// a single compaction pass. The mesh is modified in place by Apply.
type Cutter struct {
	mesh    *mesh.Mesh
	opts    Options
	marks   []mark
	marked  int
	flushed bool
	applied bool

	// Filled by Flush.
	triangleAlive [][]bool // per sub-mesh, per triangle
	refCount      []int
}

// Result describes an applied cut.
type Result struct {
	Mesh *mesh.Mesh

	// VertexMap maps every original vertex to its new index, or -1.
	VertexMap []int

	// RemovedSubMeshes lists the original sub-mesh slots that were dropped,
	// in ascending order.
	RemovedSubMeshes []int

	RemovedVertices  int
	RemovedTriangles int
}

// New returns a cutter for m. A mesh that fails Validate is rejected.
func New(m *mesh.Mesh, opts Options) (*Cutter, error) {
	if m == nil {
		return nil, ErrNilMesh
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("meshcut: %w", err)
	}
	return &Cutter{
		mesh:  m,
		opts:  opts,
		marks: make([]mark, m.VertexCount()),
	}, nil
}

// RemoveVertex marks vertex i for removal. An aggressive mark deletes every
// triangle touching the vertex; a plain mark only deletes triangles whose
// three vertices are all marked. Repeated calls are idempotent and the
// stronger mark wins.
func (c *Cutter) RemoveVertex(i int, aggressive bool) error {
	if c.flushed {
		return ErrFinalized
	}
	if i < 0 || i >= len(c.marks) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrVertexOutOfRange, i, len(c.marks))
	}

	want := markRemove
	if aggressive {
		want = markAggressive
	}
	if c.marks[i] == markKeep {
		c.marked++
	}
	if want > c.marks[i] {
		c.marks[i] = want
	}
	return nil
}

// MarkedCount returns how many distinct vertices are marked.
func (c *Cutter) MarkedCount() int {
	return c.marked
}

// Flush finalizes the removal set and decides triangle survival. Further
// RemoveVertex calls fail. Calling Flush again is a no-op.
func (c *Cutter) Flush() {
	if c.flushed {
		return
	}
	c.flushed = true

	m := c.mesh
	c.refCount = make([]int, m.VertexCount())
	c.triangleAlive = make([][]bool, len(m.SubMeshes))

	for s := range m.SubMeshes {
		idx := m.SubMeshIndices(s)
		alive := make([]bool, len(idx)/3)
		for t := range alive {
			a, b, cc := c.marks[idx[t*3]], c.marks[idx[t*3+1]], c.marks[idx[t*3+2]]
			dead := a == markAggressive || b == markAggressive || cc == markAggressive ||
				(a != markKeep && b != markKeep && cc != markKeep)
			if dead {
				continue
			}
			alive[t] = true
			c.refCount[idx[t*3]]++
			c.refCount[idx[t*3+1]]++
			c.refCount[idx[t*3+2]]++
		}
		c.triangleAlive[s] = alive
	}
}

// VertexAlive reports whether vertex i survives the cut. Only valid after
// Flush. A marked vertex still survives while a surviving triangle uses it.
func (c *Cutter) VertexAlive(i int) bool {
	return c.refCount[i] > 0
}

// Apply flushes if needed and compacts the mesh. Without any marked vertex
// the mesh is returned untouched unless empty sub-meshes must be dropped.
func (c *Cutter) Apply() (*Result, error) {
	if c.applied {
		return nil, ErrApplied
	}
	c.Flush()
	c.applied = true

	m := c.mesh
	n := m.VertexCount()

	if c.marked == 0 && !c.opts.RemoveEmptySubMeshes {
		vertexMap := make([]int, n)
		for i := range vertexMap {
			vertexMap[i] = i
		}
		return &Result{Mesh: m, VertexMap: vertexMap}, nil
	}

	live := make([]bool, n)
	vertexMap := make([]int, n)
	next := 0
	for v := 0; v < n; v++ {
		if c.refCount[v] > 0 {
			live[v] = true
			vertexMap[v] = next
			next++
		} else {
			vertexMap[v] = -1
		}
	}

	res := &Result{Mesh: m, VertexMap: vertexMap, RemovedVertices: n - next}
	compactStreams(m, live)
	res.RemovedTriangles, res.RemovedSubMeshes = c.rebuildSubMeshes(vertexMap)
	m.RecalculateBounds()
	return res, nil
}

// rebuildSubMeshes rewrites the index buffer with surviving triangles and
// renumbers every sub-mesh range.
func (c *Cutter) rebuildSubMeshes(vertexMap []int) (removedTriangles int, removedSubMeshes []int) {
	m := c.mesh

	// liveBefore[v] counts live vertices below v so an old range start can
	// be mapped even when the start vertex itself was removed.
	liveBefore := make([]int, len(vertexMap)+1)
	for v, nv := range vertexMap {
		liveBefore[v+1] = liveBefore[v]
		if nv >= 0 {
			liveBefore[v+1]++
		}
	}

	indices := make([]uint32, 0, len(m.Indices))
	subMeshes := make([]mesh.SubMesh, 0, len(m.SubMeshes))
	for s, sm := range m.SubMeshes {
		start := len(indices)
		idx := m.Indices[sm.IndexStart : sm.IndexStart+sm.IndexCount]
		for t, alive := range c.triangleAlive[s] {
			if !alive {
				removedTriangles++
				continue
			}
			for k := 0; k < 3; k++ {
				indices = append(indices, uint32(vertexMap[idx[t*3+k]]))
			}
		}

		end := sm.FirstVertex + sm.VertexCount
		out := mesh.SubMesh{
			IndexStart:  start,
			IndexCount:  len(indices) - start,
			FirstVertex: liveBefore[sm.FirstVertex],
			VertexCount: liveBefore[end] - liveBefore[sm.FirstVertex],
		}
		if out.IndexCount == 0 && c.opts.RemoveEmptySubMeshes {
			removedSubMeshes = append(removedSubMeshes, s)
			continue
		}
		subMeshes = append(subMeshes, out)
	}

	m.Indices = indices
	m.SubMeshes = subMeshes
	return removedTriangles, removedSubMeshes
}

// AdjustMaterials drops the entries of a material list that correspond to
// removed sub-mesh slots. The list must have one entry per original
// sub-mesh.
func AdjustMaterials[T any](materials []T, subMeshCount int, removed []int) ([]T, error) {
	if len(materials) != subMeshCount {
		return nil, fmt.Errorf("%w: %d materials, %d sub-meshes", ErrMaterialCount, len(materials), subMeshCount)
	}
	drop := make(map[int]bool, len(removed))
	for _, r := range removed {
		if r < 0 || r >= subMeshCount {
			return nil, fmt.Errorf("%w: removed slot %d of %d", ErrMaterialCount, r, subMeshCount)
		}
		drop[r] = true
	}
	out := make([]T, 0, len(materials)-len(drop))
	for i, mat := range materials {
		if !drop[i] {
			out = append(out, mat)
		}
	}
	return out, nil
}
