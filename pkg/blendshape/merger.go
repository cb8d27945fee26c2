package blendshape

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/skinmerge/internal/collections"
	"github.com/Faultbox/skinmerge/internal/logger"
	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
)

// ErrInvalidContribution is returned by AddFrom for a nil mesh or an out of
// range sub-mesh or blendshape index.
var ErrInvalidContribution = errors.New("blendshape: invalid contribution")

type regionKey struct {
	mesh    *mesh.Mesh
	subMesh int
}

// region is one source sub-mesh's share of a destination blendshape.
type region struct {
	src       *mesh.Mesh
	subMesh   int
	shape     int
	dstOffset int

	transformed bool
	linear      math.Mat4
	normal      math.Mat4
}

// Merger collects blendshape contributions per destination name and writes
// merged timelines into a destination mesh.
type Merger struct {
	rename  map[string]string
	names   []string
	regions map[string][]region
	seen    map[string]map[regionKey]struct{}
}

// NewMerger returns an empty merger. Source blendshape names found in
// rename are registered under the mapped name.
func NewMerger(rename map[string]string) *Merger {
	return &Merger{
		rename:  rename,
		regions: make(map[string][]region),
		seen:    make(map[string]map[regionKey]struct{}),
	}
}

// Name returns the destination name for a source blendshape name.
func (m *Merger) Name(source string) string {
	if to, ok := m.rename[source]; ok && to != "" {
		return to
	}
	return source
}

// Names returns the registered destination names in registration order.
func (m *Merger) Names() []string {
	return slices.Clone(m.names)
}

// Len returns the number of registered destination names.
func (m *Merger) Len() int {
	return len(m.names)
}

// AddFrom registers blendshape shapeIndex of src, restricted to the
// vertices of sub-mesh subMesh, as the destination range starting at
// dstOffset. A (mesh, sub-mesh) pair is registered at most once per name.
// When xf is non-nil the deltas are re-oriented by its linear part.
func (m *Merger) AddFrom(src *mesh.Mesh, subMesh, shapeIndex, dstOffset int, xf *math.Mat4) error {
	if src == nil {
		return fmt.Errorf("%w: nil mesh", ErrInvalidContribution)
	}
	if subMesh < 0 || subMesh >= len(src.SubMeshes) {
		return fmt.Errorf("%w: sub-mesh %d of %q", ErrInvalidContribution, subMesh, src.Name)
	}
	if shapeIndex < 0 || shapeIndex >= len(src.BlendShapes) {
		return fmt.Errorf("%w: blendshape %d of %q", ErrInvalidContribution, shapeIndex, src.Name)
	}

	name := m.Name(src.BlendShapes[shapeIndex].Name)
	seen := collections.GetOrCreate(m.seen, name, func() map[regionKey]struct{} {
		m.names = append(m.names, name)
		return make(map[regionKey]struct{})
	})
	key := regionKey{src, subMesh}
	if _, dup := seen[key]; dup {
		return nil
	}
	seen[key] = struct{}{}

	r := region{src: src, subMesh: subMesh, shape: shapeIndex, dstOffset: dstOffset}
	if xf != nil && !xf.IsIdentity(0) {
		r.transformed = true
		r.linear = *xf
		r.linear[12], r.linear[13], r.linear[14] = 0, 0, 0
		r.normal = r.linear.NormalMatrix()
	}
	m.regions[name] = append(m.regions[name], r)
	return nil
}

// AddMesh registers every blendshape of every sub-mesh of src, with
// sub-mesh i landing at dstOffsets[i].
func (m *Merger) AddMesh(src *mesh.Mesh, dstOffsets []int, xf *math.Mat4) error {
	for sm := range src.SubMeshes {
		if sm >= len(dstOffsets) {
			break
		}
		for s := range src.BlendShapes {
			if err := m.AddFrom(src, sm, s, dstOffsets[sm], xf); err != nil {
				return err
			}
		}
	}
	return nil
}

// Weights returns the sorted union of keyframe weights contributed to name.
func (m *Merger) Weights(name string) []float32 {
	var weights []float32
	for _, r := range m.regions[name] {
		for _, f := range r.src.BlendShapes[r.shape].Frames {
			weights = append(weights, f.Weight)
		}
	}
	slices.Sort(weights)
	return slices.Compact(weights)
}

// ApplyTo synthesizes the merged blendshape name and appends it to dst.
//
// Without CopyVertices nothing is written. A name already present on dst
// is skipped with a warning. Delta streams dropped by mode are recomputed
// from the posed geometry when dst carries that base stream.
func (m *Merger) ApplyTo(dst *mesh.Mesh, name string, mode CopyMode) error {
	regions := m.regions[name]
	if len(regions) == 0 || !mode.Has(CopyVertices) {
		return nil
	}
	if dst.BlendShapeIndex(name) >= 0 {
		logger.Warn("blendshape name already on destination, keeping first",
			zap.String("blendshape", name),
			zap.String("mesh", dst.Name))
		return nil
	}

	n := dst.VertexCount()
	copyNormals := mode.Has(CopyNormals) && dst.Normals != nil
	copyTangents := mode.Has(CopyTangents) && dst.Tangents != nil

	weights := m.Weights(name)
	shape := mesh.BlendShape{Name: name, Frames: make([]mesh.BlendShapeFrame, len(weights))}
	for i, w := range weights {
		f := mesh.BlendShapeFrame{Weight: w, DeltaVertices: make([]math.Vec3, n)}
		if copyNormals {
			f.DeltaNormals = make([]math.Vec3, n)
		}
		if copyTangents {
			f.DeltaTangents = make([]math.Vec3, n)
		}
		for j := range regions {
			if err := regions[j].write(&f, n); err != nil {
				return fmt.Errorf("blendshape %q: %w", name, err)
			}
		}
		shape.Frames[i] = f
	}

	recomputeNormals := dst.Normals != nil && !copyNormals
	recomputeTangents := dst.Tangents != nil && !copyTangents
	if recomputeNormals || recomputeTangents {
		recomputeDeltas(dst, &shape, recomputeNormals, recomputeTangents)
	}

	return dst.AddBlendShape(shape)
}

// ApplyAll applies every registered name in registration order.
func (m *Merger) ApplyAll(dst *mesh.Mesh, mode CopyMode) error {
	for _, name := range m.names {
		if err := m.ApplyTo(dst, name, mode); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops every registration.
func (m *Merger) Reset() {
	m.names = nil
	clear(m.regions)
	clear(m.seen)
}

// write fills this region's destination range of frame f. An exact source
// keyframe is copied; otherwise the bracketing keyframes are interpolated,
// or the single nearest one is reused when the weight lies outside the
// region's own timeline.
func (r *region) write(f *mesh.BlendShapeFrame, dstCount int) error {
	sm := r.src.SubMeshes[r.subMesh]
	if r.dstOffset < 0 || r.dstOffset+sm.VertexCount > dstCount {
		return fmt.Errorf("%w: range [%d,%d) outside %d destination vertices",
			ErrInvalidContribution, r.dstOffset, r.dstOffset+sm.VertexCount, dstCount)
	}

	frames := r.src.BlendShapes[r.shape].Frames
	lo, hi := bracket(frames, f.Weight)
	switch {
	case lo >= 0 && hi >= 0 && lo != hi:
		t := math.InverseLerp(frames[lo].Weight, frames[hi].Weight, f.Weight)
		r.add(f, &frames[lo], 1-t)
		r.add(f, &frames[hi], t)
	case lo >= 0:
		r.add(f, &frames[lo], 1)
	case hi >= 0:
		r.add(f, &frames[hi], 1)
	}
	return nil
}

// bracket returns the frames just below and above weight, -1 when missing.
// An exact match returns the same index twice.
func bracket(frames []mesh.BlendShapeFrame, weight float32) (lo, hi int) {
	lo, hi = -1, -1
	for i := range frames {
		switch w := frames[i].Weight; {
		case w == weight:
			return i, i
		case w < weight:
			lo = i
		case hi < 0:
			hi = i
		}
	}
	return lo, hi
}

func (r *region) add(dst *mesh.BlendShapeFrame, src *mesh.BlendShapeFrame, scale float32) {
	sm := r.src.SubMeshes[r.subMesh]
	from := sm.FirstVertex
	to := r.dstOffset
	count := sm.VertexCount

	r.addStream(dst.DeltaVertices, src.DeltaVertices, from, to, count, scale, &r.linear)
	r.addStream(dst.DeltaNormals, src.DeltaNormals, from, to, count, scale, &r.normal)
	r.addStream(dst.DeltaTangents, src.DeltaTangents, from, to, count, scale, &r.linear)
}

func (r *region) addStream(dst, src []math.Vec3, from, to, count int, scale float32, xf *math.Mat4) {
	if dst == nil || src == nil {
		return
	}
	for i := 0; i < count && from+i < len(src); i++ {
		d := src[from+i]
		if r.transformed {
			d = xf.TransformDirection(d)
		}
		dst[to+i] = dst[to+i].Add(d.Scale(scale))
	}
}

// recomputeDeltas derives normal and tangent deltas of every frame from the
// geometry posed by that frame's position deltas.
func recomputeDeltas(dst *mesh.Mesh, shape *mesh.BlendShape, normals, tangents bool) {
	baseNormals := dst.NormalsFor(dst.Vertices)
	var baseTangents []math.Vec4
	if tangents {
		baseTangents = dst.TangentsFor(dst.Vertices, baseNormals)
	}

	posed := make([]math.Vec3, len(dst.Vertices))
	for i := range shape.Frames {
		f := &shape.Frames[i]
		for v, p := range dst.Vertices {
			posed[v] = p.Add(f.DeltaVertices[v])
		}
		posedNormals := dst.NormalsFor(posed)

		if normals {
			f.DeltaNormals = make([]math.Vec3, len(posed))
			for v := range posed {
				f.DeltaNormals[v] = posedNormals[v].Sub(baseNormals[v])
			}
		}
		if baseTangents != nil {
			posedTangents := dst.TangentsFor(posed, posedNormals)
			f.DeltaTangents = make([]math.Vec3, len(posed))
			for v := range posed {
				f.DeltaTangents[v] = posedTangents[v].XYZ().Sub(baseTangents[v].XYZ())
			}
		}
	}
}
