package mesh

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Faultbox/skinmerge/pkg/math"
)

// Blendshape errors.
var (
	ErrDuplicateBlendShape = errors.New("duplicate blendshape name")
	ErrInvalidBlendShape   = errors.New("invalid blendshape")
)

// AffectedEpsilon is the Δposition magnitude above which a vertex counts as
// moved by a blendshape.
const AffectedEpsilon float32 = 1e-5

// BlendShapeFrame is one keyframe of a blendshape. Delta streams hold one
// entry per vertex; any of them may be nil.
type BlendShapeFrame struct {
	Weight        float32
	DeltaVertices []math.Vec3
	DeltaNormals  []math.Vec3
	DeltaTangents []math.Vec3
}

// BlendShape is a named morph target. Frames are sorted by strictly
// increasing weight.
type BlendShape struct {
	Name   string
	Frames []BlendShapeFrame
}

// Clone returns a deep copy of the blendshape.
func (b *BlendShape) Clone() BlendShape {
	c := BlendShape{Name: b.Name, Frames: make([]BlendShapeFrame, len(b.Frames))}
	for i, f := range b.Frames {
		c.Frames[i] = BlendShapeFrame{
			Weight:        f.Weight,
			DeltaVertices: slices.Clone(f.DeltaVertices),
			DeltaNormals:  slices.Clone(f.DeltaNormals),
			DeltaTangents: slices.Clone(f.DeltaTangents),
		}
	}
	return c
}

// FrameIndex returns the index of the frame with exactly the given weight
// or -1.
func (b *BlendShape) FrameIndex(weight float32) int {
	for i := range b.Frames {
		if b.Frames[i].Weight == weight {
			return i
		}
	}
	return -1
}

// AffectedVertices marks every vertex whose Δposition exceeds
// AffectedEpsilon in any frame.
func (b *BlendShape) AffectedVertices(vertexCount int) []bool {
	affected := make([]bool, vertexCount)
	for _, f := range b.Frames {
		for v, d := range f.DeltaVertices {
			if v < vertexCount && d.Length() > AffectedEpsilon {
				affected[v] = true
			}
		}
	}
	return affected
}

// AccumulateDelta adds the deltas of the shape evaluated at weight into dv,
// dn and dt. A nil destination skips that stream.
//
// An exact keyframe is used as-is. Between two keyframes the deltas are
// interpolated linearly. Below the first keyframe the shape is interpolated
// from an implicit zero frame at weight 0; past the last keyframe the last
// frame is scaled by weight / lastWeight.
func (b *BlendShape) AccumulateDelta(weight float32, dv, dn, dt []math.Vec3) {
	frames := b.Frames
	n := len(frames)
	if n == 0 {
		return
	}

	if i := b.FrameIndex(weight); i >= 0 {
		addFrame(&frames[i], 1, dv, dn, dt)
		return
	}

	switch {
	case weight < frames[0].Weight || n == 1:
		s := math.InverseLerp(0, frames[0].Weight, weight)
		addFrame(&frames[0], s, dv, dn, dt)
	case weight > frames[n-1].Weight:
		last := &frames[n-1]
		s := float32(1)
		if last.Weight != 0 {
			s = weight / last.Weight
		}
		addFrame(last, s, dv, dn, dt)
	default:
		hi := 1
		for frames[hi].Weight < weight {
			hi++
		}
		lo := &frames[hi-1]
		t := math.InverseLerp(lo.Weight, frames[hi].Weight, weight)
		addFrame(lo, 1-t, dv, dn, dt)
		addFrame(&frames[hi], t, dv, dn, dt)
	}
}

func addFrame(f *BlendShapeFrame, scale float32, dv, dn, dt []math.Vec3) {
	addScaled(dv, f.DeltaVertices, scale)
	addScaled(dn, f.DeltaNormals, scale)
	addScaled(dt, f.DeltaTangents, scale)
}

func addScaled(dst, src []math.Vec3, s float32) {
	if dst == nil || src == nil || s == 0 {
		return
	}
	for i := range dst {
		if i >= len(src) {
			break
		}
		dst[i] = dst[i].Add(src[i].Scale(s))
	}
}

// AddBlendShape appends a blendshape after checking its name is unused and
// its frames are well formed.
func (m *Mesh) AddBlendShape(shape BlendShape) error {
	if m.BlendShapeIndex(shape.Name) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateBlendShape, shape.Name)
	}
	if err := checkBlendShape(&shape, len(m.Vertices)); err != nil {
		return err
	}
	m.BlendShapes = append(m.BlendShapes, shape)
	return nil
}

// ClearBlendShapes removes every blendshape.
func (m *Mesh) ClearBlendShapes() {
	m.BlendShapes = nil
}

func checkBlendShape(shape *BlendShape, vertexCount int) error {
	if len(shape.Frames) == 0 {
		return fmt.Errorf("%w: %q has no frames", ErrInvalidBlendShape, shape.Name)
	}
	for i, f := range shape.Frames {
		if i > 0 && f.Weight <= shape.Frames[i-1].Weight {
			return fmt.Errorf("%w: %q frame %d weight %v not increasing", ErrInvalidBlendShape, shape.Name, i, f.Weight)
		}
		for _, s := range [][]math.Vec3{f.DeltaVertices, f.DeltaNormals, f.DeltaTangents} {
			if s != nil && len(s) != vertexCount {
				return fmt.Errorf("%w: %q frame %d has %d deltas, want %d", ErrInvalidBlendShape, shape.Name, i, len(s), vertexCount)
			}
		}
	}
	return nil
}
