package combiner

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/skinmerge/internal/logger"
	"github.com/Faultbox/skinmerge/pkg/bonemap"
	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
	"github.com/Faultbox/skinmerge/pkg/meshcut"
	"github.com/Faultbox/skinmerge/pkg/scene"
)

// zeroScale is the world scale magnitude below which a bone counts as
// collapsed.
const zeroScale float32 = 1e-5

// AddSkinned adds a skinned source. actions[i] applies to blendshape i of
// the source mesh; missing entries keep the shape.
func (c *Core) AddSkinned(r *scene.SkinnedMeshRenderer, actions []BlendShapeAction, flags MergeFlags) error {
	if err := c.checkAccumulating(); err != nil {
		return err
	}
	if r == nil {
		return ErrNilRenderer
	}
	if r.Mesh == nil {
		return fmt.Errorf("%w: %s", ErrNilMesh, nodePath(r.Node))
	}
	src := r.Mesh
	if err := src.Validate(); err != nil {
		return fmt.Errorf("source %s: %w", nodePath(r.Node), err)
	}
	action := func(i int) BlendShapeAction {
		if i < len(actions) {
			return actions[i]
		}
		return ActionKeep
	}

	var work *mesh.Mesh
	if c.opts.BakeToStatic {
		work = r.BakeMesh()
	} else {
		work = src.Clone()
	}

	materials, err := c.cut(work, r.Materials, func(cut *meshcut.Cutter) error {
		if err := markBlendShapes(cut, src, action); err != nil {
			return err
		}
		return c.markBones(cut, src, r.Bones, flags)
	})
	if err != nil {
		return fmt.Errorf("cut %s: %w", nodePath(r.Node), err)
	}
	if work.VertexCount() == 0 {
		degenerate(r)
		return nil
	}

	if c.opts.BakeToStatic {
		xf := toReference(c.opts.Destination, r.Node)
		c.register(work, materials, &xf, flags)
		return nil
	}

	c.bakeShapes(work, r, action)

	var xf *math.Mat4
	if work.HasBoneWeights() {
		adjust, m := c.remapTransform(r.Bones, work.Bindposes)
		xf = m
		indexMap := c.bones.MapSource(r.Bones, work.Bindposes, c.opts.BoneMerge, adjust)
		if dropped := bonemap.RewriteWeights(work.BoneWeights, indexMap); dropped > 0 {
			logger.Debug("dropped influences of unmapped bones",
				zap.String("renderer", nodePath(r.Node)),
				zap.Int("influences", dropped))
		}
	} else {
		// Unskinned geometry follows the renderer's own node.
		rigid(work, c.bones.GetBoneIndex(r.Node, math.Identity()))
	}
	work.Bindposes = nil

	c.register(work, materials, xf, flags)
	logger.Debug("added skinned source",
		zap.String("renderer", nodePath(r.Node)),
		zap.Int("vertices", work.VertexCount()),
		zap.Int("subMeshes", len(work.SubMeshes)))
	return nil
}

// AddStatic adds a static source. Its geometry is expressed in the local
// space of reference, which is usually the destination's node.
func (c *Core) AddStatic(r *scene.MeshRenderer, reference *scene.Node, flags MergeFlags) error {
	if err := c.checkAccumulating(); err != nil {
		return err
	}
	if r == nil {
		return ErrNilRenderer
	}
	if r.Mesh == nil {
		return fmt.Errorf("%w: %s", ErrNilMesh, nodePath(r.Node))
	}
	if reference == nil {
		return ErrNilReference
	}

	work := r.Mesh.Clone()
	work.ClearBlendShapes()
	work.BonesPerVertex, work.BoneWeights, work.Bindposes = nil, nil, nil
	if err := work.Validate(); err != nil {
		return fmt.Errorf("source %s: %w", nodePath(r.Node), err)
	}
	if work.VertexCount() == 0 {
		degenerate(r)
		return nil
	}
	materials := padMaterials(r.Materials, len(work.SubMeshes))

	xf := toReference(reference, r.Node)
	if !c.opts.BakeToStatic {
		bone, pose := reference, math.Identity()
		if c.opts.CreateBoneForStatic && r.Node != nil {
			bone = r.Node
			pose = r.Node.WorldToLocal().Mul(reference.LocalToWorld())
		}
		rigid(work, c.bones.GetBoneIndex(bone, pose))
	}

	c.register(work, materials, &xf, flags)
	logger.Debug("added static source",
		zap.String("renderer", nodePath(r.Node)),
		zap.Int("vertices", work.VertexCount()))
	return nil
}

// cut runs mark on a cutter over work and applies it when anything was
// marked. Returns the material list trimmed to the surviving sub-meshes.
func (c *Core) cut(work *mesh.Mesh, materials []*scene.Material, mark func(*meshcut.Cutter) error) ([]*scene.Material, error) {
	materials = padMaterials(materials, len(work.SubMeshes))

	cut, err := meshcut.New(work, meshcut.Options{RemoveEmptySubMeshes: true})
	if err != nil {
		return nil, err
	}
	if err := mark(cut); err != nil {
		return nil, err
	}
	if cut.MarkedCount() == 0 {
		return materials, nil
	}

	subMeshes := len(work.SubMeshes)
	res, err := cut.Apply()
	if err != nil {
		return nil, err
	}
	logger.Debug("cut geometry",
		zap.String("mesh", work.Name),
		zap.Int("marked", cut.MarkedCount()),
		zap.Int("removedVertices", res.RemovedVertices),
		zap.Int("removedTriangles", res.RemovedTriangles))
	return meshcut.AdjustMaterials(materials, subMeshes, res.RemovedSubMeshes)
}

// markBlendShapes marks the vertices moved by shapes whose action removes
// geometry.
func markBlendShapes(cut *meshcut.Cutter, src *mesh.Mesh, action func(int) BlendShapeAction) error {
	n := src.VertexCount()
	for i := range src.BlendShapes {
		a := action(i)
		if !a.Removes() {
			continue
		}
		for v, hit := range src.BlendShapes[i].AffectedVertices(n) {
			if !hit {
				continue
			}
			if err := cut.RemoveVertex(v, a == ActionBakeRemoveTriangles); err != nil {
				return err
			}
		}
	}
	return nil
}

// markBones applies the bone policies of flags. A vertex is "without
// bones" when no positive influence reaches a live bone; it is
// "zero-scale" when every live positively weighted bone has collapsed.
func (c *Core) markBones(cut *meshcut.Cutter, src *mesh.Mesh, bones []*scene.Node, flags MergeFlags) error {
	noBones := flags.Has(RemoveWithoutBones)
	zero := flags.Has(RemoveZeroScaleBones)
	if !src.HasBoneWeights() || (!noBones && !zero) {
		return nil
	}

	collapsed := make(map[*scene.Node]bool)
	isCollapsed := func(b *scene.Node) bool {
		v, ok := collapsed[b]
		if !ok {
			v = b.LossyScale().Length() < zeroScale
			collapsed[b] = v
		}
		return v
	}

	offsets := src.WeightOffsets()
	for v := 0; v < src.VertexCount() && v+1 < len(offsets); v++ {
		live, allCollapsed := false, true
		for _, bw := range src.BoneWeights[offsets[v]:offsets[v+1]] {
			if bw.Weight <= 0 || bw.BoneIndex < 0 || bw.BoneIndex >= len(bones) {
				continue
			}
			b := bones[bw.BoneIndex]
			if b == nil {
				continue
			}
			if target, ok := c.opts.BoneMerge[b]; ok && target == nil {
				continue
			}
			live = true
			if !isCollapsed(b) {
				allCollapsed = false
			}
		}

		if (noBones && !live) || (zero && live && allCollapsed) {
			if err := cut.RemoveVertex(v, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// bakeShapes applies every baked blendshape at the renderer's current
// weight and drops it from work. Kept shapes have their weight recorded
// for restoration on the destination.
func (c *Core) bakeShapes(work *mesh.Mesh, r *scene.SkinnedMeshRenderer, action func(int) BlendShapeAction) {
	if len(work.BlendShapes) == 0 {
		return
	}

	n := work.VertexCount()
	dv := c.scratch.Get(n)
	defer c.scratch.Put(dv)
	var dn, dt []math.Vec3
	if work.Normals != nil {
		dn = c.scratch.Get(n)
		defer c.scratch.Put(dn)
	}
	if work.Tangents != nil {
		dt = c.scratch.Get(n)
		defer c.scratch.Put(dt)
	}

	var kept []mesh.BlendShape
	baked := false
	for i := range work.BlendShapes {
		shape := &work.BlendShapes[i]
		w := r.BlendShapeWeight(i)
		if !action(i).Bakes() {
			kept = append(kept, *shape)
			c.recordWeight(c.merger.Name(shape.Name), w)
			continue
		}
		if w != 0 {
			shape.AccumulateDelta(w, dv, dn, dt)
			baked = true
		}
	}
	work.BlendShapes = kept
	if !baked {
		return
	}

	for v := 0; v < n; v++ {
		work.Vertices[v] = work.Vertices[v].Add(dv[v])
		if dn != nil {
			work.Normals[v] = work.Normals[v].Add(dn[v]).Normalize()
		}
		if dt != nil {
			t := work.Tangents[v].XYZ().Add(dt[v]).Normalize()
			work.Tangents[v] = math.Vec4{t.X, t.Y, t.Z, work.Tangents[v][3]}
		}
	}
	work.RecalculateBounds()
}

// remapTransform re-expresses a source against the reference bindpose of
// the first skinned source. It returns the matrix to post-multiply the
// source bindposes with and the transform for its vertices, nil when the
// source already agrees with the reference.
func (c *Core) remapTransform(bones []*scene.Node, bindposes []math.Mat4) (math.Mat4, *math.Mat4) {
	if c.refBone == nil {
		for i, b := range bones {
			if b != nil && i < len(bindposes) {
				c.refBone, c.refPose = b, bindposes[i]
				break
			}
		}
		return math.Identity(), nil
	}

	for i, b := range bones {
		if b != c.refBone || i >= len(bindposes) {
			continue
		}
		if bindposes[i].ApproxEqual(c.refPose, c.bones.Tolerance()) {
			break
		}
		m := c.refPose.Inverse().Mul(bindposes[i])
		return m.Inverse(), &m
	}
	return math.Identity(), nil
}

// rigid binds every vertex of m to a single bone slot with full weight.
func rigid(m *mesh.Mesh, bone int) {
	n := m.VertexCount()
	m.BonesPerVertex = make([]uint8, n)
	m.BoneWeights = make([]mesh.BoneWeight, n)
	for i := 0; i < n; i++ {
		m.BonesPerVertex[i] = 1
		m.BoneWeights[i] = mesh.BoneWeight{BoneIndex: bone, Weight: 1}
	}
}

// toReference maps node space into reference space. A nil reference is
// world space; a nil node is the identity.
func toReference(reference, node *scene.Node) math.Mat4 {
	m := math.Identity()
	if node != nil {
		m = node.LocalToWorld()
	}
	if reference != nil {
		m = reference.WorldToLocal().Mul(m)
	}
	return m
}

func padMaterials(materials []*scene.Material, n int) []*scene.Material {
	out := make([]*scene.Material, n)
	copy(out, materials)
	return out
}

func nodePath(n *scene.Node) string {
	if n == nil {
		return "<nil>"
	}
	return n.Path()
}
