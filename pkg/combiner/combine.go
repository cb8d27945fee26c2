package combiner

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/skinmerge/internal/logger"
	"github.com/Faultbox/skinmerge/pkg/blendshape"
	"github.com/Faultbox/skinmerge/pkg/bonemap"
	"github.com/Faultbox/skinmerge/pkg/mesh"
	"github.com/Faultbox/skinmerge/pkg/protect"
	"github.com/Faultbox/skinmerge/pkg/scene"
)

// MergeSubMeshes folds every material bucket with two or more sub-meshes
// into one sub-mesh. Skin weights are concatenated and blendshape
// timelines merged across the bucket.
func (c *Core) MergeSubMeshes() error {
	if err := c.checkAccumulating(); err != nil {
		return err
	}

	for _, mat := range c.order {
		b := c.buckets[mat]
		if len(b.instances) < 2 {
			continue
		}

		merger := blendshape.NewMerger(nil)
		merged, err := concatenate(materialName(mat), b.instances, true, merger)
		if err != nil {
			return err
		}
		if err := merger.ApplyAll(merged, blendshape.CopyAll); err != nil {
			return fmt.Errorf("merge %q: %w", materialName(mat), err)
		}

		logger.Debug("merged sub-meshes",
			zap.String("material", materialName(mat)),
			zap.Int("subMeshes", len(b.instances)),
			zap.Int("vertices", merged.VertexCount()))

		c.meshes = append(c.meshes, merged)
		b.instances = []*instance{{mesh: merged, subMesh: 0, material: mat}}
	}
	return nil
}

// Combine concatenates every pending sub-mesh into the destination
// renderer's new mesh and returns it. A skinned destination also receives
// the bone list, root bone and the weights of kept blendshapes; a static
// destination requires a session created with BakeToStatic. Deleted bone
// slots hold the shared placeholder node until CleanUp.
func (c *Core) Combine(dest scene.Renderer) (*mesh.Mesh, error) {
	if err := c.checkAccumulating(); err != nil {
		return nil, err
	}

	var skinned *scene.SkinnedMeshRenderer
	var static *scene.MeshRenderer
	switch d := dest.(type) {
	case *scene.SkinnedMeshRenderer:
		skinned = d
	case *scene.MeshRenderer:
		static = d
	}
	if skinned == nil && static == nil {
		return nil, ErrNilRenderer
	}
	if (static != nil) != c.opts.BakeToStatic {
		return nil, fmt.Errorf("%w: %T with BakeToStatic=%v", ErrDestinationMismatch, dest, c.opts.BakeToStatic)
	}

	var insts []*instance
	var materials []*scene.Material
	for _, mat := range c.order {
		for _, in := range c.buckets[mat].instances {
			insts = append(insts, in)
			materials = append(materials, mat)
		}
	}
	if len(insts) == 0 {
		return nil, ErrNoGeometry
	}

	final, err := concatenate(meshName(dest), insts, false, c.merger)
	if err != nil {
		return nil, err
	}
	if final.VertexCount() == 0 {
		return nil, ErrNoGeometry
	}
	if final.UpdateIndexFormat() {
		logger.Warn("vertex count exceeds 16-bit indices, widening index format",
			zap.Int("vertices", final.VertexCount()),
			zap.Stringer("format", final.IndexFormat))
	}
	if err := c.merger.ApplyAll(final, c.opts.CopyMode); err != nil {
		return nil, err
	}
	c.state = stateCombined

	if static != nil {
		final.BonesPerVertex, final.BoneWeights, final.Bindposes = nil, nil, nil
		final.RecalculateBounds()
		static.Mesh = final
		static.Materials = materials
		c.release()
		c.logCombined(final, 0)
		return final, nil
	}

	bones := c.bones.Bones()
	final.Bindposes = c.bones.Bindposes()

	root := c.opts.RootBone
	if root == nil {
		root = chooseRootBone(contributingBones(final, bones), bones, skinned.Node)
	}
	posed := &scene.SkinnedMeshRenderer{Node: root, Mesh: final, Bones: bones}
	final.Bounds = posed.BakeMesh().Bounds

	skinned.Mesh = final
	skinned.Materials = materials
	skinned.Bones = c.bones.ResolvedBones()
	skinned.RootBone = root
	c.dest = skinned
	skinned.ClearBlendShapeWeights()
	for _, name := range c.weightOrder {
		skinned.SetBlendShapeWeightByName(name, c.weights[name])
	}

	c.release()
	c.logCombined(final, len(bones))
	return final, nil
}

func (c *Core) logCombined(m *mesh.Mesh, bones int) {
	logger.Info("combined mesh",
		zap.String("mesh", m.Name),
		zap.Int("vertices", m.VertexCount()),
		zap.Int("triangles", m.TriangleCount()),
		zap.Int("subMeshes", len(m.SubMeshes)),
		zap.Int("bones", bones),
		zap.Int("blendShapes", len(m.BlendShapes)))
}

// release drops the working meshes. The bone table stays readable.
func (c *Core) release() {
	clear(c.meshes)
	c.meshes = nil
	clear(c.buckets)
	c.order = nil
	c.scratch.Reset()
}

// CleanUp ends the session and frees its working state, including the
// placeholder bone; deleted slots of the destination's bone list become nil.
// Safe to call more than once and after a failed step.
func (c *Core) CleanUp() {
	if c.state == stateClean {
		return
	}
	c.release()
	c.merger.Reset()
	if c.dest != nil {
		c.bones.ClearPlaceholder(c.dest.Bones)
		c.dest = nil
	}
	c.bones.Release()
	clear(c.weights)
	c.weightOrder = nil
	c.state = stateClean
}

// RemovableBones lists the merged-upward bones under root that the
// destination no longer references and no registered component protects.
// A bone with a referenced or protected descendant is kept.
func (c *Core) RemovableBones(registry *protect.Registry, root *scene.Node) []*scene.Node {
	if registry == nil {
		registry = protect.Default()
	}
	inUse := make(map[*scene.Node]bool)
	for _, b := range c.bones.Bones() {
		if b != nil {
			inUse[b] = true
		}
	}
	protected := registry.ProtectedNodes(root)

	var out []*scene.Node
	for from := range c.opts.BoneMerge {
		if from == nil || (root != nil && !from.IsDescendantOf(root)) {
			continue
		}
		needed := false
		from.Walk(func(n *scene.Node) {
			if inUse[n] || protected[n] {
				needed = true
			}
		})
		if !needed {
			out = append(out, from)
		}
	}
	slices.SortFunc(out, func(a, b *scene.Node) int {
		return strings.Compare(a.Path(), b.Path())
	})
	return out
}

// contributingBones returns the distinct live bones referenced by a
// positive weight, in slot order.
func contributingBones(m *mesh.Mesh, bones []*scene.Node) []*scene.Node {
	used := make([]bool, len(bones))
	for _, bw := range m.BoneWeights {
		if bw.Weight > 0 && bw.BoneIndex >= 0 && bw.BoneIndex < len(bones) {
			used[bw.BoneIndex] = true
		}
	}
	seen := make(map[*scene.Node]bool)
	var out []*scene.Node
	for i, u := range used {
		if b := bones[i]; u && b != nil && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// chooseRootBone picks the common ancestor of the contributing bones when
// it is one of them, else its first child that is, else the first bone,
// else fallback.
func chooseRootBone(contributing, bones []*scene.Node, fallback *scene.Node) *scene.Node {
	if ca := scene.CommonAncestor(contributing); ca != nil {
		if slices.Contains(contributing, ca) {
			return ca
		}
		for _, child := range ca.Children() {
			if slices.Contains(contributing, child) {
				return child
			}
		}
	}
	for _, b := range bones {
		if b != nil {
			return b
		}
	}
	return fallback
}

func materialName(m *scene.Material) string {
	if m == nil {
		return "(no material)"
	}
	return m.Name
}

func meshName(dest scene.Renderer) string {
	if n := dest.Owner(); n != nil {
		return n.Name
	}
	return "combined"
}

// Source is one renderer handed to Combine.
type Source struct {
	Renderer scene.Renderer
	// Actions per blendshape index; skinned sources only.
	Actions []BlendShapeAction
	Flags   MergeFlags
}

// Result is the outcome of Run.
type Result struct {
	Mesh *mesh.Mesh

	// RemovableBones lists bones merged away by Options.BoneMerge that the
	// combined mesh no longer references and no component protects.
	RemovableBones []*scene.Node
}

// Combine runs a whole session and returns the combined mesh. See Run.
func Combine(sources []Source, dest scene.Renderer, opts Options) (*mesh.Mesh, error) {
	res, err := Run(sources, dest, opts, nil)
	if err != nil {
		return nil, err
	}
	return res.Mesh, nil
}

// Run resolves bone merge chains, adds every source, optionally merges
// same-material sub-meshes, combines into dest and disables the sources. A
// static dest bakes skinned sources into their current pose. A nil registry
// selects protect.Default.
func Run(sources []Source, dest scene.Renderer, opts Options, registry *protect.Registry) (*Result, error) {
	if dest == nil {
		return nil, ErrNilRenderer
	}
	if len(opts.BoneMerge) > 0 {
		resolved, err := bonemap.ResolveChains(opts.BoneMerge)
		if err != nil {
			return nil, err
		}
		opts.BoneMerge = resolved
	}
	if _, ok := dest.(*scene.MeshRenderer); ok {
		opts.BakeToStatic = true
		if opts.Destination == nil {
			opts.Destination = dest.Owner()
		}
	}

	core := NewCore(opts)
	defer core.CleanUp()

	for i, s := range sources {
		var err error
		switch r := s.Renderer.(type) {
		case *scene.SkinnedMeshRenderer:
			err = core.AddSkinned(r, s.Actions, s.Flags)
		case *scene.MeshRenderer:
			err = core.AddStatic(r, dest.Owner(), s.Flags)
		case nil:
			err = ErrNilRenderer
		default:
			err = fmt.Errorf("%w: unsupported renderer %T", ErrInvalidOption, r)
		}
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
	}

	if opts.MergeSameMaterial {
		if err := core.MergeSubMeshes(); err != nil {
			return nil, err
		}
	}

	final, err := core.Combine(dest)
	if err != nil {
		return nil, err
	}
	for _, s := range sources {
		if s.Renderer != dest {
			s.Renderer.SetEnabled(false)
		}
	}
	return &Result{Mesh: final, RemovableBones: core.RemovableBones(registry, nil)}, nil
}
