// Package combiner merges skinned and static mesh renderers into one
// destination mesh: it cuts pruned geometry, deduplicates bones and
// bindposes, merges blendshape timelines and concatenates the result.
package combiner

import (
	"errors"

	"go.uber.org/zap"

	"github.com/Faultbox/skinmerge/internal/collections"
	"github.com/Faultbox/skinmerge/internal/logger"
	"github.com/Faultbox/skinmerge/pkg/blendshape"
	"github.com/Faultbox/skinmerge/pkg/bonemap"
	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
	"github.com/Faultbox/skinmerge/pkg/scene"
)

// Combiner errors.
var (
	ErrNilRenderer         = errors.New("combiner: nil renderer")
	ErrNilMesh             = errors.New("combiner: renderer has no mesh")
	ErrNilReference        = errors.New("combiner: static source needs a reference node")
	ErrAlreadyCombined     = errors.New("combiner: session already combined")
	ErrNoGeometry          = errors.New("combiner: no source contributed geometry")
	ErrDestinationMismatch = errors.New("combiner: destination kind does not match session")
	ErrInvalidOption       = errors.New("combiner: invalid option")
)

// Options configure one combine session.
type Options struct {
	// CopyMode selects the blendshape delta streams copied into the
	// destination. Streams left out are recomputed.
	CopyMode blendshape.CopyMode

	// CreateBoneForStatic gives every static source its own bone. Otherwise
	// static geometry is skinned to the reference node.
	CreateBoneForStatic bool

	// BakeToStatic flattens skinned sources into their current pose for a
	// destination without skeleton. It forces CopyMode to none and disables
	// bone creation.
	BakeToStatic bool

	// Tolerance is the component-wise bindpose equality tolerance. Zero
	// selects math.DefaultTolerance.
	Tolerance float32

	// BoneMerge redirects a bone's influence to another bone. Chains must
	// be resolved (see bonemap.ResolveChains). A nil target drops the bone.
	BoneMerge map[*scene.Node]*scene.Node

	// Rename maps source blendshape names to destination names.
	Rename map[string]string

	// RootBone overrides the automatic root bone choice.
	RootBone *scene.Node

	// MergeSameMaterial folds sub-meshes sharing a material into one
	// before combining. Only read by Combine.
	MergeSameMaterial bool

	// Destination is the node whose local space a static destination mesh
	// lives in. Used when baking skinned sources; nil means world space.
	Destination *scene.Node
}

// DefaultOptions copies every blendshape stream and uses the default
// bindpose tolerance.
func DefaultOptions() Options {
	return Options{CopyMode: blendshape.CopyAll}
}

type state int

const (
	stateAccumulating state = iota
	stateCombined
	stateClean
)

// instance is one sub-mesh waiting for concatenation. transform, when set,
// maps the working mesh into the destination's space.
type instance struct {
	mesh      *mesh.Mesh
	subMesh   int
	transform *math.Mat4
	material  *scene.Material
}

// bucket holds the instances sharing one material.
type bucket struct {
	material  *scene.Material
	instances []*instance
}

// Core is one combine session. It is not safe for concurrent use.
type Core struct {
	opts  Options
	state state

	bones   *bonemap.Table
	merger  *blendshape.Merger
	buckets map[*scene.Material]*bucket
	order   []*scene.Material

	// Reference bindpose taken from the first skinned source.
	refBone *scene.Node
	refPose math.Mat4

	// Weights of animatable blendshapes by destination name.
	weights     map[string]float32
	weightOrder []string

	scratch *collections.Pool[math.Vec3]
	meshes  []*mesh.Mesh

	// Skinned destination of Combine; its deleted bone slots hold the
	// placeholder until CleanUp.
	dest *scene.SkinnedMeshRenderer
}

// NewCore starts an empty session.
func NewCore(opts Options) *Core {
	if opts.BakeToStatic {
		opts.CopyMode = blendshape.CopyNone
		opts.CreateBoneForStatic = false
	}
	return &Core{
		opts:    opts,
		bones:   bonemap.New(opts.Tolerance),
		merger:  blendshape.NewMerger(opts.Rename),
		buckets: make(map[*scene.Material]*bucket),
		weights: make(map[string]float32),
		scratch: collections.NewPool[math.Vec3](),
	}
}

// Options returns the effective session options.
func (c *Core) Options() Options {
	return c.opts
}

// Bones returns the destination bone table built so far.
func (c *Core) Bones() *bonemap.Table {
	return c.bones
}

// SubMeshCount returns the number of pending sub-mesh instances.
func (c *Core) SubMeshCount() int {
	n := 0
	for _, b := range c.buckets {
		n += len(b.instances)
	}
	return n
}

func (c *Core) checkAccumulating() error {
	if c.state != stateAccumulating {
		return ErrAlreadyCombined
	}
	return nil
}

// register files every sub-mesh of work under its material. Sub-meshes
// without material are skipped when the flags ask for it.
func (c *Core) register(work *mesh.Mesh, materials []*scene.Material, transform *math.Mat4, flags MergeFlags) {
	c.meshes = append(c.meshes, work)
	for i := range work.SubMeshes {
		var mat *scene.Material
		if i < len(materials) {
			mat = materials[i]
		}
		if mat == nil && flags.Has(RemoveSubMeshWithoutMaterial) {
			continue
		}
		b := collections.GetOrCreate(c.buckets, mat, func() *bucket {
			c.order = append(c.order, mat)
			return &bucket{material: mat}
		})
		b.instances = append(b.instances, &instance{
			mesh:      work,
			subMesh:   i,
			transform: transform,
			material:  mat,
		})
	}
}

// recordWeight remembers an animatable blendshape weight; the first source
// to name a shape wins.
func (c *Core) recordWeight(name string, w float32) {
	if _, ok := c.weights[name]; ok {
		return
	}
	c.weights[name] = w
	c.weightOrder = append(c.weightOrder, name)
}

func degenerate(r scene.Renderer) {
	logger.Warn("source has no geometry left, skipping", zap.String("renderer", nodePath(r.Owner())))
}
