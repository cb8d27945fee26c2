// Package bonemap builds a destination skeleton by deduplicating
// (bone, bindpose) pairs across source meshes and rewrites skin weights to
// the resulting bone indices.
package bonemap

import (
	"errors"
	"fmt"

	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
	"github.com/Faultbox/skinmerge/pkg/scene"
)

// ErrRemapCycle is returned when a bone merge chain loops back on itself.
var ErrRemapCycle = errors.New("bonemap: bone merge chain forms a cycle")

// PlaceholderName names the shared node standing in for deleted bones.
const PlaceholderName = "(missing bone)"

// Table is the growing destination bone list. Each slot is a (node,
// bindpose) pair; two lookups share a slot only when the node is the same
// and the bindposes match within Tolerance.
type Table struct {
	tolerance float32

	bones     []*scene.Node // nil for deleted bones
	bindposes []math.Mat4

	// Slots per node, scanned linearly for an approximately equal pose.
	candidates map[*scene.Node][]int

	placeholder *scene.Node
}

// New returns an empty table. A non-positive tolerance selects
// math.DefaultTolerance.
func New(tolerance float32) *Table {
	if tolerance <= 0 {
		tolerance = math.DefaultTolerance
	}
	return &Table{
		tolerance:  tolerance,
		candidates: make(map[*scene.Node][]int),
	}
}

// Tolerance returns the component-wise bindpose tolerance.
func (t *Table) Tolerance() float32 {
	return t.tolerance
}

// Len returns the number of slots.
func (t *Table) Len() int {
	return len(t.bones)
}

// GetBoneIndex returns the slot for (bone, pose), creating one when no slot
// with the same node holds an approximately equal pose. A nil bone gets a
// placeholder slot that keeps bone indices aligned.
func (t *Table) GetBoneIndex(bone *scene.Node, pose math.Mat4) int {
	for _, idx := range t.candidates[bone] {
		if t.bindposes[idx].ApproxEqual(pose, t.tolerance) {
			return idx
		}
	}
	if bone == nil {
		t.Placeholder()
	}

	idx := len(t.bones)
	t.bones = append(t.bones, bone)
	t.bindposes = append(t.bindposes, pose)
	t.candidates[bone] = append(t.candidates[bone], idx)
	return idx
}

// Placeholder returns the shared node used for deleted bone slots, creating
// it on first use.
func (t *Table) Placeholder() *scene.Node {
	if t.placeholder == nil {
		t.placeholder = scene.NewNode(PlaceholderName)
		t.placeholder.Active = false
	}
	return t.placeholder
}

// HasPlaceholder reports whether a placeholder node was allocated.
func (t *Table) HasPlaceholder() bool {
	return t.placeholder != nil
}

// Bone returns the node of slot i; deleted slots yield the placeholder.
func (t *Table) Bone(i int) *scene.Node {
	if b := t.bones[i]; b != nil {
		return b
	}
	return t.Placeholder()
}

// Bones returns the destination bone list with nil for deleted slots.
func (t *Table) Bones() []*scene.Node {
	out := make([]*scene.Node, len(t.bones))
	copy(out, t.bones)
	return out
}

// ResolvedBones returns the destination bone list with the placeholder in
// deleted slots.
func (t *Table) ResolvedBones() []*scene.Node {
	out := make([]*scene.Node, len(t.bones))
	for i := range t.bones {
		out[i] = t.Bone(i)
	}
	return out
}

// ClearPlaceholder sets every slot of bones holding the placeholder back to
// nil. Call it before Release on lists handed out by ResolvedBones.
func (t *Table) ClearPlaceholder(bones []*scene.Node) {
	if t.placeholder == nil {
		return
	}
	for i, b := range bones {
		if b == t.placeholder {
			bones[i] = nil
		}
	}
}

// Bindposes returns a copy of the destination bindposes.
func (t *Table) Bindposes() []math.Mat4 {
	out := make([]math.Mat4, len(t.bindposes))
	copy(out, t.bindposes)
	return out
}

// Release drops the placeholder node. The table stays usable.
func (t *Table) Release() {
	if t.placeholder != nil {
		t.placeholder.SetParent(nil)
		t.placeholder = nil
	}
}

// MapSource registers every bone of a source skeleton and returns the
// mapping from source bone index to destination slot.
//
// Every source bindpose is first multiplied by adjust (pass the identity
// when the source needs no re-expression). A bone present in merge is
// redirected to its target with the pose re-derived as
// target.WorldToLocal * bone.LocalToWorld * pose, which preserves the
// skinning result in the target's frame. A bone mapped to nil is dropped
// and gets no entry.
func (t *Table) MapSource(bones []*scene.Node, bindposes []math.Mat4, merge map[*scene.Node]*scene.Node, adjust math.Mat4) map[int]int {
	count := min(len(bones), len(bindposes))
	indexMap := make(map[int]int, count)

	for i := 0; i < count; i++ {
		bone := bones[i]
		pose := bindposes[i].Mul(adjust)

		if bone != nil {
			if target, ok := merge[bone]; ok {
				if target == nil {
					continue
				}
				pose = target.WorldToLocal().Mul(bone.LocalToWorld()).Mul(pose)
				bone = target
			}
		}
		indexMap[i] = t.GetBoneIndex(bone, pose)
	}
	return indexMap
}

// RewriteWeights replaces every influence's bone index using indexMap. An
// influence whose bone has no entry is zeroed (index 0, weight 0); the
// remaining influences are not renormalized. Returns the number of dropped
// influences.
func RewriteWeights(weights []mesh.BoneWeight, indexMap map[int]int) int {
	dropped := 0
	for i := range weights {
		if idx, ok := indexMap[weights[i].BoneIndex]; ok {
			weights[i].BoneIndex = idx
			continue
		}
		if weights[i].Weight != 0 {
			dropped++
		}
		weights[i] = mesh.BoneWeight{}
	}
	return dropped
}

// ResolveChains flattens merge chains so every key maps straight to its
// final target (A->B, B->C becomes A->C, B->C).
func ResolveChains(merge map[*scene.Node]*scene.Node) (map[*scene.Node]*scene.Node, error) {
	resolved := make(map[*scene.Node]*scene.Node, len(merge))
	for from := range merge {
		seen := map[*scene.Node]bool{from: true}
		to := merge[from]
		for to != nil {
			next, ok := merge[to]
			if !ok {
				break
			}
			if seen[to] {
				return nil, fmt.Errorf("%w: starting at %q", ErrRemapCycle, from.Name)
			}
			seen[to] = true
			to = next
		}
		resolved[from] = to
	}
	return resolved, nil
}
