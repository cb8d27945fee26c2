package combiner

import (
	"fmt"
	"strings"
)

// BlendShapeAction says what happens to one blendshape of a skinned source.
type BlendShapeAction uint8

const (
	// ActionKeep copies the blendshape into the destination as animatable.
	ActionKeep BlendShapeAction = iota
	// ActionBake applies the current weight to the base geometry.
	ActionBake
	// ActionBakeRemoveVertices bakes, then removes the vertices the shape
	// moves. Triangles survive while one of their vertices survives.
	ActionBakeRemoveVertices
	// ActionBakeRemoveTriangles bakes, then removes every triangle touching
	// a vertex the shape moves.
	ActionBakeRemoveTriangles
)

var actionNames = map[BlendShapeAction]string{
	ActionKeep:                "keep",
	ActionBake:                "bake",
	ActionBakeRemoveVertices:  "remove_vertices",
	ActionBakeRemoveTriangles: "remove_triangles",
}

func (a BlendShapeAction) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("BlendShapeAction(%d)", uint8(a))
}

// Bakes reports whether the action flattens the shape into the geometry.
func (a BlendShapeAction) Bakes() bool {
	return a != ActionKeep
}

// Removes reports whether the action deletes geometry moved by the shape.
func (a BlendShapeAction) Removes() bool {
	return a == ActionBakeRemoveVertices || a == ActionBakeRemoveTriangles
}

// ParseAction parses an action name as written in job files.
func ParseAction(s string) (BlendShapeAction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for a, name := range actionNames {
		if name == s {
			return a, nil
		}
	}
	return ActionKeep, fmt.Errorf("%w: blendshape action %q", ErrInvalidOption, s)
}

// MergeFlags tune how one source is merged.
type MergeFlags uint8

const (
	// RemoveSubMeshWithoutMaterial skips sub-meshes whose material slot is
	// empty.
	RemoveSubMeshWithoutMaterial MergeFlags = 1 << iota
	// RemoveWithoutBones removes vertices with no positive influence on a
	// live bone.
	RemoveWithoutBones
	// RemoveZeroScaleBones removes vertices whose positively weighted bones
	// all have zero world scale.
	RemoveZeroScaleBones

	NoMergeFlags MergeFlags = 0
)

var flagNames = []struct {
	flag MergeFlags
	name string
}{
	{RemoveSubMeshWithoutMaterial, "remove_submesh_without_material"},
	{RemoveWithoutBones, "remove_without_bones"},
	{RemoveZeroScaleBones, "remove_zero_scale_bones"},
}

// Has reports whether every bit of f is set.
func (m MergeFlags) Has(f MergeFlags) bool {
	return m&f == f
}

func (m MergeFlags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if m.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseMergeFlags combines flag names as written in job files.
func ParseMergeFlags(names []string) (MergeFlags, error) {
	var out MergeFlags
next:
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		for _, fn := range flagNames {
			if fn.name == n {
				out |= fn.flag
				continue next
			}
		}
		return NoMergeFlags, fmt.Errorf("%w: merge flag %q", ErrInvalidOption, n)
	}
	return out, nil
}
