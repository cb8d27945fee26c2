package combiner

import (
	"testing"

	"github.com/Faultbox/skinmerge/pkg/scene"
)

func TestChooseRootBone(t *testing.T) {
	armature := scene.NewNode("Armature")
	hips := armature.AddChild("Hips")
	legL := hips.AddChild("Leg.L")
	legR := hips.AddChild("Leg.R")
	other := scene.NewNode("Prop")
	fallback := scene.NewNode("Body")

	tests := []struct {
		name         string
		contributing []*scene.Node
		bones        []*scene.Node
		want         *scene.Node
	}{
		{"ancestor contributes", []*scene.Node{hips, legL}, []*scene.Node{legL, hips}, hips},
		{"child of ancestor", []*scene.Node{legR, legL}, []*scene.Node{nil, legR, legL}, legL},
		{"single bone", []*scene.Node{legR}, []*scene.Node{legL, legR}, legR},
		{"disjoint trees", []*scene.Node{legL, other}, []*scene.Node{nil, other, legL}, other},
		{"no bones", nil, nil, fallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chooseRootBone(tt.contributing, tt.bones, fallback); got != tt.want {
				t.Errorf("root = %v, want %v", got.Name, tt.want.Name)
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseMergeFlags([]string{"remove_zero_scale_bones", " Remove_Without_Bones "})
	if err != nil {
		t.Fatal(err)
	}
	if !flags.Has(RemoveZeroScaleBones|RemoveWithoutBones) || flags.Has(RemoveSubMeshWithoutMaterial) {
		t.Errorf("flags = %v", flags)
	}
	if _, err := ParseMergeFlags([]string{"explode"}); err == nil {
		t.Error("unknown flag accepted")
	}

	tests := map[string]BlendShapeAction{
		"keep":             ActionKeep,
		"bake":             ActionBake,
		"remove_vertices":  ActionBakeRemoveVertices,
		"remove_triangles": ActionBakeRemoveTriangles,
	}
	for in, want := range tests {
		got, err := ParseAction(in)
		if err != nil || got != want {
			t.Errorf("ParseAction(%q) = %v, %v", in, got, err)
		}
		if got.String() != in {
			t.Errorf("String() = %q, want %q", got.String(), in)
		}
	}
	if _, err := ParseAction("melt"); err == nil {
		t.Error("unknown action accepted")
	}
}
