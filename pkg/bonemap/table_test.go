package bonemap

import (
	"errors"
	"testing"

	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
	"github.com/Faultbox/skinmerge/pkg/scene"
)

func TestGetBoneIndexDedup(t *testing.T) {
	bone := scene.NewNode("Spine")
	other := scene.NewNode("Chest")
	pose := math.Translate(0, -1, 0)

	near := pose
	near[13] += 0.0004
	far := pose
	far[13] += 0.01

	tests := []struct {
		name    string
		bone    *scene.Node
		pose    math.Mat4
		wantNew bool
	}{
		{"first", bone, pose, true},
		{"same pose", bone, pose, false},
		{"within tolerance", bone, near, false},
		{"beyond tolerance", bone, far, true},
		{"gross difference", bone, math.Scale(3, 3, 3), true},
		{"other node same pose", other, pose, true},
	}

	tbl := New(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tbl.Len()
			idx := tbl.GetBoneIndex(tt.bone, tt.pose)
			created := tbl.Len() > before
			if created != tt.wantNew {
				t.Errorf("created = %v, want %v (index %d)", created, tt.wantNew, idx)
			}
		})
	}

	if got := tbl.GetBoneIndex(bone, far); got != 1 {
		t.Errorf("repeat lookup of far pose = %d, want 1", got)
	}
}

func TestTunableTolerance(t *testing.T) {
	bone := scene.NewNode("b")
	a := math.Identity()
	b := math.Translate(0.05, 0, 0)

	loose := New(0.1)
	if loose.GetBoneIndex(bone, a) != loose.GetBoneIndex(bone, b) {
		t.Error("0.05 apart should collapse under tolerance 0.1")
	}
	strict := New(0)
	if strict.Tolerance() != math.DefaultTolerance {
		t.Errorf("default tolerance = %v", strict.Tolerance())
	}
	if strict.GetBoneIndex(bone, a) == strict.GetBoneIndex(bone, b) {
		t.Error("0.05 apart should not collapse under default tolerance")
	}
}

func TestPlaceholderSlots(t *testing.T) {
	tbl := New(0)
	if tbl.HasPlaceholder() {
		t.Fatal("placeholder allocated too early")
	}
	i := tbl.GetBoneIndex(nil, math.Identity())
	j := tbl.GetBoneIndex(nil, math.Translate(1, 0, 0))
	if i == j {
		t.Error("distinct poses on deleted bones should keep distinct slots")
	}
	if !tbl.HasPlaceholder() || tbl.Bone(i) != tbl.Bone(j) {
		t.Error("deleted slots should share one placeholder")
	}
	if tbl.Bones()[i] != nil {
		t.Error("Bones() should report nil for deleted slots")
	}
	resolved := tbl.ResolvedBones()
	if resolved[i] != tbl.Placeholder() || resolved[j] != tbl.Placeholder() {
		t.Error("ResolvedBones() should hold the placeholder in deleted slots")
	}
	tbl.ClearPlaceholder(resolved)
	if resolved[i] != nil || resolved[j] != nil {
		t.Error("ClearPlaceholder left the placeholder in place")
	}

	tbl.Release()
	if tbl.HasPlaceholder() {
		t.Error("Release should drop the placeholder")
	}
}

func TestMapSourceMergeUpward(t *testing.T) {
	root := scene.NewNode("Root")
	spine := root.AddChild("Spine")
	spine.Position = math.Vec3{Y: 1}
	upper := spine.AddChild("Spine.001")
	upper.Position = math.Vec3{Y: 1}

	bones := []*scene.Node{root, spine, upper}
	bindposes := []math.Mat4{root.WorldToLocal(), spine.WorldToLocal(), upper.WorldToLocal()}
	merge := map[*scene.Node]*scene.Node{upper: spine}

	tbl := New(0)
	indexMap := tbl.MapSource(bones, bindposes, merge, math.Identity())

	if tbl.Len() != 2 {
		t.Fatalf("got %d slots, want 2", tbl.Len())
	}
	if indexMap[2] != indexMap[1] {
		t.Errorf("Spine.001 should collapse into Spine's slot, map = %v", indexMap)
	}
	for _, b := range tbl.Bones() {
		if b == upper {
			t.Error("merged bone must not appear in the destination list")
		}
	}

	// Bend the merged joint: the skinned position of a vertex follows the
	// parent because the pose was re-derived in the parent's frame.
	spine.Rotation = math.QuatFromAxisAngle(math.Vec3{Z: 1}, 0.5)
	v := math.Vec3{X: 0.3, Y: 2.2}
	slot := indexMap[2]
	got := tbl.Bone(slot).LocalToWorld().Mul(tbl.Bindposes()[slot]).TransformPoint(v)
	want := spine.LocalToWorld().Mul(bindposes[1]).TransformPoint(v)
	if got.Sub(want).Length() > 1e-4 {
		t.Errorf("skinned position = %v, want %v", got, want)
	}
}

func TestMapSourceAdjustAndDrop(t *testing.T) {
	a := scene.NewNode("a")
	b := scene.NewNode("b")
	adjust := math.Translate(1, 0, 0)

	tbl := New(0)
	indexMap := tbl.MapSource([]*scene.Node{a, b}, []math.Mat4{math.Identity(), math.Identity()},
		map[*scene.Node]*scene.Node{b: nil}, adjust)

	if _, ok := indexMap[1]; ok {
		t.Error("bone merged into nil should have no slot")
	}
	if tbl.Bindposes()[indexMap[0]] != adjust {
		t.Error("bindpose should be multiplied by adjust")
	}
}

func TestMapSourceShorterBindposes(t *testing.T) {
	tbl := New(0)
	indexMap := tbl.MapSource([]*scene.Node{scene.NewNode("a"), scene.NewNode("b")}, []math.Mat4{math.Identity()}, nil, math.Identity())
	if len(indexMap) != 1 || tbl.Len() != 1 {
		t.Errorf("only bones with a bindpose should map, got %v", indexMap)
	}
}

func TestRewriteWeights(t *testing.T) {
	weights := []mesh.BoneWeight{
		{BoneIndex: 0, Weight: 0.5},
		{BoneIndex: 1, Weight: 0.3},
		{BoneIndex: 2, Weight: 0.2},
	}
	dropped := RewriteWeights(weights, map[int]int{0: 7, 2: 3})

	want := []mesh.BoneWeight{{BoneIndex: 7, Weight: 0.5}, {}, {BoneIndex: 3, Weight: 0.2}}
	for i := range want {
		if weights[i] != want[i] {
			t.Errorf("weight %d = %+v, want %+v", i, weights[i], want[i])
		}
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestResolveChains(t *testing.T) {
	a, b, c := scene.NewNode("a"), scene.NewNode("b"), scene.NewNode("c")

	got, err := ResolveChains(map[*scene.Node]*scene.Node{a: b, b: c})
	if err != nil {
		t.Fatal(err)
	}
	if got[a] != c || got[b] != c {
		t.Errorf("chain not flattened: a->%s b->%s", got[a].Name, got[b].Name)
	}

	_, err = ResolveChains(map[*scene.Node]*scene.Node{a: b, b: a})
	if !errors.Is(err, ErrRemapCycle) {
		t.Errorf("cycle error = %v", err)
	}
	_, err = ResolveChains(map[*scene.Node]*scene.Node{c: c})
	if !errors.Is(err, ErrRemapCycle) {
		t.Errorf("self loop error = %v", err)
	}
}
