package scene_test

import (
	"testing"

	"github.com/Faultbox/skinmerge/internal/testmesh"
	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
	"github.com/Faultbox/skinmerge/pkg/scene"
)

func TestBakeMeshAppliesBonePose(t *testing.T) {
	root := scene.NewNode("Root")
	bone := root.AddChild("Bone")
	m := testmesh.Strip(4)
	testmesh.SkinToBones(m, 1)

	r := &scene.SkinnedMeshRenderer{Node: root, Mesh: m, Bones: []*scene.Node{bone}}
	bone.Position = math.Vec3{Y: 5}

	baked := r.BakeMesh()
	for i, v := range baked.Vertices {
		want := m.Vertices[i].Add(math.Vec3{Y: 5})
		if v.Sub(want).Length() > 1e-5 {
			t.Errorf("vertex %d = %v, want %v", i, v, want)
		}
	}
	if baked.HasBoneWeights() || baked.Bindposes != nil {
		t.Error("baked mesh should not carry skin data")
	}
}

func TestBakeMeshAppliesBlendShapeWeights(t *testing.T) {
	m := testmesh.Strip(4)
	m.BlendShapes = []mesh.BlendShape{testmesh.Shape("up", 4, 100, 2, 1)}
	r := &scene.SkinnedMeshRenderer{Node: scene.NewNode("R"), Mesh: m}
	r.SetBlendShapeWeight(0, 50)

	baked := r.BakeMesh()
	if baked.Vertices[1].Z != 1 {
		t.Errorf("vertex 1 z = %v, want 1", baked.Vertices[1].Z)
	}
	if baked.Vertices[0].Z != 0 {
		t.Errorf("vertex 0 should be untouched, got %v", baked.Vertices[0])
	}
	if m.Vertices[1].Z != 0 {
		t.Error("BakeMesh must not modify the shared mesh")
	}
}

func TestBlendShapeWeightByName(t *testing.T) {
	m := testmesh.Strip(4)
	m.BlendShapes = []mesh.BlendShape{testmesh.Shape("a", 4, 100, 1, 0), testmesh.Shape("b", 4, 100, 1, 1)}
	r := &scene.SkinnedMeshRenderer{Mesh: m}

	if !r.SetBlendShapeWeightByName("b", 30) {
		t.Fatal("SetBlendShapeWeightByName(b) returned false")
	}
	if w, ok := r.BlendShapeWeightByName("b"); !ok || w != 30 {
		t.Errorf("weight b = %v, %v", w, ok)
	}
	if r.SetBlendShapeWeightByName("missing", 1) {
		t.Error("unknown name should return false")
	}
}
