package mesh_test

import (
	"errors"
	"testing"

	"github.com/Faultbox/skinmerge/internal/testmesh"
	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
)

func twoFrameShape() mesh.BlendShape {
	return mesh.BlendShape{
		Name: "smile",
		Frames: []mesh.BlendShapeFrame{
			{Weight: 50, DeltaVertices: []math.Vec3{{Z: 1}}},
			{Weight: 100, DeltaVertices: []math.Vec3{{Z: 3}}},
		},
	}
}

func TestAccumulateDelta(t *testing.T) {
	tests := []struct {
		name   string
		weight float32
		want   float32
	}{
		{"exact first", 50, 1},
		{"exact last", 100, 3},
		{"between", 75, 2},
		{"below first from zero", 25, 0.5},
		{"zero weight", 0, 0},
		{"scale last frame past it", 150, 4.5},
		{"scale last frame at double", 200, 6},
	}

	shape := twoFrameShape()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dv := make([]math.Vec3, 1)
			shape.AccumulateDelta(tt.weight, dv, nil, nil)
			if diff := dv[0].Z - tt.want; diff > 1e-5 || diff < -1e-5 {
				t.Errorf("AccumulateDelta(%v) = %v, want %v", tt.weight, dv[0].Z, tt.want)
			}
		})
	}
}

func TestAccumulateDeltaSingleFrameScales(t *testing.T) {
	shape := testmesh.Shape("a", 1, 100, 2, 0)
	dv := make([]math.Vec3, 1)
	shape.AccumulateDelta(150, dv, nil, nil)
	if dv[0].Z != 3 {
		t.Errorf("single frame at 150%% = %v, want 3", dv[0].Z)
	}
}

func TestAffectedVertices(t *testing.T) {
	shape := testmesh.Shape("a", 5, 100, 1, 1, 3)
	got := shape.AffectedVertices(5)
	want := []bool{false, true, false, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AffectedVertices() = %v, want %v", got, want)
		}
	}
}

func TestAddBlendShape(t *testing.T) {
	m := testmesh.Strip(4)
	if err := m.AddBlendShape(testmesh.Shape("a", 4, 100, 1, 0)); err != nil {
		t.Fatalf("AddBlendShape: %v", err)
	}
	err := m.AddBlendShape(testmesh.Shape("a", 4, 100, 1, 1))
	if !errors.Is(err, mesh.ErrDuplicateBlendShape) {
		t.Errorf("duplicate name: got %v, want ErrDuplicateBlendShape", err)
	}

	bad := mesh.BlendShape{Name: "b", Frames: []mesh.BlendShapeFrame{{Weight: 50}, {Weight: 50}}}
	if err := m.AddBlendShape(bad); !errors.Is(err, mesh.ErrInvalidBlendShape) {
		t.Errorf("non-increasing weights: got %v, want ErrInvalidBlendShape", err)
	}
	if len(m.BlendShapes) != 1 {
		t.Errorf("got %d blendshapes, want 1", len(m.BlendShapes))
	}
}
