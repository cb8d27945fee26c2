package mesh_test

import (
	"errors"
	"testing"

	"github.com/Faultbox/skinmerge/internal/testmesh"
	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
	"go.uber.org/multierr"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *mesh.Mesh)
		wantErr bool
	}{
		{"valid", func(m *mesh.Mesh) {}, false},
		{"short normals", func(m *mesh.Mesh) { m.Normals = m.Normals[:2] }, true},
		{"index out of range", func(m *mesh.Mesh) { m.Indices[0] = 99 }, true},
		{"sub-mesh index count", func(m *mesh.Mesh) { m.SubMeshes[0].IndexCount-- }, true},
		{"sub-mesh vertex range", func(m *mesh.Mesh) { m.SubMeshes[0].VertexCount = 100 }, true},
		{"bone count mismatch", func(m *mesh.Mesh) { m.BonesPerVertex[0] = 2 }, true},
		{"bone index beyond bindposes", func(m *mesh.Mesh) { m.BoneWeights[3].BoneIndex = 7 }, true},
		{"blendshape length", func(m *mesh.Mesh) {
			m.BlendShapes = []mesh.BlendShape{testmesh.Shape("a", 2, 100, 1, 0)}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testmesh.Strip(6)
			testmesh.SkinToBones(m, 3)
			tt.mutate(m)
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, mesh.ErrInvalidMesh) {
				t.Errorf("error %v should wrap ErrInvalidMesh", err)
			}
		})
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	m := testmesh.Strip(6)
	m.Normals = m.Normals[:1]
	m.Colors = m.Colors[:2]
	m.Indices[0] = 42

	errs := multierr.Errors(m.Validate())
	if len(errs) < 3 {
		t.Errorf("expected at least 3 violations, got %d: %v", len(errs), errs)
	}
}

func TestValidateOverlappingSubMeshes(t *testing.T) {
	m := testmesh.Append(testmesh.Strip(4), testmesh.Strip(4))
	m.SubMeshes[1].FirstVertex = 2
	m.SubMeshes[1].VertexCount = 6
	if err := m.Validate(); err == nil {
		t.Error("expected overlap error")
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := testmesh.Strip(4)
	testmesh.SkinToBones(m, 2)
	m.BlendShapes = []mesh.BlendShape{testmesh.Shape("a", 4, 100, 1, 0)}

	c := m.Clone()
	c.Vertices[0].X = 42
	c.BoneWeights[0].Weight = 0.5
	c.UVs[0].Data[0][0] = 9
	c.BlendShapes[0].Frames[0].DeltaVertices[0].Z = 7

	if m.Vertices[0].X == 42 || m.BoneWeights[0].Weight == 0.5 || m.UVs[0].Data[0][0] == 9 {
		t.Error("Clone shares stream storage with the original")
	}
	if m.BlendShapes[0].Frames[0].DeltaVertices[0].Z == 7 {
		t.Error("Clone shares blendshape storage with the original")
	}
	if c.Tangents != nil {
		t.Error("absent stream should stay nil after Clone")
	}
}

func TestWeightOffsets(t *testing.T) {
	m := &mesh.Mesh{BonesPerVertex: []uint8{2, 0, 3, 1}}
	got := m.WeightOffsets()
	want := []int{0, 2, 2, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("WeightOffsets() = %v, want %v", got, want)
		}
	}
}

func TestUpdateIndexFormat(t *testing.T) {
	m := &mesh.Mesh{Vertices: make([]math.Vec3, mesh.MaxUInt16Vertices)}
	if m.UpdateIndexFormat() {
		t.Error("65535 vertices should fit 16-bit indices")
	}
	m.Vertices = append(m.Vertices, math.Vec3{})
	if !m.UpdateIndexFormat() || m.IndexFormat != mesh.IndexUInt32 {
		t.Errorf("expected widening to UInt32, got %v", m.IndexFormat)
	}
}

func TestRecalculateNormals(t *testing.T) {
	m := testmesh.Strip(4)
	m.Normals = nil
	m.RecalculateNormals()

	for i, n := range m.Normals {
		if n.Z < 0.999 {
			t.Errorf("normal %d = %v, want +Z", i, n)
		}
	}
}

func TestRecalculateTangents(t *testing.T) {
	m := testmesh.Strip(4)
	m.RecalculateTangents()

	if len(m.Tangents) != 4 {
		t.Fatalf("got %d tangents, want 4", len(m.Tangents))
	}
	for i, tan := range m.Tangents {
		if tan[0] < 0.999 || (tan[3] != 1 && tan[3] != -1) {
			t.Errorf("tangent %d = %v, want +X with unit handedness", i, tan)
		}
	}
}

func TestBoundsTransform(t *testing.T) {
	m := testmesh.Strip(4)
	b := m.Bounds.Transform(math.Translate(10, 0, 0))
	if b.Min.X != 10 || b.Max.X != 11 || b.Max.Y != 1 {
		t.Errorf("transformed bounds = %+v", b)
	}
}
