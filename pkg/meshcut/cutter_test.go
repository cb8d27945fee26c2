package meshcut

import (
	"errors"
	"reflect"
	"testing"

	"github.com/Faultbox/skinmerge/internal/testmesh"
	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
)

// triangle returns a single triangle mesh plus one extra triangle sharing
// no vertices with it, so survival can be checked per triangle.
func twoTriangles() *mesh.Mesh {
	m := &mesh.Mesh{
		Vertices: []math.Vec3{{X: 0}, {X: 1}, {Y: 1}, {X: 5}, {X: 6}, {X: 5, Y: 1}},
		Indices:  []uint32{0, 1, 2, 3, 4, 5},
	}
	m.SubMeshes = []mesh.SubMesh{{IndexStart: 0, IndexCount: 6, FirstVertex: 0, VertexCount: 6}}
	return m
}

func TestApplyWithoutRemovalsIsIdentity(t *testing.T) {
	m := testmesh.Strip(10)
	testmesh.SkinToBones(m, 3)
	m.BlendShapes = []mesh.BlendShape{testmesh.Shape("a", 10, 100, 1, 2, 5)}
	want := m.Clone()

	c, err := New(m, Options{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Apply()
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !reflect.DeepEqual(res.Mesh, want) {
		t.Error("no-op cut changed the mesh")
	}
	if res.RemovedVertices != 0 || res.RemovedTriangles != 0 {
		t.Errorf("removed %d vertices, %d triangles; want 0", res.RemovedVertices, res.RemovedTriangles)
	}
}

func TestTriangleSurvival(t *testing.T) {
	tests := []struct {
		name          string
		soft          []int
		aggressive    []int
		wantTriangles int
		wantVertices  int
	}{
		{"two of three soft", []int{0, 1}, nil, 2, 6},
		{"all three soft", []int{0, 1, 2}, nil, 1, 3},
		{"one aggressive", nil, []int{0}, 1, 3},
		{"aggressive wins over soft", []int{1}, []int{1}, 1, 3},
		{"both triangles soft", []int{0, 1, 2, 3, 4, 5}, nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := twoTriangles()
			c, _ := New(m, Options{})
			for _, v := range tt.soft {
				if err := c.RemoveVertex(v, false); err != nil {
					t.Fatal(err)
				}
			}
			for _, v := range tt.aggressive {
				if err := c.RemoveVertex(v, true); err != nil {
					t.Fatal(err)
				}
			}
			res, err := c.Apply()
			if err != nil {
				t.Fatal(err)
			}
			if got := res.Mesh.TriangleCount(); got != tt.wantTriangles {
				t.Errorf("triangles = %d, want %d", got, tt.wantTriangles)
			}
			if got := res.Mesh.VertexCount(); got != tt.wantVertices {
				t.Errorf("vertices = %d, want %d", got, tt.wantVertices)
			}
			if err := res.Mesh.Validate(); err != nil {
				t.Errorf("cut mesh invalid: %v", err)
			}
		})
	}
}

func TestSoftMarkedVertexStaysAliveWhileReferenced(t *testing.T) {
	m := twoTriangles()
	c, _ := New(m, Options{})
	_ = c.RemoveVertex(0, false)
	_ = c.RemoveVertex(1, false)
	c.Flush()

	for v := 0; v < 3; v++ {
		if !c.VertexAlive(v) {
			t.Errorf("vertex %d should stay alive", v)
		}
	}
}

func TestCompactsEveryStreamInLockStep(t *testing.T) {
	m := twoTriangles()
	m.Normals = []math.Vec3{{Z: 0}, {Z: 1}, {Z: 2}, {Z: 3}, {Z: 4}, {Z: 5}}
	m.Tangents = make([]math.Vec4, 6)
	m.UVs[3] = mesh.UVChannel{Dimension: 3, Data: make([]math.Vec4, 6)}
	for i := range m.Tangents {
		m.Tangents[i] = math.Vec4{float32(i), 0, 0, 1}
		m.UVs[3].Data[i] = math.Vec4{0, 0, float32(i), 0}
	}
	// Ragged weights: vertex i has i%3 influences.
	for v := 0; v < 6; v++ {
		cnt := v % 3
		m.BonesPerVertex = append(m.BonesPerVertex, uint8(cnt))
		for k := 0; k < cnt; k++ {
			m.BoneWeights = append(m.BoneWeights, mesh.BoneWeight{BoneIndex: v, Weight: float32(k + 1)})
		}
	}
	m.Bindposes = make([]math.Mat4, 6)
	shape := testmesh.Shape("s", 6, 100, 1, 0, 4)
	m.BlendShapes = []mesh.BlendShape{shape}

	c, _ := New(m, Options{})
	_ = c.RemoveVertex(1, true)
	res, err := c.Apply()
	if err != nil {
		t.Fatal(err)
	}
	out := res.Mesh

	wantMap := []int{-1, -1, -1, 0, 1, 2}
	if !reflect.DeepEqual(res.VertexMap, wantMap) {
		t.Fatalf("VertexMap = %v, want %v", res.VertexMap, wantMap)
	}
	for nv, ov := range []int{3, 4, 5} {
		if out.Normals[nv].Z != float32(ov) || out.Tangents[nv][0] != float32(ov) || out.UVs[3].Data[nv][2] != float32(ov) {
			t.Errorf("vertex %d streams not shifted from %d", nv, ov)
		}
	}
	if !reflect.DeepEqual(out.BonesPerVertex, []uint8{0, 1, 2}) {
		t.Errorf("BonesPerVertex = %v", out.BonesPerVertex)
	}
	wantWeights := []mesh.BoneWeight{{BoneIndex: 4, Weight: 1}, {BoneIndex: 5, Weight: 1}, {BoneIndex: 5, Weight: 2}}
	if !reflect.DeepEqual(out.BoneWeights, wantWeights) {
		t.Errorf("BoneWeights = %v, want %v", out.BoneWeights, wantWeights)
	}
	if len(out.Bindposes) != 6 {
		t.Error("bindposes must not be compacted")
	}
	dv := out.BlendShapes[0].Frames[0].DeltaVertices
	if len(dv) != 3 || dv[1].Z != 1 || dv[0].Z != 0 {
		t.Errorf("blendshape deltas = %v", dv)
	}
	if out.Colors != nil {
		t.Error("absent color stream should stay nil")
	}
	if !reflect.DeepEqual(out.Indices, []uint32{0, 1, 2}) {
		t.Errorf("Indices = %v", out.Indices)
	}
}

func TestRemoveEmptySubMeshes(t *testing.T) {
	m := testmesh.Append(testmesh.Append(testmesh.Strip(3), testmesh.Strip(3)), testmesh.Strip(3))
	c, _ := New(m, Options{RemoveEmptySubMeshes: true})
	for v := 3; v < 6; v++ {
		_ = c.RemoveVertex(v, false)
	}
	res, err := c.Apply()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.RemovedSubMeshes, []int{1}) {
		t.Fatalf("RemovedSubMeshes = %v, want [1]", res.RemovedSubMeshes)
	}
	if len(res.Mesh.SubMeshes) != 2 {
		t.Fatalf("got %d sub-meshes, want 2", len(res.Mesh.SubMeshes))
	}
	last := res.Mesh.SubMeshes[1]
	if last.FirstVertex != 3 || last.VertexCount != 3 || last.IndexStart != 3 {
		t.Errorf("last sub-mesh = %+v", last)
	}

	mats, err := AdjustMaterials([]string{"a", "b", "c"}, 3, res.RemovedSubMeshes)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(mats, []string{"a", "c"}) {
		t.Errorf("AdjustMaterials = %v", mats)
	}
}

func TestEmptySubMeshKeptByDefault(t *testing.T) {
	m := testmesh.Append(testmesh.Strip(3), testmesh.Strip(3))
	c, _ := New(m, Options{})
	for v := 0; v < 3; v++ {
		_ = c.RemoveVertex(v, false)
	}
	res, _ := c.Apply()
	if len(res.Mesh.SubMeshes) != 2 || res.Mesh.SubMeshes[0].IndexCount != 0 {
		t.Errorf("sub-meshes = %+v", res.Mesh.SubMeshes)
	}
	if res.Mesh.SubMeshes[1].FirstVertex != 0 {
		t.Errorf("second sub-mesh should start at 0, got %d", res.Mesh.SubMeshes[1].FirstVertex)
	}
}

func TestErrors(t *testing.T) {
	if _, err := New(nil, Options{}); !errors.Is(err, ErrNilMesh) {
		t.Errorf("New(nil) error = %v", err)
	}

	c, _ := New(twoTriangles(), Options{})
	if err := c.RemoveVertex(6, false); !errors.Is(err, ErrVertexOutOfRange) {
		t.Errorf("out of range error = %v", err)
	}
	if err := c.RemoveVertex(-1, true); !errors.Is(err, ErrVertexOutOfRange) {
		t.Errorf("negative index error = %v", err)
	}
	if err := c.RemoveVertex(2, false); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveVertex(2, false); err != nil || c.MarkedCount() != 1 {
		t.Errorf("duplicate mark: err=%v count=%d", err, c.MarkedCount())
	}

	c.Flush()
	if err := c.RemoveVertex(0, false); !errors.Is(err, ErrFinalized) {
		t.Errorf("after Flush error = %v", err)
	}
	if _, err := c.Apply(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Apply(); !errors.Is(err, ErrApplied) {
		t.Errorf("second Apply error = %v", err)
	}

	if _, err := AdjustMaterials([]int{1, 2}, 3, nil); !errors.Is(err, ErrMaterialCount) {
		t.Errorf("AdjustMaterials mismatch error = %v", err)
	}
}

func TestNewRejectsInvalidMesh(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(m *mesh.Mesh)
	}{
		{"index past vertex count", func(m *mesh.Mesh) { m.Indices[4] = 9 }},
		{"short normal stream", func(m *mesh.Mesh) { m.Normals = make([]math.Vec3, 2) }},
		{"weight counts do not match weights", func(m *mesh.Mesh) {
			m.BonesPerVertex = []uint8{1, 1, 1, 1, 1, 2}
			m.BoneWeights = make([]mesh.BoneWeight, 6)
			m.Bindposes = []math.Mat4{math.Identity()}
		}},
		{"blendshape delta length", func(m *mesh.Mesh) {
			m.BlendShapes = []mesh.BlendShape{testmesh.Shape("s", 4, 100, 1, 0)}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := twoTriangles()
			tt.corrupt(m)
			c, err := New(m, Options{})
			if !errors.Is(err, mesh.ErrInvalidMesh) {
				t.Fatalf("New error = %v, want ErrInvalidMesh", err)
			}
			if c != nil {
				t.Error("New returned a cutter for an invalid mesh")
			}
		})
	}
}
