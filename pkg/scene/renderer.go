package scene

import (
	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
)

// Material is an opaque material handle. Sub-mesh i of a renderer's mesh is
// drawn with Materials[i]; a nil entry means no material.
type Material struct {
	Name string
}

// Renderer is implemented by both renderer kinds.
type Renderer interface {
	Owner() *Node
	SharedMesh() *mesh.Mesh
	MaterialList() []*Material
	SetEnabled(enabled bool)
}

// MeshRenderer draws a static mesh at its node's transform.
type MeshRenderer struct {
	Node      *Node
	Mesh      *mesh.Mesh
	Materials []*Material
	Enabled   bool
}

func (r *MeshRenderer) Owner() *Node              { return r.Node }
func (r *MeshRenderer) SharedMesh() *mesh.Mesh    { return r.Mesh }
func (r *MeshRenderer) MaterialList() []*Material { return r.Materials }
func (r *MeshRenderer) SetEnabled(enabled bool)   { r.Enabled = enabled }

// SkinnedMeshRenderer draws a mesh deformed by a bone list. Bones is index
// aligned with Mesh.Bindposes; a nil bone marks a deleted joint.
type SkinnedMeshRenderer struct {
	Node      *Node
	Mesh      *mesh.Mesh
	Materials []*Material
	Bones     []*Node
	RootBone  *Node
	Enabled   bool

	blendShapeWeights []float32
}

func (r *SkinnedMeshRenderer) Owner() *Node              { return r.Node }
func (r *SkinnedMeshRenderer) SharedMesh() *mesh.Mesh    { return r.Mesh }
func (r *SkinnedMeshRenderer) MaterialList() []*Material { return r.Materials }
func (r *SkinnedMeshRenderer) SetEnabled(enabled bool)   { r.Enabled = enabled }

// BlendShapeWeight returns the animated weight of blendshape i.
func (r *SkinnedMeshRenderer) BlendShapeWeight(i int) float32 {
	if i < 0 || i >= len(r.blendShapeWeights) {
		return 0
	}
	return r.blendShapeWeights[i]
}

// SetBlendShapeWeight sets the animated weight of blendshape i.
func (r *SkinnedMeshRenderer) SetBlendShapeWeight(i int, w float32) {
	if i < 0 {
		return
	}
	if i >= len(r.blendShapeWeights) {
		grown := make([]float32, i+1)
		copy(grown, r.blendShapeWeights)
		r.blendShapeWeights = grown
	}
	r.blendShapeWeights[i] = w
}

// ClearBlendShapeWeights resets every blendshape weight to zero.
func (r *SkinnedMeshRenderer) ClearBlendShapeWeights() {
	r.blendShapeWeights = nil
}

// BlendShapeWeightByName looks the weight up by blendshape name.
func (r *SkinnedMeshRenderer) BlendShapeWeightByName(name string) (float32, bool) {
	if r.Mesh == nil {
		return 0, false
	}
	i := r.Mesh.BlendShapeIndex(name)
	if i < 0 {
		return 0, false
	}
	return r.BlendShapeWeight(i), true
}

// SetBlendShapeWeightByName sets the weight of the named blendshape.
// Returns false if the mesh has no such blendshape.
func (r *SkinnedMeshRenderer) SetBlendShapeWeightByName(name string, w float32) bool {
	if r.Mesh == nil {
		return false
	}
	i := r.Mesh.BlendShapeIndex(name)
	if i < 0 {
		return false
	}
	r.SetBlendShapeWeight(i, w)
	return true
}

// BakeMesh returns a copy of the mesh posed by the current blendshape
// weights and bone transforms, expressed in the renderer node's local space.
// The result carries no skin weights, bindposes or blendshapes.
func (r *SkinnedMeshRenderer) BakeMesh() *mesh.Mesh {
	out := r.Mesh.Clone()
	n := out.VertexCount()

	if len(out.BlendShapes) > 0 {
		dv := make([]math.Vec3, n)
		var dn, dt []math.Vec3
		if out.Normals != nil {
			dn = make([]math.Vec3, n)
		}
		if out.Tangents != nil {
			dt = make([]math.Vec3, n)
		}
		for i := range out.BlendShapes {
			if w := r.BlendShapeWeight(i); w != 0 {
				out.BlendShapes[i].AccumulateDelta(w, dv, dn, dt)
			}
		}
		for v := 0; v < n; v++ {
			out.Vertices[v] = out.Vertices[v].Add(dv[v])
			if dn != nil {
				out.Normals[v] = out.Normals[v].Add(dn[v]).Normalize()
			}
			if dt != nil {
				t := out.Tangents[v].XYZ().Add(dt[v]).Normalize()
				out.Tangents[v] = math.Vec4{t.X, t.Y, t.Z, out.Tangents[v][3]}
			}
		}
	}

	if out.HasBoneWeights() && len(r.Bones) > 0 {
		r.applySkinning(out)
	}

	out.BlendShapes = nil
	out.BonesPerVertex = nil
	out.BoneWeights = nil
	out.Bindposes = nil
	out.RecalculateBounds()
	return out
}

func (r *SkinnedMeshRenderer) applySkinning(out *mesh.Mesh) {
	toLocal := math.Identity()
	if r.Node != nil {
		toLocal = r.Node.WorldToLocal()
	}

	skinMatrices := make([]math.Mat4, len(r.Bones))
	valid := make([]bool, len(r.Bones))
	for i, b := range r.Bones {
		if b == nil || i >= len(out.Bindposes) {
			continue
		}
		skinMatrices[i] = toLocal.Mul(b.LocalToWorld()).Mul(out.Bindposes[i])
		valid[i] = true
	}

	offsets := out.WeightOffsets()
	for v := 0; v < out.VertexCount(); v++ {
		var blended math.Mat4
		var total float32
		for _, bw := range out.BoneWeights[offsets[v]:offsets[v+1]] {
			if bw.Weight <= 0 || bw.BoneIndex >= len(valid) || !valid[bw.BoneIndex] {
				continue
			}
			blended = blended.Add(skinMatrices[bw.BoneIndex].MulScalar(bw.Weight))
			total += bw.Weight
		}
		if total == 0 {
			continue
		}
		blended = blended.MulScalar(1 / total)

		out.Vertices[v] = blended.TransformPoint(out.Vertices[v])
		if out.Normals != nil {
			out.Normals[v] = blended.NormalMatrix().TransformDirection(out.Normals[v]).Normalize()
		}
		if out.Tangents != nil {
			t := blended.TransformDirection(out.Tangents[v].XYZ()).Normalize()
			out.Tangents[v] = math.Vec4{t.X, t.Y, t.Z, out.Tangents[v][3]}
		}
	}
}

// PhysBone is a physics-driven bone chain component. Root and everything
// below it is simulated, except the Ignore subtrees.
type PhysBone struct {
	Root   *Node
	Ignore []*Node
}
