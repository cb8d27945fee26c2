package gltfio

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"

	"github.com/Faultbox/skinmerge/internal/logger"
	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
	"github.com/Faultbox/skinmerge/pkg/scene"
)

// maxExportInfluences is the number of influences JOINTS_0/1 can hold.
const maxExportInfluences = 4 * maxJointSets

type encoder struct {
	doc       *gltf.Document
	index     map[*scene.Node]uint32
	materials map[*scene.Material]uint32
}

// Encode builds a document from the scene. Disabled renderers are left out;
// their nodes are kept.
func Encode(s *Scene) (*gltf.Document, error) {
	doc := gltf.NewDocument()
	e := &encoder{
		doc:       doc,
		index:     make(map[*scene.Node]uint32),
		materials: make(map[*scene.Material]uint32),
	}

	var order []*scene.Node
	for _, root := range s.Roots {
		root.Walk(func(n *scene.Node) {
			if _, dup := e.index[n]; dup {
				return
			}
			e.index[n] = uint32(len(doc.Nodes))
			doc.Nodes = append(doc.Nodes, encodeNode(n))
			order = append(order, n)
		})
	}
	for _, n := range order {
		gn := doc.Nodes[e.index[n]]
		for _, c := range n.Children() {
			gn.Children = append(gn.Children, e.index[c])
		}
		e.encodePhysBones(n, gn)
	}

	sc := &gltf.Scene{Name: s.Name}
	for _, root := range s.Roots {
		sc.Nodes = append(sc.Nodes, e.index[root])
	}
	doc.Scenes = []*gltf.Scene{sc}
	doc.Scene = gltf.Index(0)

	for _, r := range s.Renderers {
		if err := e.encodeRenderer(r); err != nil {
			return nil, fmt.Errorf("renderer on %q: %w", r.Owner().Name, err)
		}
	}
	return doc, nil
}

func encodeNode(n *scene.Node) *gltf.Node {
	p, r, s := n.Position, n.Rotation, n.Scale
	return &gltf.Node{
		Name:        n.Name,
		Translation: [3]float32{p.X, p.Y, p.Z},
		Rotation:    [4]float32{r.X, r.Y, r.Z, r.W},
		Scale:       [3]float32{s.X, s.Y, s.Z},
	}
}

func (e *encoder) encodePhysBones(n *scene.Node, gn *gltf.Node) {
	for _, c := range n.Components {
		pb, ok := c.(*scene.PhysBone)
		if !ok || pb.Root != n {
			continue
		}
		ignore := make([]string, 0, len(pb.Ignore))
		for _, ig := range pb.Ignore {
			if ig != nil {
				ignore = append(ignore, ig.Name)
			}
		}
		gn.Extras = map[string]any{extrasPhysBone: map[string]any{extrasIgnore: ignore}}
		return
	}
}

func (e *encoder) encodeRenderer(r scene.Renderer) error {
	var (
		skinned *scene.SkinnedMeshRenderer
		enabled bool
	)
	switch rr := r.(type) {
	case *scene.MeshRenderer:
		enabled = rr.Enabled
	case *scene.SkinnedMeshRenderer:
		enabled, skinned = rr.Enabled, rr
	default:
		return fmt.Errorf("%w: renderer %T", ErrUnsupported, r)
	}
	m := r.SharedMesh()
	if !enabled || m == nil {
		return nil
	}

	idx, ok := e.index[r.Owner()]
	if !ok {
		return fmt.Errorf("%w: owner node not in scene", ErrInvalidDocument)
	}
	gn := e.doc.Nodes[idx]
	if gn.Mesh != nil {
		return fmt.Errorf("%w: more than one renderer on a node", ErrUnsupported)
	}

	meshIdx, err := e.encodeMesh(m, r.MaterialList(), skinned)
	if err != nil {
		return err
	}
	gn.Mesh = gltf.Index(meshIdx)

	if skinned != nil && len(skinned.Bones) > 0 && m.HasBoneWeights() {
		skinIdx, err := e.encodeSkin(skinned)
		if err != nil {
			return err
		}
		gn.Skin = gltf.Index(skinIdx)
	}
	return nil
}

func (e *encoder) encodeMesh(m *mesh.Mesh, mats []*scene.Material, r *scene.SkinnedMeshRenderer) (uint32, error) {
	doc := e.doc
	n := m.VertexCount()

	attrs := gltf.Attribute{gltf.POSITION: modeler.WritePosition(doc, arr3(m.Vertices))}
	if len(m.Normals) == n {
		attrs[gltf.NORMAL] = modeler.WriteNormal(doc, arr3(m.Normals))
	}
	if len(m.Tangents) == n {
		attrs[gltf.TANGENT] = modeler.WriteTangent(doc, arr4(m.Tangents))
	}
	if len(m.Colors) == n {
		attrs[gltf.COLOR_0] = modeler.WriteColor(doc, arr4(m.Colors))
	}
	for ch, uv := range m.UVs {
		if len(uv.Data) != n {
			continue
		}
		coords := make([][2]float32, n)
		for i, v := range uv.Data {
			coords[i] = [2]float32{v[0], v[1]}
		}
		attrs[fmt.Sprintf("TEXCOORD_%d", ch)] = modeler.WriteTextureCoord(doc, coords)
	}
	if r != nil && len(r.Bones) > 0 && m.HasBoneWeights() {
		e.writeSkinAttributes(m, attrs)
	}

	targets, weights, names := e.writeTargets(m, r)

	gm := &gltf.Mesh{Name: m.Name, Weights: weights}
	if len(names) > 0 {
		gm.Extras = map[string]any{extrasTargetNames: names}
	}
	for s := range m.SubMeshes {
		p := &gltf.Primitive{
			Attributes: attrs,
			Indices:    gltf.Index(e.writeIndices(m, s)),
			Targets:    targets,
		}
		if s < len(mats) && mats[s] != nil {
			p.Material = gltf.Index(e.material(mats[s]))
		}
		gm.Primitives = append(gm.Primitives, p)
	}

	doc.Meshes = append(doc.Meshes, gm)
	return uint32(len(doc.Meshes) - 1), nil
}

func (e *encoder) writeIndices(m *mesh.Mesh, s int) uint32 {
	idx := m.SubMeshIndices(s)
	if m.IndexFormat == mesh.IndexUInt16 && m.VertexCount() <= mesh.MaxUInt16Vertices {
		narrow := make([]uint16, len(idx))
		for i, v := range idx {
			narrow[i] = uint16(v)
		}
		return modeler.WriteIndices(e.doc, narrow)
	}
	return modeler.WriteIndices(e.doc, slices.Clone(idx))
}

// writeSkinAttributes writes the strongest influences of every vertex as
// JOINTS_n/WEIGHTS_n, normalized to sum to one.
func (e *encoder) writeSkinAttributes(m *mesh.Mesh, attrs gltf.Attribute) {
	n := m.VertexCount()
	offsets := m.WeightOffsets()
	var joints [maxJointSets][][4]uint16
	var weights [maxJointSets][][4]float32
	sets := 1
	for v := 0; v < n; v++ {
		if int(m.BonesPerVertex[v]) > 4 {
			sets = maxJointSets
			break
		}
	}
	for s := 0; s < sets; s++ {
		joints[s] = make([][4]uint16, n)
		weights[s] = make([][4]float32, n)
	}

	dropped := 0
	for v := 0; v < n; v++ {
		infl := slices.Clone(m.BoneWeights[offsets[v]:offsets[v+1]])
		slices.SortStableFunc(infl, func(a, b mesh.BoneWeight) int {
			return cmp.Compare(b.Weight, a.Weight)
		})
		if len(infl) > maxExportInfluences {
			dropped++
			infl = infl[:maxExportInfluences]
		}

		var sum float32
		for _, bw := range infl {
			sum += bw.Weight
		}
		if sum <= 0 {
			weights[0][v][0] = 1
			continue
		}
		for k, bw := range infl {
			joints[k/4][v][k%4] = uint16(bw.BoneIndex)
			weights[k/4][v][k%4] = bw.Weight / sum
		}
	}
	if dropped > 0 {
		logger.Warn("vertices exceed exportable influences, keeping strongest",
			zap.Int("vertices", dropped), zap.Int("max", maxExportInfluences))
	}

	for s := 0; s < sets; s++ {
		attrs[fmt.Sprintf("JOINTS_%d", s)] = modeler.WriteJoints(e.doc, joints[s])
		attrs[fmt.Sprintf("WEIGHTS_%d", s)] = modeler.WriteWeights(e.doc, weights[s])
	}
}

// writeTargets exports the last frame of every blendshape as a morph
// target. The renderer weight is rescaled to that frame's weight.
func (e *encoder) writeTargets(m *mesh.Mesh, r *scene.SkinnedMeshRenderer) ([]gltf.Attribute, []float32, []string) {
	if len(m.BlendShapes) == 0 {
		return nil, nil, nil
	}

	targets := make([]gltf.Attribute, 0, len(m.BlendShapes))
	weights := make([]float32, 0, len(m.BlendShapes))
	names := make([]string, 0, len(m.BlendShapes))
	for i := range m.BlendShapes {
		shape := &m.BlendShapes[i]
		if len(shape.Frames) > 1 {
			logger.Debug("exporting last blendshape frame only",
				zap.String("shape", shape.Name), zap.Int("frames", len(shape.Frames)))
		}
		f := shape.Frames[len(shape.Frames)-1]

		t := gltf.Attribute{gltf.POSITION: modeler.WritePosition(e.doc, arr3(zeroIfNil(f.DeltaVertices, m.VertexCount())))}
		if f.DeltaNormals != nil {
			t[gltf.NORMAL] = modeler.WriteNormal(e.doc, arr3(f.DeltaNormals))
		}
		if f.DeltaTangents != nil {
			t[gltf.TANGENT] = modeler.WriteAccessor(e.doc, gltf.TargetArrayBuffer, arr3(f.DeltaTangents))
		}
		targets = append(targets, t)
		names = append(names, shape.Name)

		var w float32
		if r != nil && f.Weight != 0 {
			w = r.BlendShapeWeight(i) / f.Weight
		}
		weights = append(weights, w)
	}
	return targets, weights, names
}

func (e *encoder) encodeSkin(r *scene.SkinnedMeshRenderer) (uint32, error) {
	fallback := r.RootBone
	if fallback == nil {
		fallback = r.Node
	}

	skin := &gltf.Skin{Name: r.Node.Name}
	ibm := make([][4][4]float32, len(r.Bones))
	for i, b := range r.Bones {
		if b == nil {
			b = fallback
		}
		j, ok := e.index[b]
		if !ok {
			return 0, fmt.Errorf("%w: bone %q not in scene", ErrInvalidDocument, b.Name)
		}
		skin.Joints = append(skin.Joints, j)

		bp := math.Identity()
		if i < len(r.Mesh.Bindposes) {
			bp = r.Mesh.Bindposes[i]
		}
		ibm[i] = columns(bp)
	}
	skin.InverseBindMatrices = gltf.Index(modeler.WriteAccessor(e.doc, gltf.TargetNone, ibm))
	if r.RootBone != nil {
		if j, ok := e.index[r.RootBone]; ok {
			skin.Skeleton = gltf.Index(j)
		}
	}

	e.doc.Skins = append(e.doc.Skins, skin)
	return uint32(len(e.doc.Skins) - 1), nil
}

func (e *encoder) material(mat *scene.Material) uint32 {
	if idx, ok := e.materials[mat]; ok {
		return idx
	}
	idx := uint32(len(e.doc.Materials))
	e.doc.Materials = append(e.doc.Materials, &gltf.Material{Name: mat.Name})
	e.materials[mat] = idx
	return idx
}

func arr3(v []math.Vec3) [][3]float32 {
	out := make([][3]float32, len(v))
	for i, p := range v {
		out[i] = [3]float32{p.X, p.Y, p.Z}
	}
	return out
}

func arr4(v []math.Vec4) [][4]float32 {
	out := make([][4]float32, len(v))
	for i, p := range v {
		out[i] = [4]float32(p)
	}
	return out
}

func zeroIfNil(v []math.Vec3, n int) []math.Vec3 {
	if v == nil {
		return make([]math.Vec3, n)
	}
	return v
}

func columns(m math.Mat4) [4][4]float32 {
	var c [4][4]float32
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			c[col][row] = m[col*4+row]
		}
	}
	return c
}
