package gltfio

import (
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"

	"github.com/Faultbox/skinmerge/internal/logger"
	"github.com/Faultbox/skinmerge/pkg/math"
	"github.com/Faultbox/skinmerge/pkg/mesh"
	"github.com/Faultbox/skinmerge/pkg/scene"
)

// Extras keys understood on nodes and meshes.
const (
	extrasTargetNames = "targetNames"
	extrasPhysBone    = "physBone"
	extrasIgnore      = "ignore"
)

// maxJointSets is how many JOINTS_n/WEIGHTS_n pairs are read per vertex.
const maxJointSets = 2

type decoder struct {
	doc       *gltf.Document
	nodes     []*scene.Node
	materials []*scene.Material
}

// Decode converts a parsed document into a scene.
func Decode(doc *gltf.Document) (*Scene, error) {
	d := &decoder{doc: doc}
	s := &Scene{}

	d.materials = make([]*scene.Material, len(doc.Materials))
	for i, m := range doc.Materials {
		name := NormalizeName(m.Name)
		if name == "" {
			name = fmt.Sprintf("material_%d", i)
		}
		d.materials[i] = &scene.Material{Name: name}
	}
	s.Materials = d.materials

	if err := d.decodeNodes(); err != nil {
		return nil, err
	}
	roots, name, err := d.roots()
	if err != nil {
		return nil, err
	}
	s.Roots, s.Name = roots, name

	for i, gn := range doc.Nodes {
		if gn.Mesh == nil {
			continue
		}
		r, err := d.renderer(gn, d.nodes[i])
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", d.nodes[i].Name, err)
		}
		s.Renderers = append(s.Renderers, r)
	}
	return s, nil
}

func (d *decoder) decodeNodes() error {
	d.nodes = make([]*scene.Node, len(d.doc.Nodes))
	for i, gn := range d.doc.Nodes {
		d.nodes[i] = decodeNode(gn, i)
	}

	for i, gn := range d.doc.Nodes {
		for _, c := range gn.Children {
			if int(c) >= len(d.nodes) {
				return fmt.Errorf("%w: node %d child %d out of range", ErrInvalidDocument, i, c)
			}
			child := d.nodes[c]
			if child.Parent() != nil || child == d.nodes[i] {
				return fmt.Errorf("%w: node %d has more than one parent", ErrInvalidDocument, c)
			}
			child.SetParent(d.nodes[i])
		}
	}

	for i, gn := range d.doc.Nodes {
		d.decodePhysBone(gn, d.nodes[i])
	}
	return nil
}

func decodeNode(gn *gltf.Node, i int) *scene.Node {
	name := NormalizeName(gn.Name)
	if name == "" {
		name = fmt.Sprintf("node_%d", i)
	}
	node := scene.NewNode(name)

	if m := gn.MatrixOrDefault(); m != gltf.DefaultMatrix {
		node.Position, node.Rotation, node.Scale = math.Mat4(m).Decompose()
		return node
	}
	t, r, s := gn.TranslationOrDefault(), gn.RotationOrDefault(), gn.ScaleOrDefault()
	node.Position = math.Vec3{X: t[0], Y: t[1], Z: t[2]}
	node.Rotation = math.Quat{X: r[0], Y: r[1], Z: r[2], W: r[3]}
	node.Scale = math.Vec3{X: s[0], Y: s[1], Z: s[2]}
	return node
}

// decodePhysBone reads a {"physBone": {"ignore": [...]}} extras entry into a
// PhysBone component rooted at the node.
func (d *decoder) decodePhysBone(gn *gltf.Node, node *scene.Node) {
	extras, ok := gn.Extras.(map[string]any)
	if !ok {
		return
	}
	raw, ok := extras[extrasPhysBone]
	if !ok {
		return
	}

	pb := &scene.PhysBone{Root: node}
	if fields, ok := raw.(map[string]any); ok {
		for _, name := range stringList(fields[extrasIgnore]) {
			if ignored := node.Find(NormalizeName(name)); ignored != nil {
				pb.Ignore = append(pb.Ignore, ignored)
			} else {
				logger.Warn("physbone ignore target not found",
					zap.String("node", node.Name), zap.String("ignore", name))
			}
		}
	}
	node.Components = append(node.Components, pb)
}

func (d *decoder) roots() ([]*scene.Node, string, error) {
	var sc *gltf.Scene
	if d.doc.Scene != nil && int(*d.doc.Scene) < len(d.doc.Scenes) {
		sc = d.doc.Scenes[*d.doc.Scene]
	} else if len(d.doc.Scenes) > 0 {
		sc = d.doc.Scenes[0]
	}

	if sc == nil || len(sc.Nodes) == 0 {
		var roots []*scene.Node
		for _, n := range d.nodes {
			if n.Parent() == nil {
				roots = append(roots, n)
			}
		}
		name := ""
		if sc != nil {
			name = sc.Name
		}
		return roots, name, nil
	}

	roots := make([]*scene.Node, 0, len(sc.Nodes))
	for _, idx := range sc.Nodes {
		if int(idx) >= len(d.nodes) {
			return nil, "", fmt.Errorf("%w: scene root %d out of range", ErrInvalidDocument, idx)
		}
		roots = append(roots, d.nodes[idx])
	}
	return roots, sc.Name, nil
}

func (d *decoder) renderer(gn *gltf.Node, node *scene.Node) (scene.Renderer, error) {
	if int(*gn.Mesh) >= len(d.doc.Meshes) {
		return nil, fmt.Errorf("%w: mesh %d out of range", ErrInvalidDocument, *gn.Mesh)
	}
	gm := d.doc.Meshes[*gn.Mesh]
	m, mats, err := d.decodeMesh(gm)
	if err != nil {
		return nil, fmt.Errorf("mesh %q: %w", gm.Name, err)
	}

	if gn.Skin == nil && len(m.BlendShapes) == 0 {
		m.BonesPerVertex, m.BoneWeights = nil, nil
		return &scene.MeshRenderer{Node: node, Mesh: m, Materials: mats, Enabled: true}, nil
	}

	r := &scene.SkinnedMeshRenderer{Node: node, Mesh: m, Materials: mats, Enabled: true}
	if gn.Skin != nil {
		if err := d.decodeSkin(*gn.Skin, r); err != nil {
			return nil, err
		}
	} else {
		m.BonesPerVertex, m.BoneWeights = nil, nil
	}

	weights := gm.Weights
	if len(gn.Weights) > 0 {
		weights = gn.Weights
	}
	for i, w := range weights {
		if i < len(m.BlendShapes) {
			r.SetBlendShapeWeight(i, w*FrameWeight)
		}
	}
	return r, nil
}

func (d *decoder) decodeSkin(idx uint32, r *scene.SkinnedMeshRenderer) error {
	if int(idx) >= len(d.doc.Skins) {
		return fmt.Errorf("%w: skin %d out of range", ErrInvalidDocument, idx)
	}
	skin := d.doc.Skins[idx]

	r.Bones = make([]*scene.Node, len(skin.Joints))
	for i, j := range skin.Joints {
		if int(j) >= len(d.nodes) {
			return fmt.Errorf("%w: joint %d out of range", ErrInvalidDocument, j)
		}
		r.Bones[i] = d.nodes[j]
	}
	if skin.Skeleton != nil && int(*skin.Skeleton) < len(d.nodes) {
		r.RootBone = d.nodes[*skin.Skeleton]
	} else {
		r.RootBone = scene.CommonAncestor(r.Bones)
	}

	bindposes := make([]math.Mat4, len(skin.Joints))
	for i := range bindposes {
		bindposes[i] = math.Identity()
	}
	if skin.InverseBindMatrices != nil {
		acr, err := d.accessorAt(*skin.InverseBindMatrices)
		if err != nil {
			return err
		}
		data, err := modeler.ReadAccessor(d.doc, acr, nil)
		if err != nil {
			return fmt.Errorf("inverse bind matrices: %w", err)
		}
		mats, ok := data.([][4][4]float32)
		if !ok {
			return fmt.Errorf("%w: inverse bind matrices of type %T", ErrUnsupported, data)
		}
		if len(mats) < len(bindposes) {
			return fmt.Errorf("%w: %d inverse bind matrices for %d joints", ErrInvalidDocument, len(mats), len(bindposes))
		}
		for i := range bindposes {
			bindposes[i] = matFromColumns(mats[i])
		}
	}
	r.Mesh.Bindposes = bindposes

	for i, bw := range r.Mesh.BoneWeights {
		if bw.BoneIndex >= len(r.Bones) {
			return fmt.Errorf("%w: weight %d uses joint %d of %d", ErrInvalidDocument, i, bw.BoneIndex, len(r.Bones))
		}
	}
	return nil
}

// primitiveLayout records which optional streams any primitive carries.
type primitiveLayout struct {
	normals  bool
	tangents bool
	colors   bool
	skinned  bool
	uvs      [mesh.MaxUVChannels]bool
	targets  int
}

func scanLayout(prims []*gltf.Primitive) primitiveLayout {
	var l primitiveLayout
	for _, p := range prims {
		_, n := p.Attributes[gltf.NORMAL]
		_, t := p.Attributes[gltf.TANGENT]
		_, c := p.Attributes[gltf.COLOR_0]
		_, j := p.Attributes[gltf.JOINTS_0]
		l.normals = l.normals || n
		l.tangents = l.tangents || t
		l.colors = l.colors || c
		l.skinned = l.skinned || j
		for ch := range l.uvs {
			_, ok := p.Attributes[fmt.Sprintf("TEXCOORD_%d", ch)]
			l.uvs[ch] = l.uvs[ch] || ok
		}
		l.targets = max(l.targets, len(p.Targets))
	}
	return l
}

func (d *decoder) decodeMesh(gm *gltf.Mesh) (*mesh.Mesh, []*scene.Material, error) {
	m := &mesh.Mesh{Name: NormalizeName(gm.Name)}
	layout := scanLayout(gm.Primitives)
	names := targetNames(gm, layout.targets)
	shapes := make([]mesh.BlendShape, layout.targets)
	for i := range shapes {
		shapes[i] = mesh.BlendShape{Name: names[i], Frames: []mesh.BlendShapeFrame{{Weight: FrameWeight}}}
	}

	var mats []*scene.Material
	for pi, p := range gm.Primitives {
		if p.Mode != gltf.PrimitiveTriangles {
			logger.Warn("skipping non-triangle primitive",
				zap.String("mesh", gm.Name), zap.Int("primitive", pi))
			continue
		}
		if err := d.appendPrimitive(m, p, layout, shapes); err != nil {
			return nil, nil, fmt.Errorf("primitive %d: %w", pi, err)
		}

		var mat *scene.Material
		if p.Material != nil {
			if int(*p.Material) >= len(d.materials) {
				return nil, nil, fmt.Errorf("%w: material %d out of range", ErrInvalidDocument, *p.Material)
			}
			mat = d.materials[*p.Material]
		}
		mats = append(mats, mat)
	}

	for _, shape := range shapes {
		if err := m.AddBlendShape(shape); err != nil {
			return nil, nil, err
		}
	}
	if m.VertexCount() > mesh.MaxUInt16Vertices {
		m.IndexFormat = mesh.IndexUInt32
	}
	m.RecalculateBounds()
	return m, mats, nil
}

func (d *decoder) appendPrimitive(m *mesh.Mesh, p *gltf.Primitive, layout primitiveLayout, shapes []mesh.BlendShape) error {
	posAcr, err := d.attribute(p.Attributes, gltf.POSITION)
	if err != nil {
		return err
	}
	if posAcr == nil {
		return fmt.Errorf("%w: primitive without POSITION", ErrInvalidDocument)
	}
	positions, err := modeler.ReadPosition(d.doc, posAcr, nil)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	base := m.VertexCount()
	count := len(positions)
	m.Vertices = append(m.Vertices, vec3s(positions)...)

	if layout.normals {
		normals, err := d.readVec3(p.Attributes, gltf.NORMAL, count)
		if err != nil {
			return err
		}
		m.Normals = append(m.Normals, fill(normals, count, math.Vec3{Z: 1})...)
	}
	if layout.tangents {
		tangents, err := d.readTangents(p.Attributes, count)
		if err != nil {
			return err
		}
		m.Tangents = append(m.Tangents, fill(tangents, count, math.Vec4{1, 0, 0, 1})...)
	}
	if layout.colors {
		colors, err := d.readColors(p.Attributes, count)
		if err != nil {
			return err
		}
		m.Colors = append(m.Colors, fill(colors, count, math.Vec4{1, 1, 1, 1})...)
	}
	for ch, present := range layout.uvs {
		if !present {
			continue
		}
		uvs, err := d.readUVs(p.Attributes, fmt.Sprintf("TEXCOORD_%d", ch), count)
		if err != nil {
			return err
		}
		m.UVs[ch].Dimension = 2
		m.UVs[ch].Data = append(m.UVs[ch].Data, fill(uvs, count, math.Vec4{})...)
	}
	if layout.skinned {
		if err := d.appendSkin(m, p.Attributes, count); err != nil {
			return err
		}
	}

	for k := range shapes {
		if err := d.appendTarget(&shapes[k].Frames[0], p, k, count); err != nil {
			return fmt.Errorf("target %d: %w", k, err)
		}
	}

	indices, err := d.readIndices(p, count)
	if err != nil {
		return err
	}
	start := len(m.Indices)
	for _, idx := range indices {
		m.Indices = append(m.Indices, idx+uint32(base))
	}
	m.SubMeshes = append(m.SubMeshes, mesh.SubMesh{
		IndexStart:  start,
		IndexCount:  len(indices),
		FirstVertex: base,
		VertexCount: count,
	})
	return nil
}

func (d *decoder) readIndices(p *gltf.Primitive, count int) ([]uint32, error) {
	if p.Indices == nil {
		indices := make([]uint32, count-count%3)
		for i := range indices {
			indices[i] = uint32(i)
		}
		return indices, nil
	}
	acr, err := d.accessorAt(*p.Indices)
	if err != nil {
		return nil, err
	}
	indices, err := modeler.ReadIndices(d.doc, acr, nil)
	if err != nil {
		return nil, fmt.Errorf("indices: %w", err)
	}
	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("%w: %d indices is not a triangle list", ErrInvalidDocument, len(indices))
	}
	for _, idx := range indices {
		if int(idx) >= count {
			return nil, fmt.Errorf("%w: index %d of %d vertices", ErrInvalidDocument, idx, count)
		}
	}
	return indices, nil
}

func (d *decoder) appendSkin(m *mesh.Mesh, attrs gltf.Attribute, count int) error {
	var joints [maxJointSets][][4]uint16
	var weights [maxJointSets][][4]float32
	for set := 0; set < maxJointSets; set++ {
		jAcr, err := d.attribute(attrs, fmt.Sprintf("JOINTS_%d", set))
		if err != nil {
			return err
		}
		wAcr, err := d.attribute(attrs, fmt.Sprintf("WEIGHTS_%d", set))
		if err != nil {
			return err
		}
		if jAcr == nil || wAcr == nil {
			break
		}
		if joints[set], err = modeler.ReadJoints(d.doc, jAcr, nil); err != nil {
			return fmt.Errorf("joints %d: %w", set, err)
		}
		if weights[set], err = modeler.ReadWeights(d.doc, wAcr, nil); err != nil {
			return fmt.Errorf("weights %d: %w", set, err)
		}
		if len(joints[set]) != count || len(weights[set]) != count {
			return fmt.Errorf("%w: skin set %d length mismatch", ErrInvalidDocument, set)
		}
	}

	for v := 0; v < count; v++ {
		var n uint8
		for set := 0; set < maxJointSets; set++ {
			if joints[set] == nil {
				break
			}
			for k := 0; k < 4; k++ {
				w := weights[set][v][k]
				if w <= 0 {
					continue
				}
				m.BoneWeights = append(m.BoneWeights, mesh.BoneWeight{BoneIndex: int(joints[set][v][k]), Weight: w})
				n++
			}
		}
		m.BonesPerVertex = append(m.BonesPerVertex, n)
	}
	return nil
}

func (d *decoder) appendTarget(frame *mesh.BlendShapeFrame, p *gltf.Primitive, k, count int) error {
	var target gltf.Attribute
	if k < len(p.Targets) {
		target = p.Targets[k]
	}

	dv, err := d.readVec3(target, gltf.POSITION, count)
	if err != nil {
		return err
	}
	frame.DeltaVertices = append(frame.DeltaVertices, fill(dv, count, math.Vec3{})...)

	if _, ok := target[gltf.NORMAL]; ok || frame.DeltaNormals != nil {
		dn, err := d.readVec3(target, gltf.NORMAL, count)
		if err != nil {
			return err
		}
		frame.DeltaNormals = padTo(frame.DeltaNormals, len(frame.DeltaVertices)-count)
		frame.DeltaNormals = append(frame.DeltaNormals, fill(dn, count, math.Vec3{})...)
	}
	if _, ok := target[gltf.TANGENT]; ok || frame.DeltaTangents != nil {
		dt, err := d.readVec3(target, gltf.TANGENT, count)
		if err != nil {
			return err
		}
		frame.DeltaTangents = padTo(frame.DeltaTangents, len(frame.DeltaVertices)-count)
		frame.DeltaTangents = append(frame.DeltaTangents, fill(dt, count, math.Vec3{})...)
	}
	return nil
}

func (d *decoder) accessorAt(idx uint32) (*gltf.Accessor, error) {
	if int(idx) >= len(d.doc.Accessors) {
		return nil, fmt.Errorf("%w: accessor %d out of range", ErrInvalidDocument, idx)
	}
	return d.doc.Accessors[idx], nil
}

// attribute returns the accessor bound to name, or nil when the attribute is
// absent.
func (d *decoder) attribute(attrs gltf.Attribute, name string) (*gltf.Accessor, error) {
	idx, ok := attrs[name]
	if !ok {
		return nil, nil
	}
	return d.accessorAt(idx)
}

func (d *decoder) readVec3(attrs gltf.Attribute, name string, count int) ([]math.Vec3, error) {
	acr, err := d.attribute(attrs, name)
	if err != nil || acr == nil {
		return nil, err
	}
	data, err := modeler.ReadNormal(d.doc, acr, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(data) != count {
		return nil, fmt.Errorf("%w: %s has %d elements, want %d", ErrInvalidDocument, name, len(data), count)
	}
	return vec3s(data), nil
}

func (d *decoder) readTangents(attrs gltf.Attribute, count int) ([]math.Vec4, error) {
	acr, err := d.attribute(attrs, gltf.TANGENT)
	if err != nil || acr == nil {
		return nil, err
	}
	data, err := modeler.ReadTangent(d.doc, acr, nil)
	if err != nil {
		return nil, fmt.Errorf("tangents: %w", err)
	}
	if len(data) != count {
		return nil, fmt.Errorf("%w: TANGENT has %d elements, want %d", ErrInvalidDocument, len(data), count)
	}
	out := make([]math.Vec4, len(data))
	for i, t := range data {
		out[i] = math.Vec4(t)
	}
	return out, nil
}

func (d *decoder) readUVs(attrs gltf.Attribute, name string, count int) ([]math.Vec4, error) {
	acr, err := d.attribute(attrs, name)
	if err != nil || acr == nil {
		return nil, err
	}
	data, err := modeler.ReadTextureCoord(d.doc, acr, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(data) != count {
		return nil, fmt.Errorf("%w: %s has %d elements, want %d", ErrInvalidDocument, name, len(data), count)
	}
	out := make([]math.Vec4, len(data))
	for i, uv := range data {
		out[i] = math.Vec4{uv[0], uv[1], 0, 0}
	}
	return out, nil
}

func (d *decoder) readColors(attrs gltf.Attribute, count int) ([]math.Vec4, error) {
	acr, err := d.attribute(attrs, gltf.COLOR_0)
	if err != nil || acr == nil {
		return nil, err
	}
	data, err := modeler.ReadAccessor(d.doc, acr, nil)
	if err != nil {
		return nil, fmt.Errorf("colors: %w", err)
	}

	var out []math.Vec4
	switch c := data.(type) {
	case [][4]float32:
		for _, v := range c {
			out = append(out, math.Vec4(v))
		}
	case [][3]float32:
		for _, v := range c {
			out = append(out, math.Vec4{v[0], v[1], v[2], 1})
		}
	case [][4]uint8:
		for _, v := range c {
			out = append(out, math.Vec4{float32(v[0]) / 255, float32(v[1]) / 255, float32(v[2]) / 255, float32(v[3]) / 255})
		}
	case [][3]uint8:
		for _, v := range c {
			out = append(out, math.Vec4{float32(v[0]) / 255, float32(v[1]) / 255, float32(v[2]) / 255, 1})
		}
	case [][4]uint16:
		for _, v := range c {
			out = append(out, math.Vec4{float32(v[0]) / 65535, float32(v[1]) / 65535, float32(v[2]) / 65535, float32(v[3]) / 65535})
		}
	case [][3]uint16:
		for _, v := range c {
			out = append(out, math.Vec4{float32(v[0]) / 65535, float32(v[1]) / 65535, float32(v[2]) / 65535, 1})
		}
	default:
		return nil, fmt.Errorf("%w: COLOR_0 of type %T", ErrUnsupported, data)
	}
	if len(out) != count {
		return nil, fmt.Errorf("%w: COLOR_0 has %d elements, want %d", ErrInvalidDocument, len(out), count)
	}
	return out, nil
}

// targetNames reads the conventional mesh.extras.targetNames list, falling
// back to generated names.
func targetNames(gm *gltf.Mesh, count int) []string {
	names := make([]string, count)
	var listed []string
	if extras, ok := gm.Extras.(map[string]any); ok {
		listed = stringList(extras[extrasTargetNames])
	}
	seen := make(map[string]bool, count)
	for i := range names {
		name := fmt.Sprintf("target_%d", i)
		if i < len(listed) {
			if n := NormalizeName(listed[i]); n != "" && !seen[n] {
				name = n
			}
		}
		seen[name] = true
		names[i] = name
	}
	return names
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			s, _ := e.(string)
			out = append(out, s)
		}
		return out
	}
	return nil
}

func vec3s(data [][3]float32) []math.Vec3 {
	out := make([]math.Vec3, len(data))
	for i, v := range data {
		out[i] = math.Vec3{X: v[0], Y: v[1], Z: v[2]}
	}
	return out
}

// fill returns data, or count copies of def when data is nil.
func fill[T any](data []T, count int, def T) []T {
	if data != nil {
		return data
	}
	out := make([]T, count)
	for i := range out {
		out[i] = def
	}
	return out
}

// padTo grows a delta stream with zeros up to n entries.
func padTo(s []math.Vec3, n int) []math.Vec3 {
	for len(s) < n {
		s = append(s, math.Vec3{})
	}
	return s
}

func matFromColumns(c [4][4]float32) math.Mat4 {
	var m math.Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			m[col*4+row] = c[col][row]
		}
	}
	return m
}
