// Package gltfio converts between glTF 2.0 documents and the scene model the
// combiner works on. Nodes become scene nodes, meshes with a skin or morph
// targets become skinned renderers and everything else a static renderer.
package gltfio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/qmuntal/gltf"
	"golang.org/x/text/unicode/norm"

	"github.com/Faultbox/skinmerge/pkg/scene"
)

// Conversion errors.
var (
	ErrInvalidDocument = errors.New("gltfio: invalid document")
	ErrUnsupported     = errors.New("gltfio: unsupported feature")
)

// FrameWeight is the blendshape frame weight a glTF morph target maps to.
// glTF weights are in [0, 1]; blendshape weights use a 0-100 scale.
const FrameWeight float32 = 100

// Scene is a decoded glTF scene.
type Scene struct {
	Name      string
	Roots     []*scene.Node
	Renderers []scene.Renderer
	Materials []*scene.Material
}

// Find returns the first node with the given name across all roots.
func (s *Scene) Find(name string) *scene.Node {
	for _, r := range s.Roots {
		if n := r.Find(name); n != nil {
			return n
		}
	}
	return nil
}

// RendererOf returns the renderer attached to node, or nil.
func (s *Scene) RendererOf(node *scene.Node) scene.Renderer {
	for _, r := range s.Renderers {
		if r.Owner() == node {
			return r
		}
	}
	return nil
}

// AddRenderer attaches r to the scene. The owner node must already be part
// of the hierarchy for Encode to place it.
func (s *Scene) AddRenderer(r scene.Renderer) {
	s.Renderers = append(s.Renderers, r)
}

// NormalizeName returns name in Unicode NFC form. Node, material and
// blendshape names are normalized on decode so lookups by name match
// regardless of how the authoring tool composed the characters.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// Load opens a .gltf or .glb file and decodes its default scene.
func Load(path string) (*Scene, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s, err := Decode(doc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

// Save encodes the scene and writes it. A .gltf extension produces JSON
// with an embedded buffer, anything else a binary .glb.
func Save(s *Scene, path string) error {
	doc, err := Encode(s)
	if err != nil {
		return err
	}

	if strings.EqualFold(filepath.Ext(path), ".gltf") {
		for _, b := range doc.Buffers {
			b.EmbeddedResource()
		}
		err = gltf.Save(doc, path)
	} else {
		err = gltf.SaveBinary(doc, path)
	}
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
