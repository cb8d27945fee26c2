// Package scene provides the node hierarchy and renderer types the combiner
// reads bones, bindposes and blendshape weights from.
package scene

import (
	"strings"

	"github.com/Faultbox/skinmerge/pkg/math"
)

// Node is a transform in the scene hierarchy. Nodes are compared by identity.
type Node struct {
	Name string

	// Local transform components
	Position math.Vec3
	Rotation math.Quat
	Scale    math.Vec3

	Active bool

	// Components attached to the node (physics bones, markers).
	Components []any

	parent   *Node
	children []*Node
}

// NewNode returns an active node with identity transform.
func NewNode(name string) *Node {
	return &Node{
		Name:     name,
		Rotation: math.QuatIdentity(),
		Scale:    math.Vec3{X: 1, Y: 1, Z: 1},
		Active:   true,
	}
}

// Parent returns the parent node, nil for a root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns the direct children. The slice must not be modified.
func (n *Node) Children() []*Node {
	return n.children
}

// SetParent reparents the node, keeping its local transform.
func (n *Node) SetParent(parent *Node) {
	if n.parent != nil {
		siblings := n.parent.children
		for i, c := range siblings {
			if c == n {
				n.parent.children = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}
	n.parent = parent
	if parent != nil {
		parent.children = append(parent.children, n)
	}
}

// AddChild creates a named child node.
func (n *Node) AddChild(name string) *Node {
	c := NewNode(name)
	c.SetParent(n)
	return c
}

// LocalMatrix returns Position * Rotation * Scale.
func (n *Node) LocalMatrix() math.Mat4 {
	return math.TRS(n.Position, n.Rotation, n.Scale)
}

// LocalToWorld returns the matrix mapping this node's space to world space.
func (n *Node) LocalToWorld() math.Mat4 {
	m := n.LocalMatrix()
	for p := n.parent; p != nil; p = p.parent {
		m = p.LocalMatrix().Mul(m)
	}
	return m
}

// WorldToLocal returns the inverse of LocalToWorld.
func (n *Node) WorldToLocal() math.Mat4 {
	return n.LocalToWorld().Inverse()
}

// LossyScale returns the accumulated world scale of the node.
func (n *Node) LossyScale() math.Vec3 {
	return n.LocalToWorld().LossyScale()
}

// ActiveInHierarchy reports whether the node and all ancestors are active.
func (n *Node) ActiveInHierarchy() bool {
	for p := n; p != nil; p = p.parent {
		if !p.Active {
			return false
		}
	}
	return true
}

// IsDescendantOf reports whether n is ancestor or lies below it.
func (n *Node) IsDescendantOf(ancestor *Node) bool {
	for p := n; p != nil; p = p.parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// Path returns the slash separated names from the root to n.
func (n *Node) Path() string {
	var parts []string
	for p := n; p != nil; p = p.parent {
		parts = append(parts, p.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Find returns the first node named name in the subtree (depth first), or nil.
func (n *Node) Find(name string) *Node {
	if n.Name == name {
		return n
	}
	for _, c := range n.children {
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// Walk visits n and its descendants depth first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// CommonAncestor returns the deepest node that every non-nil node in nodes
// descends from (a node counts as its own ancestor). Returns nil when the
// nodes live in different trees or none is given.
func CommonAncestor(nodes []*Node) *Node {
	var ancestor *Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if ancestor == nil {
			ancestor = n
			continue
		}
		for ancestor != nil && !n.IsDescendantOf(ancestor) {
			ancestor = ancestor.parent
		}
		if ancestor == nil {
			return nil
		}
	}
	return ancestor
}
