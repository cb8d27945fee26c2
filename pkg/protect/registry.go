// Package protect decides which scene nodes must survive bone removal
// because a component (physics bones and the like) drives them.
//
// Components are inspected through adapters registered per Go type, so new
// component kinds plug in without touching the combiner.
package protect

import (
	"reflect"

	"github.com/Faultbox/skinmerge/pkg/scene"
)

// Adapter reports the subtrees a component protects. Every node below a
// root is protected except the excluded subtrees.
type Adapter func(component any) (roots, excluded []*scene.Node)

// Registry maps component types to adapters.
type Registry struct {
	adapters map[reflect.Type]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[reflect.Type]Adapter)}
}

// Default returns a registry that knows scene.PhysBone.
func Default() *Registry {
	r := NewRegistry()
	RegisterFunc(r, func(pb *scene.PhysBone) ([]*scene.Node, []*scene.Node) {
		if pb.Root == nil {
			return nil, nil
		}
		return []*scene.Node{pb.Root}, pb.Ignore
	})
	return r
}

// Register installs adapter for components whose dynamic type is t.
func (r *Registry) Register(t reflect.Type, adapter Adapter) {
	r.adapters[t] = adapter
}

// RegisterFunc installs a typed adapter for components of type T.
func RegisterFunc[T any](r *Registry, fn func(T) (roots, excluded []*scene.Node)) {
	r.Register(reflect.TypeOf((*T)(nil)).Elem(), func(c any) ([]*scene.Node, []*scene.Node) {
		return fn(c.(T))
	})
}

// Known reports whether an adapter is registered for component's type.
func (r *Registry) Known(component any) bool {
	_, ok := r.adapters[reflect.TypeOf(component)]
	return ok
}

// ProtectedNodes walks the subtree under root and returns every node
// protected by a known component found there. Unknown components are
// ignored.
func (r *Registry) ProtectedNodes(root *scene.Node) map[*scene.Node]bool {
	protected := make(map[*scene.Node]bool)
	if root == nil {
		return protected
	}

	root.Walk(func(n *scene.Node) {
		for _, c := range n.Components {
			adapter, ok := r.adapters[reflect.TypeOf(c)]
			if !ok {
				continue
			}
			roots, excluded := adapter(c)
			skip := make(map[*scene.Node]bool, len(excluded))
			for _, e := range excluded {
				skip[e] = true
			}
			for _, pr := range roots {
				if pr != nil {
					markSubtree(pr, skip, protected)
				}
			}
		}
	})
	return protected
}

func markSubtree(n *scene.Node, skip, protected map[*scene.Node]bool) {
	if skip[n] {
		return
	}
	protected[n] = true
	for _, c := range n.Children() {
		markSubtree(c, skip, protected)
	}
}
