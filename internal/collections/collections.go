// Package collections holds small container helpers shared by the combiner
// packages.
package collections

// GetOrCreate returns m[key], storing create() first when the key is absent.
func GetOrCreate[K comparable, V any](m map[K]V, key K, create func() V) V {
	if v, ok := m[key]; ok {
		return v
	}
	v := create()
	m[key] = v
	return v
}

// Pool hands out zeroed scratch slices keyed by length. It is not safe for
// concurrent use; a combine session owns its own pool.
type Pool[T any] struct {
	free map[int][][]T
}

// NewPool returns an empty pool.
func NewPool[T any]() *Pool[T] {
	return &Pool[T]{free: make(map[int][][]T)}
}

// Get returns a zeroed slice of length n.
func (p *Pool[T]) Get(n int) []T {
	list := p.free[n]
	if len(list) == 0 {
		return make([]T, n)
	}
	s := list[len(list)-1]
	p.free[n] = list[:len(list)-1]
	clear(s)
	return s
}

// Put returns s to the pool. The caller must not use s afterwards.
func (p *Pool[T]) Put(s []T) {
	if s == nil {
		return
	}
	p.free[len(s)] = append(p.free[len(s)], s)
}

// Reset drops every pooled slice.
func (p *Pool[T]) Reset() {
	clear(p.free)
}
