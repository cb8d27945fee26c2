package collections

import "testing"

func TestGetOrCreate(t *testing.T) {
	m := map[string][]int{}
	calls := 0
	create := func() []int {
		calls++
		return []int{calls}
	}

	a := GetOrCreate(m, "x", create)
	b := GetOrCreate(m, "x", create)
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
	if a[0] != b[0] {
		t.Errorf("second lookup returned a new value")
	}
}

func TestPoolReusesByLength(t *testing.T) {
	p := NewPool[float32]()

	s := p.Get(4)
	s[0] = 7
	p.Put(s)

	again := p.Get(4)
	if &again[0] != &s[0] {
		t.Error("pool did not reuse the returned slice")
	}
	if again[0] != 0 {
		t.Errorf("reused slice not zeroed: %v", again)
	}
	if other := p.Get(4); &other[0] == &s[0] {
		t.Error("slice handed out twice")
	}
	if got := p.Get(3); len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}

	p.Put(again)
	p.Reset()
	if fresh := p.Get(4); &fresh[0] == &s[0] {
		t.Error("Reset kept pooled slices")
	}
}
