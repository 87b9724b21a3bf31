package menu

// Prune returns the sub-forest of f made of the allowed nodes and every
// ancestor of an allowed node. Sibling order is preserved.
//
// The result is never nil: an empty allowed set yields an empty forest.
// Allowed ids not present in f are ignored.
func Prune(f *Forest, allowed map[int64]struct{}) *Forest {
	out := &Forest{
		nodes:    make(map[int64]Menu),
		children: make(map[int64][]int64),
	}
	if f == nil || len(allowed) == 0 {
		return out
	}

	// keep reports whether id or any descendant is allowed, copying kept
	// nodes into out on the way back up so children stay in order.
	var keep func(id int64) bool
	keep = func(id int64) bool {
		var kept []int64
		for _, c := range f.children[id] {
			if keep(c) {
				kept = append(kept, c)
			}
		}
		_, self := allowed[id]
		if !self && len(kept) == 0 {
			return false
		}
		out.nodes[id] = f.nodes[id]
		if len(kept) > 0 {
			out.children[id] = kept
		}
		return true
	}

	for _, r := range f.roots {
		if keep(r) {
			out.roots = append(out.roots, r)
		}
	}
	return out
}

// IDs returns every id in f in depth-first display order.
func (f *Forest) IDs() []int64 {
	ids := make([]int64, 0, len(f.nodes))
	f.Walk(func(m Menu, _ int) bool {
		ids = append(ids, m.ID)
		return true
	})
	return ids
}
