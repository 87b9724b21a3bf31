package menu

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrCycleDetected is matched by every *CycleError.
	ErrCycleDetected = errors.New("menu hierarchy contains a cycle")

	// ErrDuplicateID is returned by Build when two rows share an id.
	ErrDuplicateID = errors.New("duplicate menu id")
)

// CycleError names the ids that form a parent cycle.
type CycleError struct {
	Path []int64
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(parts, " -> "))
}

// Is makes errors.Is(err, ErrCycleDetected) true.
func (e *CycleError) Is(target error) bool { return target == ErrCycleDetected }

// Menu is a row of the menu table.
type Menu struct {
	ID       int64  `json:"id"`
	MenuKey  string `json:"menu_key"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Order    *int   `json:"order,omitempty"`
	Level    *int   `json:"level,omitempty"`
}

// Forest is an arena of menus indexed by id with a parent -> children
// adjacency index. Children and Roots are already in display order.
//
// A Forest is read-only after construction and safe to share.
type Forest struct {
	nodes    map[int64]Menu
	children map[int64][]int64
	roots    []int64
}

// Len returns the number of nodes.
func (f *Forest) Len() int { return len(f.nodes) }

// Roots returns root ids in display order.
func (f *Forest) Roots() []int64 { return slices.Clone(f.roots) }

// Children returns the ids directly below id in display order.
func (f *Forest) Children(id int64) []int64 { return slices.Clone(f.children[id]) }

// Node returns the menu stored under id.
func (f *Forest) Node(id int64) (Menu, bool) {
	m, ok := f.nodes[id]
	return m, ok
}

// Contains reports whether id is in the forest.
func (f *Forest) Contains(id int64) bool {
	_, ok := f.nodes[id]
	return ok
}

// Walk visits every node depth-first in display order. Returning false
// from fn stops the walk.
func (f *Forest) Walk(fn func(m Menu, depth int) bool) {
	var visit func(id int64, depth int) bool
	visit = func(id int64, depth int) bool {
		if !fn(f.nodes[id], depth) {
			return false
		}
		for _, c := range f.children[id] {
			if !visit(c, depth+1) {
				return false
			}
		}
		return true
	}
	for _, r := range f.roots {
		if !visit(r, 0) {
			return
		}
	}
}

// Build turns the flat menu table into a forest.
//
// Siblings are ordered by Order ascending with unset orders last, then by
// id. A row whose parent is not in flat becomes a root. Any parent cycle
// fails the whole build with a *CycleError.
func Build(flat []Menu) (*Forest, error) {
	f := &Forest{
		nodes:    make(map[int64]Menu, len(flat)),
		children: make(map[int64][]int64),
	}

	for _, m := range flat {
		if _, dup := f.nodes[m.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, m.ID)
		}
		f.nodes[m.ID] = m
	}

	if err := detectCycle(f.nodes); err != nil {
		return nil, err
	}

	for _, m := range flat {
		if m.ParentID != nil {
			if _, ok := f.nodes[*m.ParentID]; ok {
				f.children[*m.ParentID] = append(f.children[*m.ParentID], m.ID)
				continue
			}
		}
		f.roots = append(f.roots, m.ID)
	}

	f.sortSiblings(f.roots)
	for _, ids := range f.children {
		f.sortSiblings(ids)
	}
	return f, nil
}

func (f *Forest) sortSiblings(ids []int64) {
	slices.SortFunc(ids, func(a, b int64) int {
		return compareSiblings(f.nodes[a], f.nodes[b])
	})
}

func compareSiblings(a, b Menu) int {
	switch {
	case a.Order != nil && b.Order != nil && *a.Order != *b.Order:
		return cmp.Compare(*a.Order, *b.Order)
	case a.Order != nil && b.Order == nil:
		return -1
	case a.Order == nil && b.Order != nil:
		return 1
	}
	return cmp.Compare(a.ID, b.ID)
}

// detectCycle follows every parent chain once. Each node ends up either
// "done" (reaches a root) or on the current path, which is a cycle.
func detectCycle(nodes map[int64]Menu) error {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make(map[int64]int, len(nodes))

	// Deterministic error output regardless of map order.
	ids := make([]int64, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, start := range ids {
		var path []int64
		id := start
		for {
			if state[id] == done {
				break
			}
			if state[id] == onPath {
				cycleStart := slices.Index(path, id)
				return &CycleError{Path: append(slices.Clone(path[cycleStart:]), id)}
			}
			state[id] = onPath
			path = append(path, id)

			m := nodes[id]
			if m.ParentID == nil {
				break
			}
			if _, ok := nodes[*m.ParentID]; !ok {
				break
			}
			id = *m.ParentID
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return nil
}

// ValidateParent reports whether giving menu id the parent parentID would
// create a cycle in flat. flat is the current table; id may be absent
// (a new row). A nil parentID is always valid.
func ValidateParent(flat []Menu, id int64, parentID *int64) error {
	if parentID == nil {
		return nil
	}
	if *parentID == id {
		return &CycleError{Path: []int64{id, id}}
	}

	parents := make(map[int64]*int64, len(flat))
	for _, m := range flat {
		parents[m.ID] = m.ParentID
	}

	path := []int64{id}
	seen := map[int64]struct{}{id: {}}
	for cur := parentID; cur != nil; cur = parents[*cur] {
		path = append(path, *cur)
		if *cur == id {
			return &CycleError{Path: path}
		}
		if _, ok := seen[*cur]; ok {
			// Pre-existing cycle that does not involve id.
			return &CycleError{Path: path}
		}
		seen[*cur] = struct{}{}
	}
	return nil
}

// Salvage builds a forest from the rows of flat that neither lie on a
// parent cycle nor descend from one. It returns the ids it dropped and the
// first cycle found, or a nil error when flat is acyclic.
func Salvage(flat []Menu) (*Forest, map[int64]struct{}, error) {
	nodes := make(map[int64]Menu, len(flat))
	for _, m := range flat {
		if _, dup := nodes[m.ID]; dup {
			return nil, nil, fmt.Errorf("%w: %d", ErrDuplicateID, m.ID)
		}
		nodes[m.ID] = m
	}

	// Peel off one cycle at a time until the rest is acyclic.
	remaining := maps.Clone(nodes)
	dropped := make(map[int64]struct{})
	var first error
	for {
		err := detectCycle(remaining)
		if err == nil {
			break
		}
		var ce *CycleError
		if !errors.As(err, &ce) {
			return nil, nil, err
		}
		if first == nil {
			first = err
		}
		for _, id := range ce.Path {
			dropped[id] = struct{}{}
			delete(remaining, id)
		}
	}

	// Descendants of a cycle go too; otherwise they would surface as roots.
	memo := make(map[int64]bool, len(nodes))
	var tainted func(id int64) bool
	tainted = func(id int64) bool {
		if _, bad := dropped[id]; bad {
			return true
		}
		if v, ok := memo[id]; ok {
			return v
		}
		m, ok := nodes[id]
		v := ok && m.ParentID != nil && tainted(*m.ParentID)
		memo[id] = v
		return v
	}

	kept := make([]Menu, 0, len(flat))
	for _, m := range flat {
		if tainted(m.ID) {
			dropped[m.ID] = struct{}{}
			continue
		}
		kept = append(kept, m)
	}

	f, err := Build(kept)
	if err != nil {
		return nil, nil, err
	}
	return f, dropped, first
}
