package menu

// TreeNode is the nested, JSON-friendly view of a forest node.
type TreeNode struct {
	ID       int64       `json:"id"`
	MenuKey  string      `json:"menu_key"`
	URL      string      `json:"url"`
	Title    string      `json:"title"`
	Depth    int         `json:"depth"`
	Children []*TreeNode `json:"children"`
}

// Tree materialises f as nested nodes in display order.
// Empty forests and leaves carry empty (non-nil) slices so they encode as [].
func (f *Forest) Tree() []*TreeNode {
	var build func(id int64, depth int) *TreeNode
	build = func(id int64, depth int) *TreeNode {
		m := f.nodes[id]
		n := &TreeNode{
			ID:       m.ID,
			MenuKey:  m.MenuKey,
			URL:      m.URL,
			Title:    m.Title,
			Depth:    depth,
			Children: make([]*TreeNode, 0, len(f.children[id])),
		}
		for _, c := range f.children[id] {
			n.Children = append(n.Children, build(c, depth+1))
		}
		return n
	}

	out := make([]*TreeNode, 0, len(f.roots))
	for _, r := range f.roots {
		out = append(out, build(r, 0))
	}
	return out
}
