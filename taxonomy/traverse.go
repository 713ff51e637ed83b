package taxonomy

import "slices"

// Walk visits the subtree rooted at taxid in pre-order, children in the
// order they were read from the dump. The walk stops early when fn returns
// false.
func (s *Store) Walk(taxid int, fn func(Node) bool) error {
	return s.walk("taxonomy.Store.Walk", taxid, func(i int) bool {
		return fn(s.node(i))
	})
}

// walk visits the arena slots of the subtree rooted at taxid.
func (s *Store) walk(op string, taxid int, fn func(int) bool) error {
	start, ok := s.index[taxid]
	if !ok {
		return notFound(op, taxid)
	}

	stack := []int{start}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !fn(i) {
			return nil
		}
		children := s.nodes[i].Children
		for c := len(children) - 1; c >= 0; c-- {
			stack = append(stack, s.index[children[c]])
		}
	}
	return nil
}

// Descendants returns taxid and every taxid below it, in pre-order.
func (s *Store) Descendants(taxid int) ([]int, error) {
	var out []int
	err := s.walk("taxonomy.Store.Descendants", taxid, func(i int) bool {
		out = append(out, s.nodes[i].TaxID)
		return true
	})
	return out, err
}

// DescendantNodes is Descendants returning full nodes.
func (s *Store) DescendantNodes(taxid int) ([]Node, error) {
	var out []Node
	err := s.walk("taxonomy.Store.DescendantNodes", taxid, func(i int) bool {
		out = append(out, s.node(i))
		return true
	})
	return out, err
}

// Leaves returns the childless taxids of the subtree rooted at taxid, in
// pre-order. A leaf is its own single leaf.
func (s *Store) Leaves(taxid int) ([]int, error) {
	var out []int
	err := s.walk("taxonomy.Store.Leaves", taxid, func(i int) bool {
		if s.nodes[i].IsLeaf() {
			out = append(out, s.nodes[i].TaxID)
		}
		return true
	})
	return out, err
}

// LeafNodes is Leaves returning full nodes.
func (s *Store) LeafNodes(taxid int) ([]Node, error) {
	var out []Node
	err := s.walk("taxonomy.Store.LeafNodes", taxid, func(i int) bool {
		if s.nodes[i].IsLeaf() {
			out = append(out, s.node(i))
		}
		return true
	})
	return out, err
}

// TaxidsAtRank returns every taxid with the given rank in ascending order.
func (s *Store) TaxidsAtRank(rank string) []int {
	var out []int
	for _, n := range s.nodes {
		if n.Rank == rank {
			out = append(out, n.TaxID)
		}
	}
	slices.Sort(out)
	return out
}
