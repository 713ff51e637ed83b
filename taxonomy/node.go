package taxonomy

// Node is one taxon of the loaded taxonomy. Nodes returned by a Store are
// copies; changing one does not change the store.
type Node struct {
	TaxID    int
	Name     string
	Rank     string
	Parent   int // 0 for the root
	Children []int
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool {
	return n.Parent == 0
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool {
	return len(n.Children) == 0
}
