package tree

import "github.com/terra-clan/treetest-engine/internal/models"

// NodeID addresses a node inside an Index. Ids are assigned depth-first in
// source order, so the same forest always yields the same ids.
type NodeID int

// NoNode is the parent of top-level nodes
const NoNode NodeID = -1

// IndexedNode is the arena entry for one tree node
type IndexedNode struct {
	ID       NodeID   `json:"id"`
	Parent   NodeID   `json:"parent"`
	Name     string   `json:"name"`
	Segment  string   `json:"segment"`
	Path     string   `json:"path"`
	Link     string   `json:"link,omitempty"`
	Depth    int      `json:"depth"`
	Children []NodeID `json:"children,omitempty"`
}

// IsLeaf returns true if the node has no children
func (n *IndexedNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// Index is a flat, read-only arena over a compiled forest
type Index struct {
	nodes  []IndexedNode
	roots  []NodeID
	byPath map[string]NodeID
}

// NewIndex flattens a compiled forest into an arena
func NewIndex(forest []models.TreeNode) *Index {
	x := &Index{byPath: make(map[string]NodeID)}
	for i := range forest {
		x.roots = append(x.roots, x.add(&forest[i], NoNode, nil, 0))
	}
	return x
}

func (x *Index) add(n *models.TreeNode, parent NodeID, parentSegments []string, depth int) NodeID {
	segment := Canonicalize(n.Name)
	segments := make([]string, len(parentSegments), len(parentSegments)+1)
	copy(segments, parentSegments)
	segments = append(segments, segment)

	id := NodeID(len(x.nodes))
	path := JoinPath(segments...)
	x.nodes = append(x.nodes, IndexedNode{
		ID:      id,
		Parent:  parent,
		Name:    n.Name,
		Segment: segment,
		Path:    path,
		Link:    n.Link,
		Depth:   depth,
	})
	if _, exists := x.byPath[path]; !exists {
		x.byPath[path] = id
	}

	children := make([]NodeID, 0, len(n.Children))
	for i := range n.Children {
		children = append(children, x.add(&n.Children[i], id, segments, depth+1))
	}
	if len(children) > 0 {
		x.nodes[id].Children = children
	}

	return id
}

// Len returns the number of nodes
func (x *Index) Len() int {
	return len(x.nodes)
}

// Empty returns true if the forest has no nodes
func (x *Index) Empty() bool {
	return x == nil || len(x.nodes) == 0
}

// Node returns the node with the given id
func (x *Index) Node(id NodeID) (*IndexedNode, bool) {
	if id < 0 || int(id) >= len(x.nodes) {
		return nil, false
	}
	return &x.nodes[id], true
}

// Roots returns the top-level node ids in source order
func (x *Index) Roots() []NodeID {
	return x.roots
}

// SingleRoot returns the only top-level node, if the forest has exactly one
func (x *Index) SingleRoot() (NodeID, bool) {
	if len(x.roots) != 1 {
		return NoNode, false
	}
	return x.roots[0], true
}

// Children returns the child ids of a node; for NoNode it returns the roots
func (x *Index) Children(id NodeID) []NodeID {
	if id == NoNode {
		return x.roots
	}
	if n, ok := x.Node(id); ok {
		return n.Children
	}
	return nil
}

// Parent returns the parent id, or NoNode for top-level and unknown nodes
func (x *Index) Parent(id NodeID) NodeID {
	if n, ok := x.Node(id); ok {
		return n.Parent
	}
	return NoNode
}

// Ancestors returns the ancestor chain of a node, top-level first, excluding the node
func (x *Index) Ancestors(id NodeID) []NodeID {
	n, ok := x.Node(id)
	if !ok {
		return nil
	}
	chain := make([]NodeID, n.Depth)
	for p, i := n.Parent, n.Depth-1; p != NoNode; p, i = x.nodes[p].Parent, i-1 {
		chain[i] = p
	}
	return chain
}

// IsLeaf returns true if the node exists and has no children
func (x *Index) IsLeaf(id NodeID) bool {
	n, ok := x.Node(id)
	return ok && n.IsLeaf()
}

// ByPath looks a node up by its canonical path
func (x *Index) ByPath(path string) (NodeID, bool) {
	id, ok := x.byPath[path]
	return id, ok
}

// Leaves returns every leaf id in source order
func (x *Index) Leaves() []NodeID {
	var leaves []NodeID
	for i := range x.nodes {
		if x.nodes[i].IsLeaf() {
			leaves = append(leaves, x.nodes[i].ID)
		}
	}
	return leaves
}

// LeavesBySegment returns the leaves whose final path segment equals segment
func (x *Index) LeavesBySegment(segment string) []NodeID {
	var leaves []NodeID
	for i := range x.nodes {
		if x.nodes[i].IsLeaf() && x.nodes[i].Segment == segment {
			leaves = append(leaves, x.nodes[i].ID)
		}
	}
	return leaves
}

// ChildBySegment finds the child of parent (or a root, for NoNode) with the given segment
func (x *Index) ChildBySegment(parent NodeID, segment string) (NodeID, bool) {
	for _, c := range x.Children(parent) {
		if x.nodes[c].Segment == segment {
			return c, true
		}
	}
	return NoNode, false
}
