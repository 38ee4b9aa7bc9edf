package models

import "time"

// TreeNode is one labeled item of a compiled information architecture.
// Only leaves carry a Link.
type TreeNode struct {
	Name     string     `json:"name"`
	Link     string     `json:"link,omitempty"`
	Children []TreeNode `json:"children,omitempty"`
}

// IsLeaf returns true if the node has no children
func (n *TreeNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// CompiledTree is the persisted output of the tree compiler for a study
type CompiledTree struct {
	StudyID     string     `json:"study_id"`
	Nodes       []TreeNode `json:"nodes"`
	RawNotation string     `json:"raw_notation"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
