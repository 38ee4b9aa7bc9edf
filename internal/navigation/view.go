package navigation

import (
	"time"

	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

// VisibleNode is one row of the rendered outline
type VisibleNode struct {
	ID       tree.NodeID `json:"id"`
	Name     string      `json:"name"`
	Depth    int         `json:"depth"`
	Leaf     bool        `json:"leaf"`
	Expanded bool        `json:"expanded,omitempty"`
	Selected bool        `json:"selected,omitempty"`
}

// RuntimeView is a snapshot of an attempt for rendering
type RuntimeView struct {
	TaskID      string              `json:"task_id"`
	Description string              `json:"description"`
	Sequence    int                 `json:"sequence"`
	Status      Status              `json:"status"`
	ReadyAt     time.Time           `json:"ready_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	Nodes       []VisibleNode       `json:"nodes"`
	Outcome     *models.TaskAttempt `json:"outcome,omitempty"`
}

// View returns the outline as the participant currently sees it
func (r *Runtime) View() RuntimeView {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := RuntimeView{
		TaskID:      r.opts.Task.ID,
		Description: r.opts.Task.Description,
		Sequence:    r.opts.Sequence,
		Status:      r.status,
		ReadyAt:     r.readyAt,
		Outcome:     r.outcome,
	}
	if !r.startedAt.IsZero() {
		started := r.startedAt
		v.StartedAt = &started
	}

	var walk func(ids []tree.NodeID)
	walk = func(ids []tree.NodeID) {
		for _, id := range ids {
			n, _ := r.index.Node(id)
			_, open := r.expanded[id]
			v.Nodes = append(v.Nodes, VisibleNode{
				ID:       id,
				Name:     n.Name,
				Depth:    n.Depth,
				Leaf:     n.IsLeaf(),
				Expanded: open,
				Selected: id == r.preview,
			})
			if open {
				walk(n.Children)
			}
		}
	}
	walk(r.index.Roots())

	return v
}

// PathTaken returns the breadcrumb accumulated so far
func (r *Runtime) PathTaken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Expanded returns the ids of open nodes, top-level first
func (r *Runtime) Expanded() []tree.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]tree.NodeID, 0, len(r.expanded))
	var walk func(children []tree.NodeID)
	walk = func(children []tree.NodeID) {
		for _, c := range children {
			if _, open := r.expanded[c]; open {
				ids = append(ids, c)
				walk(r.index.Children(c))
				return
			}
		}
	}
	walk(r.index.Roots())
	return ids
}
