package results

import (
	"sort"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

// ParentClicks reports how often participants opened one parent node
type ParentClicks struct {
	Path                 string `json:"path"`
	Name                 string `json:"name"`
	FirstClickCount      int    `json:"first_click_count"`
	FirstClickPercentage int    `json:"first_click_percentage"`
	TotalClickCount      int    `json:"total_click_count"`
	TotalClickPercentage int    `json:"total_click_percentage"`
	IsCorrect            bool   `json:"is_correct"`
}

// FirstClicks groups attempts by the first parent node opened and by every
// parent touched. The auto-expanded single root is never counted. Percentages
// are shares of all attempts.
func FirstClicks(attempts []models.TaskAttempt, task models.Task, index *tree.Index) ([]ParentClicks, error) {
	if index == nil {
		return nil, apperr.NotFound("compiled tree")
	}

	expected := task.ExpectedPaths()
	groups := make(map[string]*ParentClicks)
	group := func(id tree.NodeID) *ParentClicks {
		n, _ := index.Node(id)
		g, ok := groups[n.Path]
		if !ok {
			g = &ParentClicks{Path: n.Path, Name: n.Name, IsCorrect: leadsTo(n.Path, expected)}
			groups[n.Path] = g
		}
		return g
	}

	for _, a := range attempts {
		parents := parentClicks(a, index)
		if len(parents) == 0 {
			continue
		}
		group(parents[0]).FirstClickCount++

		touched := make(map[tree.NodeID]struct{}, len(parents))
		for _, id := range parents {
			if _, dup := touched[id]; dup {
				continue
			}
			touched[id] = struct{}{}
			group(id).TotalClickCount++
		}
	}

	out := make([]ParentClicks, 0, len(groups))
	for _, g := range groups {
		g.FirstClickPercentage = percentage(g.FirstClickCount, len(attempts))
		g.TotalClickPercentage = percentage(g.TotalClickCount, len(attempts))
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstClickCount != out[j].FirstClickCount {
			return out[i].FirstClickCount > out[j].FirstClickCount
		}
		if out[i].TotalClickCount != out[j].TotalClickCount {
			return out[i].TotalClickCount > out[j].TotalClickCount
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

func leadsTo(parent string, expected []string) bool {
	for _, e := range expected {
		if tree.IsAncestorPath(parent, e) {
			return true
		}
	}
	return false
}

// parentClicks returns the parent nodes an attempt opened, in click order.
// Paths no longer in the tree are ignored.
func parentClicks(a models.TaskAttempt, index *tree.Index) []tree.NodeID {
	clicks := a.Clicks
	if len(clicks) == 0 {
		clicks = ReconstructClicks(a.PathTaken, index)
	}

	root, single := index.SingleRoot()
	var parents []tree.NodeID
	for _, p := range clicks {
		id, ok := index.ByPath(p)
		if !ok || index.IsLeaf(id) || (single && id == root) {
			continue
		}
		parents = append(parents, id)
	}
	return parents
}

// ReconstructClicks recovers the click sequence of a record that predates
// the click log by replaying its breadcrumb against the tree. A segment that
// is not a child of the current node is matched against the children of its
// ancestors, since opening a sibling branch collapses the current one.
// Replay stops at the first segment the tree cannot place.
func ReconstructClicks(pathTaken string, index *tree.Index) []string {
	var clicks []string
	var chain []tree.NodeID // open nodes, top-level first

	for _, seg := range tree.SplitPath(pathTaken) {
		found := tree.NoNode
		for depth := len(chain); depth >= 0; depth-- {
			parent := tree.NoNode
			if depth > 0 {
				parent = chain[depth-1]
			}
			if id, ok := index.ChildBySegment(parent, seg); ok {
				found = id
				chain = chain[:depth]
				break
			}
		}
		if found == tree.NoNode {
			break
		}

		n, _ := index.Node(found)
		clicks = append(clicks, n.Path)
		if !n.IsLeaf() {
			chain = append(chain, found)
		}
	}
	return clicks
}

// DestinationMode selects how incorrect destinations are grouped
type DestinationMode string

const (
	// ParticipantPaths groups by the raw path each participant selected
	ParticipantPaths DestinationMode = "participant"
	// ConfiguredPaths re-buckets raw paths under leaves of the current tree
	ConfiguredPaths DestinationMode = "configured"
)

// ParseDestinationMode maps a query value to a mode; empty means ParticipantPaths
func ParseDestinationMode(s string) (DestinationMode, error) {
	switch DestinationMode(s) {
	case "", ParticipantPaths:
		return ParticipantPaths, nil
	case ConfiguredPaths:
		return ConfiguredPaths, nil
	}
	return "", apperr.Validation("unknown destinations mode %q", s)
}

// Destination is one wrong final selection and how often it was chosen
type Destination struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
	// InTree is false for raw paths that match no leaf of the current tree
	InTree bool `json:"in_tree"`
	// Sources lists the raw paths merged into this bucket (configured mode only)
	Sources []string `json:"sources,omitempty"`
}

// IncorrectDestinations groups the selections of failed, non-skipped attempts.
// Percentages are computed once against the failed total; re-bucketing in
// ConfiguredPaths mode sums them rather than recomputing. A raw path maps to
// the leaf with the same full path, else to the only leaf sharing its final
// segment; when several leaves share that segment the raw path stays its own
// bucket.
func IncorrectDestinations(attempts []models.TaskAttempt, index *tree.Index, mode DestinationMode) ([]Destination, error) {
	if mode == ConfiguredPaths && index == nil {
		return nil, apperr.NotFound("compiled tree")
	}

	counts := make(map[string]int)
	var order []string
	failed := 0
	for _, a := range attempts {
		if a.Skipped || a.Successful {
			continue
		}
		failed++
		if _, ok := counts[a.SelectedPath]; !ok {
			order = append(order, a.SelectedPath)
		}
		counts[a.SelectedPath]++
	}

	raw := make([]Destination, 0, len(order))
	for _, p := range order {
		d := Destination{Path: p, Count: counts[p], Percentage: percentage(counts[p], failed)}
		if index != nil {
			_, d.InTree = index.ByPath(p)
		}
		raw = append(raw, d)
	}

	if mode != ConfiguredPaths {
		sortDestinations(raw)
		return raw, nil
	}

	buckets := make(map[string]*Destination)
	var merged []*Destination
	for _, d := range raw {
		target, inTree := configuredLeaf(d.Path, index)
		b, ok := buckets[target]
		if !ok {
			b = &Destination{Path: target, InTree: inTree}
			buckets[target] = b
			merged = append(merged, b)
		}
		b.Count += d.Count
		b.Percentage += d.Percentage
		b.Sources = append(b.Sources, d.Path)
	}

	out := make([]Destination, 0, len(merged))
	for _, b := range merged {
		sort.Strings(b.Sources)
		out = append(out, *b)
	}
	sortDestinations(out)
	return out, nil
}

func configuredLeaf(path string, index *tree.Index) (string, bool) {
	if id, ok := index.ByPath(path); ok && index.IsLeaf(id) {
		return path, true
	}
	if leaves := index.LeavesBySegment(tree.LastSegment(path)); len(leaves) == 1 {
		n, _ := index.Node(leaves[0])
		return n.Path, true
	}
	return path, false
}

func sortDestinations(ds []Destination) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Count != ds[j].Count {
			return ds[i].Count > ds[j].Count
		}
		return ds[i].Path < ds[j].Path
	})
}
