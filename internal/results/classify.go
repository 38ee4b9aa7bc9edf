// Package results turns outcome records into tree-testing metrics. Every
// function is a pure computation over the records it is given.
package results

import "github.com/terra-clan/treetest-engine/internal/models"

// Outcome is the six-way classification of an attempt
type Outcome string

const (
	DirectSuccess   Outcome = "direct_success"
	IndirectSuccess Outcome = "indirect_success"
	DirectFail      Outcome = "direct_fail"
	IndirectFail    Outcome = "indirect_fail"
	DirectSkip      Outcome = "direct_skip"
	IndirectSkip    Outcome = "indirect_skip"
)

// Outcomes lists every class in reporting order
var Outcomes = []Outcome{DirectSuccess, IndirectSuccess, DirectFail, IndirectFail, DirectSkip, IndirectSkip}

// Classify places an attempt in exactly one class. Skips ignore Successful.
func Classify(a models.TaskAttempt) Outcome {
	switch {
	case a.Skipped && a.DirectPathTaken:
		return DirectSkip
	case a.Skipped:
		return IndirectSkip
	case a.Successful && a.DirectPathTaken:
		return DirectSuccess
	case a.Successful:
		return IndirectSuccess
	case a.DirectPathTaken:
		return DirectFail
	default:
		return IndirectFail
	}
}

// Breakdown counts attempts per class
type Breakdown struct {
	DirectSuccess   int `json:"direct_success"`
	IndirectSuccess int `json:"indirect_success"`
	DirectFail      int `json:"direct_fail"`
	IndirectFail    int `json:"indirect_fail"`
	DirectSkip      int `json:"direct_skip"`
	IndirectSkip    int `json:"indirect_skip"`
	Total           int `json:"total"`
}

// NewBreakdown classifies every attempt
func NewBreakdown(attempts []models.TaskAttempt) Breakdown {
	var b Breakdown
	for _, a := range attempts {
		b.Add(Classify(a))
	}
	return b
}

// Add counts one attempt of class o
func (b *Breakdown) Add(o Outcome) {
	if p := b.slot(o); p != nil {
		*p++
		b.Total++
	}
}

// Count returns the number of attempts in class o
func (b Breakdown) Count(o Outcome) int {
	if p := b.slot(o); p != nil {
		return *p
	}
	return 0
}

// Merge adds the counts of other into b
func (b *Breakdown) Merge(other Breakdown) {
	for _, o := range Outcomes {
		*b.slot(o) += other.Count(o)
	}
	b.Total += other.Total
}

func (b *Breakdown) slot(o Outcome) *int {
	switch o {
	case DirectSuccess:
		return &b.DirectSuccess
	case IndirectSuccess:
		return &b.IndirectSuccess
	case DirectFail:
		return &b.DirectFail
	case IndirectFail:
		return &b.IndirectFail
	case DirectSkip:
		return &b.DirectSkip
	case IndirectSkip:
		return &b.IndirectSkip
	}
	return nil
}
