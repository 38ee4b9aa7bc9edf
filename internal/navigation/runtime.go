// Package navigation drives a participant through a compiled tree one task
// at a time and produces the outcome record of every attempt.
package navigation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

// Status represents the state of one task attempt
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusSubmitting Status = "submitting"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
)

// IsTerminal returns true once the attempt has emitted its outcome
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// Clock abstracts time for duration measurement
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

// OutcomeSink persists outcome records
type OutcomeSink interface {
	SaveOutcome(ctx context.Context, participantID, taskID string, attempt *models.TaskAttempt) error
}

// RuntimeOptions configures a single task attempt
type RuntimeOptions struct {
	StudyID           string
	ParticipantID     string
	Task              models.Task
	Sequence          int
	RequireConfidence bool
	// StartDelay is the pause after the instructions are shown before Start is accepted
	StartDelay time.Duration
	Clock      Clock
	Sink       OutcomeSink
	NewID      func() string
}

// Runtime is the navigation state machine for one attempt at one task.
// The compiled tree is never mutated; expansion lives in a separate set.
type Runtime struct {
	mu    sync.Mutex
	index *tree.Index
	opts  RuntimeOptions

	status    Status
	readyAt   time.Time
	startedAt time.Time

	// expanded always holds a single chain from a top-level node downwards
	expanded    map[tree.NodeID]struct{}
	preview     tree.NodeID
	initialPath string
	path        string
	clicks      []string

	outcome *models.TaskAttempt
}

// NewRuntime creates the runtime for one attempt. A forest with exactly one
// top-level node starts with that node expanded.
func NewRuntime(index *tree.Index, opts RuntimeOptions) (*Runtime, error) {
	if index.Empty() {
		return nil, ErrNoContent
	}

	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if opts.Sequence < 1 {
		opts.Sequence = 1
	}

	r := &Runtime{
		index:    index,
		opts:     opts,
		status:   StatusNotStarted,
		readyAt:  opts.Clock.Now().Add(opts.StartDelay),
		expanded: make(map[tree.NodeID]struct{}),
		preview:  tree.NoNode,
	}

	if root, ok := index.SingleRoot(); ok && !index.IsLeaf(root) {
		n, _ := index.Node(root)
		r.expanded[root] = struct{}{}
		r.path = "/" + n.Segment
	}
	r.initialPath = r.path

	return r, nil
}

// Status returns the current state
func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Task returns the task this attempt is for
func (r *Runtime) Task() models.Task {
	return r.opts.Task
}

// Sequence returns the attempt number for this participant and task
func (r *Runtime) Sequence() int {
	return r.opts.Sequence
}

// Outcome returns the emitted record, or nil before the terminal action
func (r *Runtime) Outcome() *models.TaskAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Start begins the attempt and starts the clock
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.status.IsTerminal():
		return ErrAlreadyFinished
	case r.status != StatusNotStarted:
		return ErrAlreadyStarted
	}

	now := r.opts.Clock.Now()
	if now.Before(r.readyAt) {
		return ErrStartTooEarly
	}

	r.startedAt = now
	r.status = StatusInProgress
	return nil
}

// Expand opens a node, collapsing every branch that is not its ancestor.
// Expanding an already open node changes nothing.
func (r *Runtime) Expand(id tree.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.visibleNode(id)
	if err != nil {
		return err
	}
	if n.IsLeaf() {
		return ErrNotExpandable
	}
	if _, open := r.expanded[id]; open {
		return nil
	}

	chain := r.index.Ancestors(id)
	r.expanded = make(map[tree.NodeID]struct{}, len(chain)+1)
	for _, a := range chain {
		r.expanded[a] = struct{}{}
	}
	r.expanded[id] = struct{}{}

	r.preview = tree.NoNode
	r.record(n)
	return nil
}

// Collapse closes a node and everything open beneath it
func (r *Runtime) Collapse(id tree.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.visibleNode(id); err != nil {
		return err
	}
	if _, open := r.expanded[id]; !open {
		return nil
	}

	for e := range r.expanded {
		if e == id || r.isAncestor(id, e) {
			delete(r.expanded, e)
		}
	}
	r.preview = tree.NoNode
	return nil
}

// Toggle expands a closed node or collapses an open one
func (r *Runtime) Toggle(id tree.NodeID) error {
	r.mu.Lock()
	_, open := r.expanded[id]
	r.mu.Unlock()

	if open {
		return r.Collapse(id)
	}
	return r.Expand(id)
}

// Preview marks a visible leaf as the pending selection
func (r *Runtime) Preview(id tree.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.visibleNode(id)
	if err != nil {
		return err
	}
	if !n.IsLeaf() {
		return ErrNotSelectable
	}
	if r.preview == id {
		return nil
	}

	r.preview = id
	r.record(n)
	return nil
}

// Confirm finalizes the previewed leaf as the answer and emits the outcome
func (r *Runtime) Confirm(ctx context.Context, confidence *int) (*models.TaskAttempt, error) {
	r.mu.Lock()
	if err := r.requireInProgress(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if r.preview == tree.NoNode {
		r.mu.Unlock()
		return nil, ErrNothingSelected
	}
	if err := r.checkConfidence(confidence, r.opts.RequireConfidence); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	leaf, _ := r.index.Node(r.preview)
	attempt := r.newAttempt(confidence)
	attempt.SelectedPath = leaf.Link
	attempt.PathTaken = r.path
	attempt.Successful = r.opts.Task.IsCorrect(leaf.Link)
	attempt.DirectPathTaken = leaf.Link == r.path

	return r.submit(ctx, attempt, StatusCompleted)
}

// Skip abandons the task without a selection and emits the outcome.
// A skip is direct only if nothing was touched beyond the auto-expanded root.
func (r *Runtime) Skip(ctx context.Context, confidence *int) (*models.TaskAttempt, error) {
	r.mu.Lock()
	if err := r.requireInProgress(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if err := r.checkConfidence(confidence, false); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	advanced := r.path != r.initialPath
	attempt := r.newAttempt(confidence)
	attempt.Skipped = true
	attempt.DirectPathTaken = !advanced
	if advanced {
		attempt.PathTaken = r.path
	}

	return r.submit(ctx, attempt, StatusSkipped)
}

// submit hands the record to the sink with the lock released; r.mu must be
// held on entry. A failed save returns the attempt to InProgress.
func (r *Runtime) submit(ctx context.Context, attempt *models.TaskAttempt, final Status) (*models.TaskAttempt, error) {
	r.status = StatusSubmitting
	r.mu.Unlock()

	var err error
	if r.opts.Sink != nil {
		err = r.opts.Sink.SaveOutcome(ctx, r.opts.ParticipantID, r.opts.Task.ID, attempt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.status = StatusInProgress
		slog.Error("failed to save outcome",
			"participant_id", r.opts.ParticipantID,
			"task_id", r.opts.Task.ID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	r.status = final
	r.outcome = attempt
	return attempt, nil
}

func (r *Runtime) newAttempt(confidence *int) *models.TaskAttempt {
	now := r.opts.Clock.Now()

	var rating *int
	if confidence != nil {
		v := *confidence
		rating = &v
	}

	return &models.TaskAttempt{
		ID:                    r.opts.NewID(),
		StudyID:               r.opts.StudyID,
		TaskID:                r.opts.Task.ID,
		ParticipantID:         r.opts.ParticipantID,
		Sequence:              r.opts.Sequence,
		Clicks:                append([]string(nil), r.clicks...),
		CompletionTimeSeconds: now.Sub(r.startedAt).Seconds(),
		ConfidenceRating:      rating,
		CreatedAt:             now,
	}
}

func (r *Runtime) checkConfidence(confidence *int, required bool) error {
	if confidence == nil {
		if required {
			return ErrConfidenceRequired
		}
		return nil
	}
	if *confidence < 1 || *confidence > 7 {
		return ErrInvalidConfidence
	}
	return nil
}

func (r *Runtime) requireInProgress() error {
	switch r.status {
	case StatusInProgress:
		return nil
	case StatusNotStarted:
		return ErrNotStarted
	case StatusSubmitting:
		return ErrSubmissionInProgress
	default:
		return ErrAlreadyFinished
	}
}

// visibleNode returns the node if the attempt is running and the node is on screen
func (r *Runtime) visibleNode(id tree.NodeID) (*tree.IndexedNode, error) {
	if err := r.requireInProgress(); err != nil {
		return nil, err
	}
	n, ok := r.index.Node(id)
	if !ok {
		return nil, ErrUnknownNode
	}
	if n.Parent != tree.NoNode {
		if _, open := r.expanded[n.Parent]; !open {
			return nil, ErrNodeNotVisible
		}
	}
	return n, nil
}

// record appends the node to the breadcrumb and the click log
func (r *Runtime) record(n *tree.IndexedNode) {
	r.path += "/" + n.Segment
	r.clicks = append(r.clicks, n.Path)
}

func (r *Runtime) isAncestor(ancestor, id tree.NodeID) bool {
	for p := r.index.Parent(id); p != tree.NoNode; p = r.index.Parent(p) {
		if p == ancestor {
			return true
		}
	}
	return false
}
