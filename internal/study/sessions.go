package study

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/navigation"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

// ActionType names a participant action
type ActionType string

const (
	ActionStart    ActionType = "start"
	ActionExpand   ActionType = "expand"
	ActionCollapse ActionType = "collapse"
	ActionToggle   ActionType = "toggle"
	ActionPreview  ActionType = "preview"
	ActionConfirm  ActionType = "confirm"
	ActionSkip     ActionType = "skip"
	ActionNext     ActionType = "next"
	ActionRetry    ActionType = "retry"
)

// Action is one participant event. Node actions address the node by arena
// id or by canonical path.
type Action struct {
	Type       ActionType `json:"type" validate:"required"`
	NodeID     *int       `json:"node_id,omitempty" validate:"omitempty,gte=0"`
	Path       string     `json:"path,omitempty"`
	Confidence *int       `json:"confidence,omitempty" validate:"omitempty,min=1,max=7"`
}

// StartParticipant registers a new participant and opens their session.
// A study without a tree or tasks yields a session in the NoContent state.
func (s *Service) StartParticipant(ctx context.Context, studyID string) (*navigation.Session, error) {
	st, err := s.repo.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}

	p := &models.Participant{
		ID:        s.opts.NewID(),
		StudyID:   studyID,
		StartedAt: s.opts.Clock.Now(),
	}
	if err := s.repo.CreateParticipant(ctx, p); err != nil {
		return nil, err
	}

	sess, err := s.openSession(ctx, st, p.ID, 0, nil)
	if err != nil {
		return nil, err
	}

	slog.Info("participant started",
		"study_id", studyID,
		"participant_id", p.ID,
		"state", sess.State(),
	)
	return sess, nil
}

// Session returns the live session of a participant, resuming it from
// storage when this instance does not hold it
func (s *Service) Session(ctx context.Context, participantID string) (*navigation.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[participantID]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	v, err, _ := s.loading.Do(participantID, func() (interface{}, error) {
		s.mu.RLock()
		existing, ok := s.sessions[participantID]
		s.mu.RUnlock()
		if ok {
			return existing, nil
		}
		return s.resume(ctx, participantID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*navigation.Session), nil
}

// resume rebuilds a session from the participant's saved attempts. The
// participant continues at the first task without an attempt.
func (s *Service) resume(ctx context.Context, participantID string) (*navigation.Session, error) {
	p, err := s.repo.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	st, err := s.repo.GetStudy(ctx, p.StudyID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.repo.LoadParticipantAttempts(ctx, participantID)
	if err != nil {
		return nil, err
	}

	sequences := make(map[string]int)
	for _, a := range attempts {
		if a.Sequence > sequences[a.TaskID] {
			sequences[a.TaskID] = a.Sequence
		}
	}

	tasks, err := s.repo.LoadTasks(ctx, st.ID)
	if err != nil {
		return nil, err
	}

	start := 0
	if p.CompletedAt != nil {
		start = len(tasks)
	} else {
		for start < len(tasks) && sequences[tasks[start].ID] > 0 {
			start++
		}
		if start > 0 && start == len(tasks) {
			// every task answered but completion was never recorded
			if err := s.repo.CompleteParticipant(ctx, participantID, s.opts.Clock.Now()); err != nil {
				return nil, fmt.Errorf("failed to complete participant: %w", err)
			}
		}
	}

	slog.Info("participant session resumed",
		"study_id", st.ID,
		"participant_id", participantID,
		"task_index", start,
	)
	return s.openSessionWithTasks(ctx, st, participantID, tasks, start, sequences)
}

func (s *Service) openSession(ctx context.Context, st *models.Study, participantID string, start int, sequences map[string]int) (*navigation.Session, error) {
	tasks, err := s.repo.LoadTasks(ctx, st.ID)
	if err != nil {
		return nil, err
	}
	return s.openSessionWithTasks(ctx, st, participantID, tasks, start, sequences)
}

func (s *Service) openSessionWithTasks(ctx context.Context, st *models.Study, participantID string, tasks []models.Task,
	start int, sequences map[string]int) (*navigation.Session, error) {

	index, err := s.loadIndex(ctx, st.ID)
	if err != nil {
		return nil, err
	}

	sess, err := navigation.NewSession(index, navigation.SessionConfig{
		Study:         *st,
		ParticipantID: participantID,
		Tasks:         tasks,
		StartIndex:    start,
		Sequences:     sequences,
		StartDelay:    s.opts.StartDelay,
		Clock:         s.opts.Clock,
		Sink:          &outcomeSink{repo: s.repo, metrics: s.opts.Metrics},
		Participants:  s.repo,
		NewID:         s.opts.NewID,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[participantID] = sess
	s.opts.Metrics.SessionsActive.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	return sess, nil
}

// Act applies one participant action and returns the resulting view. The
// view is returned alongside a rejected action so callers can re-render.
func (s *Service) Act(ctx context.Context, participantID string, action Action) (navigation.SessionView, error) {
	sess, err := s.Session(ctx, participantID)
	if err != nil {
		return navigation.SessionView{}, err
	}

	if err := s.apply(ctx, sess, action); err != nil {
		slog.Debug("participant action rejected",
			"participant_id", participantID,
			"action", action.Type,
			"error", err,
		)
		return sess.View(), err
	}
	return sess.View(), nil
}

func (s *Service) apply(ctx context.Context, sess *navigation.Session, action Action) error {
	switch action.Type {
	case ActionNext:
		return sess.Advance(ctx)
	case ActionRetry:
		return sess.Retry()
	}

	rt, err := sess.Current()
	if err != nil {
		return err
	}

	switch action.Type {
	case ActionStart:
		return rt.Start()
	case ActionExpand, ActionCollapse, ActionToggle, ActionPreview:
		id, err := resolveNode(sess, action)
		if err != nil {
			return err
		}
		switch action.Type {
		case ActionExpand:
			return rt.Expand(id)
		case ActionCollapse:
			return rt.Collapse(id)
		case ActionToggle:
			return rt.Toggle(id)
		default:
			return rt.Preview(id)
		}
	case ActionConfirm, ActionSkip:
		return s.submit(ctx, sess, rt, action)
	}
	return apperr.Validation("unknown action %q", action.Type)
}

func resolveNode(sess *navigation.Session, action Action) (tree.NodeID, error) {
	switch {
	case action.NodeID != nil:
		return tree.NodeID(*action.NodeID), nil
	case action.Path != "":
		id, ok := sess.NodeByPath(action.Path)
		if !ok {
			return tree.NoNode, navigation.ErrUnknownNode
		}
		return id, nil
	}
	return tree.NoNode, apperr.Validation("node_id or path is required")
}

// submit runs a terminal action under the cross-instance guard, if one is configured
func (s *Service) submit(ctx context.Context, sess *navigation.Session, rt *navigation.Runtime, action Action) error {
	key := fmt.Sprintf("%s:%s:%d", sess.ParticipantID(), rt.Task().ID, rt.Sequence())
	if s.opts.Guard != nil && !s.opts.Guard.Acquire(ctx, key) {
		return navigation.ErrSubmissionInProgress
	}

	var err error
	if action.Type == ActionConfirm {
		_, err = rt.Confirm(ctx, action.Confidence)
	} else {
		_, err = rt.Skip(ctx, action.Confidence)
	}

	// an in-flight submission owns the key
	if err != nil && s.opts.Guard != nil && !errors.Is(err, navigation.ErrSubmissionInProgress) {
		s.opts.Guard.Release(ctx, key)
	}
	return err
}

// EvictIdle drops live sessions untouched for longer than idle and returns how many were dropped.
// Evicted participants can resume from storage.
func (s *Service) EvictIdle(idle time.Duration) int {
	cutoff := s.opts.Clock.Now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if sess.LastActivity().Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	s.opts.Metrics.SessionsActive.Set(float64(len(s.sessions)))
	return evicted
}

// ActiveSessions returns the number of live sessions held by this instance
func (s *Service) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
