package navigation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

// SessionState represents where a participant is in the study
type SessionState string

const (
	SessionNoContent SessionState = "no_content"
	SessionActive    SessionState = "active"
	SessionFinished  SessionState = "finished"
)

// ParticipantStore marks participants as having finished the study
type ParticipantStore interface {
	CompleteParticipant(ctx context.Context, participantID string, at time.Time) error
}

// SessionConfig configures a participant's pass through a study
type SessionConfig struct {
	Study         models.Study
	ParticipantID string
	Tasks         []models.Task
	// StartIndex and Sequences resume a participant that already answered some tasks
	StartIndex   int
	Sequences    map[string]int
	StartDelay   time.Duration
	Clock        Clock
	Sink         OutcomeSink
	Participants ParticipantStore
	NewID        func() string
}

// Session walks one participant through every task of a study, creating a
// fresh Runtime (and accumulator) for each task and each retry.
type Session struct {
	mu    sync.Mutex
	cfg   SessionConfig
	index *tree.Index

	state        SessionState
	taskIndex    int
	sequences    map[string]int
	current      *Runtime
	lastActivity time.Time
}

// SessionView is a snapshot of the participant's progress
type SessionView struct {
	ParticipantID string       `json:"participant_id"`
	StudyID       string       `json:"study_id"`
	State         SessionState `json:"state"`
	TaskIndex     int          `json:"task_index"`
	TaskCount     int          `json:"task_count"`
	CanRetry      bool         `json:"can_retry"`
	Task          *RuntimeView `json:"task,omitempty"`
}

// NewSession creates a session. An empty tree or task list yields a session
// in the NoContent state rather than an error.
func NewSession(index *tree.Index, cfg SessionConfig) (*Session, error) {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}

	s := &Session{
		cfg:          cfg,
		index:        index,
		taskIndex:    cfg.StartIndex,
		sequences:    make(map[string]int),
		lastActivity: cfg.Clock.Now(),
	}
	for k, v := range cfg.Sequences {
		s.sequences[k] = v
	}

	switch {
	case index.Empty() || len(cfg.Tasks) == 0:
		s.state = SessionNoContent
		slog.Warn("study has no content to navigate",
			"study_id", cfg.Study.ID,
			"participant_id", cfg.ParticipantID,
		)
	case s.taskIndex >= len(cfg.Tasks):
		s.state = SessionFinished
	default:
		s.state = SessionActive
		if err := s.openTask(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// ParticipantID returns the resumption token of this session
func (s *Session) ParticipantID() string {
	return s.cfg.ParticipantID
}

// StudyID returns the study being navigated
func (s *Session) StudyID() string {
	return s.cfg.Study.ID
}

// NodeByPath resolves a canonical path to a node of the session's tree
func (s *Session) NodeByPath(path string) (tree.NodeID, bool) {
	if s.index.Empty() {
		return tree.NoNode, false
	}
	return s.index.ByPath(path)
}

// State returns the session state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns when the session was last touched
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Current returns the runtime of the task in progress
func (s *Session) Current() (*Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = s.cfg.Clock.Now()
	switch s.state {
	case SessionNoContent:
		return nil, ErrNoContent
	case SessionFinished:
		return nil, ErrSessionFinished
	}
	return s.current, nil
}

// Advance moves to the next task once the current one has a terminal outcome.
// Finishing the last task marks the participant as completed.
func (s *Session) Advance(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireFinishedTask(); err != nil {
		return err
	}

	if s.taskIndex+1 >= len(s.cfg.Tasks) {
		now := s.cfg.Clock.Now()
		if s.cfg.Participants != nil {
			if err := s.cfg.Participants.CompleteParticipant(ctx, s.cfg.ParticipantID, now); err != nil {
				return fmt.Errorf("failed to complete participant: %w", err)
			}
		}
		s.taskIndex = len(s.cfg.Tasks)
		s.state = SessionFinished
		s.current = nil
		s.lastActivity = now
		slog.Info("participant finished study",
			"study_id", s.cfg.Study.ID,
			"participant_id", s.cfg.ParticipantID,
		)
		return nil
	}

	s.taskIndex++
	return s.openTask()
}

// Retry starts a new attempt at the current task, if the study allows it
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Study.AllowRetries {
		return ErrRetriesDisabled
	}
	if err := s.requireFinishedTask(); err != nil {
		return err
	}
	return s.openTask()
}

// View returns a snapshot of the participant's progress
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := SessionView{
		ParticipantID: s.cfg.ParticipantID,
		StudyID:       s.cfg.Study.ID,
		State:         s.state,
		TaskIndex:     s.taskIndex,
		TaskCount:     len(s.cfg.Tasks),
	}
	if s.current != nil {
		rv := s.current.View()
		v.Task = &rv
		v.CanRetry = s.cfg.Study.AllowRetries && rv.Status.IsTerminal()
	}
	return v
}

func (s *Session) requireFinishedTask() error {
	switch s.state {
	case SessionNoContent:
		return ErrNoContent
	case SessionFinished:
		return ErrSessionFinished
	}
	if !s.current.Status().IsTerminal() {
		return ErrTaskNotFinished
	}
	return nil
}

// openTask creates a fresh runtime for the task at taskIndex
func (s *Session) openTask() error {
	task := s.cfg.Tasks[s.taskIndex]
	s.sequences[task.ID]++

	rt, err := NewRuntime(s.index, RuntimeOptions{
		StudyID:           s.cfg.Study.ID,
		ParticipantID:     s.cfg.ParticipantID,
		Task:              task,
		Sequence:          s.sequences[task.ID],
		RequireConfidence: s.cfg.Study.RequireConfidence,
		StartDelay:        s.cfg.StartDelay,
		Clock:             s.cfg.Clock,
		Sink:              s.cfg.Sink,
		NewID:             s.cfg.NewID,
	})
	if err != nil {
		return err
	}

	s.current = rt
	s.lastActivity = s.cfg.Clock.Now()
	return nil
}
