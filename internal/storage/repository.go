// Package storage persists studies, compiled trees, tasks, participants and
// outcome records. Missing rows are reported as apperr NotFound errors and
// driver failures as apperr Persistence errors.
package storage

import (
	"context"
	"time"

	"github.com/terra-clan/treetest-engine/internal/models"
)

// Repository defines the interface for tree-test persistence
type Repository interface {
	// Studies
	CreateStudy(ctx context.Context, s *models.Study) error
	GetStudy(ctx context.Context, id string) (*models.Study, error)

	// Compiled trees
	SaveCompiledTree(ctx context.Context, studyID string, nodes []models.TreeNode, rawNotation string) error
	LoadCompiledTree(ctx context.Context, studyID string) (*models.CompiledTree, error)

	// Tasks, ordered by position
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	LoadTasks(ctx context.Context, studyID string) ([]models.Task, error)

	// Outcome records
	SaveOutcome(ctx context.Context, participantID, taskID string, attempt *models.TaskAttempt) error
	LoadAttempts(ctx context.Context, taskID string) ([]models.TaskAttempt, error)
	LoadStudyAttempts(ctx context.Context, studyID string) ([]models.TaskAttempt, error)
	LoadParticipantAttempts(ctx context.Context, participantID string) ([]models.TaskAttempt, error)
	DeleteAttempt(ctx context.Context, id string) error

	// Participants
	CreateParticipant(ctx context.Context, p *models.Participant) error
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	CompleteParticipant(ctx context.Context, id string, at time.Time) error
	ListParticipants(ctx context.Context, studyID string) ([]models.Participant, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}
