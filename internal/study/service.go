// Package study orchestrates tree compilation, live participant sessions and
// results reporting on top of the storage layer.
package study

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/metrics"
	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/navigation"
	"github.com/terra-clan/treetest-engine/internal/results"
	"github.com/terra-clan/treetest-engine/internal/storage"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

// Manager defines the operations the API exposes
type Manager interface {
	CompileTree(ctx context.Context, notation string) (*models.CompileTreeResponse, error)

	CreateStudy(ctx context.Context, req models.CreateStudyRequest) (*models.Study, error)
	GetStudy(ctx context.Context, id string) (*models.Study, error)
	SaveTree(ctx context.Context, studyID, notation string) (*models.CompiledTree, error)
	GetTree(ctx context.Context, studyID string) (*models.CompiledTree, error)
	CreateTask(ctx context.Context, studyID string, req models.CreateTaskRequest) (*models.Task, error)
	ListTasks(ctx context.Context, studyID string) ([]models.Task, error)

	StartParticipant(ctx context.Context, studyID string) (*navigation.Session, error)
	Session(ctx context.Context, participantID string) (*navigation.Session, error)
	Act(ctx context.Context, participantID string, action Action) (navigation.SessionView, error)

	TaskResults(ctx context.Context, studyID, taskID string, mode results.DestinationMode) (*results.TaskReport, error)
	StudyResults(ctx context.Context, studyID string) (*results.StudyOverview, error)
	DeleteAttempt(ctx context.Context, id string) error

	EvictIdle(idle time.Duration) int
	Ping(ctx context.Context) error
}

// TreeCache is an optional shared cache of compiled trees
type TreeCache interface {
	Get(ctx context.Context, studyID string) (*models.CompiledTree, bool)
	Set(ctx context.Context, tree *models.CompiledTree)
	Invalidate(ctx context.Context, studyID string)
}

// SubmissionGuard is an optional cross-instance lock around terminal actions
type SubmissionGuard interface {
	Acquire(ctx context.Context, key string) bool
	Release(ctx context.Context, key string)
}

// Options configures a Service
type Options struct {
	StartDelay     time.Duration
	DefaultMaxTime int
	Clock          navigation.Clock
	Cache          TreeCache
	Guard          SubmissionGuard
	Metrics        *metrics.Collector
	NewID          func() string
}

// Service implements Manager
type Service struct {
	repo storage.Repository
	opts Options

	mu       sync.RWMutex
	sessions map[string]*navigation.Session
	loading  singleflight.Group
}

var _ Manager = (*Service)(nil)

// NewService creates a new Service
func NewService(repo storage.Repository, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = navigation.SystemClock
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if opts.DefaultMaxTime <= 0 {
		opts.DefaultMaxTime = results.DefaultMaxTimeLimit
	}

	return &Service{
		repo:     repo,
		opts:     opts,
		sessions: make(map[string]*navigation.Session),
	}
}

// Ping checks storage connectivity
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// CompileTree compiles notation without saving it
func (s *Service) CompileTree(ctx context.Context, notation string) (*models.CompileTreeResponse, error) {
	nodes, err := s.compile(notation)
	if err != nil {
		return nil, err
	}
	return &models.CompileTreeResponse{Nodes: nodes, LeafCount: tree.CountLeaves(nodes)}, nil
}

func (s *Service) compile(notation string) ([]models.TreeNode, error) {
	nodes, err := tree.Compile(notation)
	switch {
	case err == nil:
		s.opts.Metrics.TreeCompiled("ok")
	case apperr.IsKind(err, apperr.KindCompile):
		s.opts.Metrics.TreeCompiled("compile_error")
	default:
		s.opts.Metrics.TreeCompiled("validation_error")
	}
	return nodes, err
}

// CreateStudy creates a study with its navigation settings
func (s *Service) CreateStudy(ctx context.Context, req models.CreateStudyRequest) (*models.Study, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("study name is required")
	}

	st := &models.Study{
		ID:                s.opts.NewID(),
		Name:              name,
		RequireConfidence: req.RequireConfidence,
		AllowRetries:      req.AllowRetries,
		MaxTimeLimit:      req.MaxTimeLimit,
		CreatedAt:         s.opts.Clock.Now(),
	}

	if err := s.repo.CreateStudy(ctx, st); err != nil {
		return nil, err
	}

	slog.Info("study created", "study_id", st.ID, "name", st.Name)
	return st, nil
}

// GetStudy returns a study
func (s *Service) GetStudy(ctx context.Context, id string) (*models.Study, error) {
	return s.repo.GetStudy(ctx, id)
}

// SaveTree compiles notation and replaces the study's tree. Nothing is saved
// when the notation does not compile.
func (s *Service) SaveTree(ctx context.Context, studyID, notation string) (*models.CompiledTree, error) {
	if _, err := s.repo.GetStudy(ctx, studyID); err != nil {
		return nil, err
	}

	nodes, err := s.compile(notation)
	if err != nil {
		slog.Debug("tree rejected", "study_id", studyID, "error", err)
		return nil, err
	}

	if err := s.repo.SaveCompiledTree(ctx, studyID, nodes, notation); err != nil {
		return nil, err
	}
	if s.opts.Cache != nil {
		s.opts.Cache.Invalidate(ctx, studyID)
	}

	slog.Info("tree saved",
		"study_id", studyID,
		"leaves", tree.CountLeaves(nodes),
	)

	return s.repo.LoadCompiledTree(ctx, studyID)
}

// GetTree returns the study's compiled tree, through the cache when one is configured
func (s *Service) GetTree(ctx context.Context, studyID string) (*models.CompiledTree, error) {
	if s.opts.Cache != nil {
		if t, ok := s.opts.Cache.Get(ctx, studyID); ok {
			s.opts.Metrics.TreeCacheLookup(true)
			return t, nil
		}
		s.opts.Metrics.TreeCacheLookup(false)
	}

	t, err := s.repo.LoadCompiledTree(ctx, studyID)
	if err != nil {
		return nil, err
	}

	if s.opts.Cache != nil {
		s.opts.Cache.Set(ctx, t)
	}
	return t, nil
}

// loadIndex returns the arena of the study's tree, or nil if none was saved yet
func (s *Service) loadIndex(ctx context.Context, studyID string) (*tree.Index, error) {
	t, err := s.GetTree(ctx, studyID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return tree.NewIndex(t.Nodes), nil
}

// CreateTask appends a task to a study. Expected answers must be canonical
// paths and, once a tree exists, leaves of it.
func (s *Service) CreateTask(ctx context.Context, studyID string, req models.CreateTaskRequest) (*models.Task, error) {
	if _, err := s.repo.GetStudy(ctx, studyID); err != nil {
		return nil, err
	}

	t := models.Task{
		ID:             s.opts.NewID(),
		StudyID:        studyID,
		Description:    strings.TrimSpace(req.Description),
		ExpectedAnswer: req.ExpectedAnswer,
		MaxTimeSeconds: req.MaxTimeSeconds,
		CreatedAt:      s.opts.Clock.Now(),
	}
	if t.Description == "" {
		return nil, apperr.Validation("task description is required")
	}

	index, err := s.loadIndex(ctx, studyID)
	if err != nil {
		return nil, err
	}
	paths, err := validateAnswer(t.ExpectedAnswer, index)
	if err != nil {
		return nil, err
	}
	t.ExpectedAnswer = strings.Join(paths, ",")

	existing, err := s.repo.LoadTasks(ctx, studyID)
	if err != nil {
		return nil, err
	}
	t.Position = len(existing) + 1
	if n := len(existing); n > 0 && existing[n-1].Position >= t.Position {
		t.Position = existing[n-1].Position + 1
	}

	if err := s.repo.CreateTask(ctx, &t); err != nil {
		return nil, err
	}

	slog.Info("task created", "study_id", studyID, "task_id", t.ID, "position", t.Position)
	return &t, nil
}

func validateAnswer(answer string, index *tree.Index) ([]string, error) {
	probe := models.Task{ExpectedAnswer: answer}
	paths := probe.ExpectedPaths()
	if len(paths) == 0 {
		return nil, apperr.Validation("expected answer cannot be empty")
	}

	for _, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return nil, apperr.Validation("expected answer %q must be a canonical path starting with /", p)
		}
		if index.Empty() {
			continue
		}
		id, ok := index.ByPath(p)
		if !ok || !index.IsLeaf(id) {
			return nil, apperr.Validation("expected answer %q is not a leaf of the current tree", p)
		}
	}
	return paths, nil
}

// ListTasks returns a study's tasks in order
func (s *Service) ListTasks(ctx context.Context, studyID string) ([]models.Task, error) {
	if _, err := s.repo.GetStudy(ctx, studyID); err != nil {
		return nil, err
	}
	return s.repo.LoadTasks(ctx, studyID)
}

// DeleteAttempt removes one outcome record for data cleaning
func (s *Service) DeleteAttempt(ctx context.Context, id string) error {
	if err := s.repo.DeleteAttempt(ctx, id); err != nil {
		return err
	}
	slog.Info("attempt deleted", "attempt_id", id)
	return nil
}

// TaskResults analyzes one task including path reports, which need the study's tree
func (s *Service) TaskResults(ctx context.Context, studyID, taskID string, mode results.DestinationMode) (*results.TaskReport, error) {
	st, err := s.repo.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.StudyID != studyID {
		return nil, apperr.NotFound("task")
	}

	attempts, err := s.repo.LoadAttempts(ctx, taskID)
	if err != nil {
		return nil, err
	}
	index, err := s.loadIndex(ctx, studyID)
	if err != nil {
		return nil, err
	}

	return results.AnalyzeTask(*st, *task, attempts, index, results.Options{
		Destinations:   mode,
		DefaultMaxTime: s.opts.DefaultMaxTime,
		PathAnalysis:   true,
	})
}

// StudyResults rolls up every task of a study
func (s *Service) StudyResults(ctx context.Context, studyID string) (*results.StudyOverview, error) {
	st, err := s.repo.GetStudy(ctx, studyID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.repo.LoadTasks(ctx, studyID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.repo.LoadStudyAttempts(ctx, studyID)
	if err != nil {
		return nil, err
	}
	participants, err := s.repo.ListParticipants(ctx, studyID)
	if err != nil {
		return nil, err
	}

	return results.Overview(ctx, *st, tasks, attempts, participants, nil, results.Options{
		DefaultMaxTime: s.opts.DefaultMaxTime,
	})
}

// outcomeSink stores outcome records and counts them by class
type outcomeSink struct {
	repo    storage.Repository
	metrics *metrics.Collector
}

func (o *outcomeSink) SaveOutcome(ctx context.Context, participantID, taskID string, a *models.TaskAttempt) error {
	if err := o.repo.SaveOutcome(ctx, participantID, taskID, a); err != nil {
		return err
	}
	o.metrics.OutcomeRecorded(string(results.Classify(*a)))
	return nil
}
