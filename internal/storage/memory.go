package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/models"
)

// MemoryRepository implements Repository in process memory. It enforces the
// same references and uniqueness rules as the Postgres schema.
type MemoryRepository struct {
	mu           sync.RWMutex
	studies      map[string]models.Study
	trees        map[string]models.CompiledTree
	tasks        map[string]models.Task
	participants map[string]models.Participant
	attempts     map[string]models.TaskAttempt
	now          func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		studies:      make(map[string]models.Study),
		trees:        make(map[string]models.CompiledTree),
		tasks:        make(map[string]models.Task),
		participants: make(map[string]models.Participant),
		attempts:     make(map[string]models.TaskAttempt),
		now:          time.Now,
	}
}

// Ping always succeeds
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (r *MemoryRepository) Close() error {
	return nil
}

func (r *MemoryRepository) CreateStudy(ctx context.Context, s *models.Study) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.studies[s.ID]; exists {
		return apperr.Validation("create study: record already exists")
	}
	r.studies[s.ID] = *s
	return nil
}

func (r *MemoryRepository) GetStudy(ctx context.Context, id string) (*models.Study, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.studies[id]
	if !ok {
		return nil, apperr.NotFound("study")
	}
	return &s, nil
}

func (r *MemoryRepository) SaveCompiledTree(ctx context.Context, studyID string, nodes []models.TreeNode, rawNotation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.studies[studyID]; !ok {
		return apperr.NotFound("study")
	}
	r.trees[studyID] = models.CompiledTree{
		StudyID:     studyID,
		Nodes:       copyNodes(nodes),
		RawNotation: rawNotation,
		UpdatedAt:   r.now(),
	}
	return nil
}

func (r *MemoryRepository) LoadCompiledTree(ctx context.Context, studyID string) (*models.CompiledTree, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.trees[studyID]
	if !ok {
		return nil, apperr.NotFound("compiled tree")
	}
	t.Nodes = copyNodes(t.Nodes)
	return &t, nil
}

func (r *MemoryRepository) CreateTask(ctx context.Context, t *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.studies[t.StudyID]; !ok {
		return apperr.NotFound("study")
	}
	if _, exists := r.tasks[t.ID]; exists {
		return apperr.Validation("create task: record already exists")
	}
	r.tasks[t.ID] = *t
	return nil
}

func (r *MemoryRepository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, apperr.NotFound("task")
	}
	return &t, nil
}

func (r *MemoryRepository) LoadTasks(ctx context.Context, studyID string) ([]models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tasks []models.Task
	for _, t := range r.tasks {
		if t.StudyID == studyID {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (r *MemoryRepository) SaveOutcome(ctx context.Context, participantID, taskID string, a *models.TaskAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[taskID]; !ok {
		return apperr.NotFound("task")
	}
	if _, ok := r.participants[participantID]; !ok {
		return apperr.NotFound("participant")
	}
	if _, exists := r.attempts[a.ID]; exists {
		return apperr.Validation("save outcome: record already exists")
	}
	for _, existing := range r.attempts {
		if existing.ParticipantID == participantID && existing.TaskID == taskID && existing.Sequence == a.Sequence {
			return apperr.Validation("save outcome: record already exists")
		}
	}

	stored := *a
	stored.ParticipantID = participantID
	stored.TaskID = taskID
	stored.Clicks = append([]string(nil), a.Clicks...)
	if a.ConfidenceRating != nil {
		v := *a.ConfidenceRating
		stored.ConfidenceRating = &v
	}
	r.attempts[a.ID] = stored
	return nil
}

func (r *MemoryRepository) LoadAttempts(ctx context.Context, taskID string) ([]models.TaskAttempt, error) {
	return r.filterAttempts(func(a models.TaskAttempt) bool { return a.TaskID == taskID }), nil
}

func (r *MemoryRepository) LoadStudyAttempts(ctx context.Context, studyID string) ([]models.TaskAttempt, error) {
	return r.filterAttempts(func(a models.TaskAttempt) bool { return a.StudyID == studyID }), nil
}

func (r *MemoryRepository) LoadParticipantAttempts(ctx context.Context, participantID string) ([]models.TaskAttempt, error) {
	return r.filterAttempts(func(a models.TaskAttempt) bool { return a.ParticipantID == participantID }), nil
}

func (r *MemoryRepository) filterAttempts(keep func(models.TaskAttempt) bool) []models.TaskAttempt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.TaskAttempt
	for _, a := range r.attempts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *MemoryRepository) DeleteAttempt(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.attempts[id]; !ok {
		return apperr.NotFound("attempt")
	}
	delete(r.attempts, id)
	return nil
}

func (r *MemoryRepository) CreateParticipant(ctx context.Context, p *models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.studies[p.StudyID]; !ok {
		return apperr.NotFound("study")
	}
	if _, exists := r.participants[p.ID]; exists {
		return apperr.Validation("create participant: record already exists")
	}
	stored := *p
	stored.Attempts = nil
	r.participants[p.ID] = stored
	return nil
}

func (r *MemoryRepository) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return nil, apperr.NotFound("participant")
	}
	return &p, nil
}

func (r *MemoryRepository) CompleteParticipant(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return apperr.NotFound("participant")
	}
	p.CompletedAt = &at
	r.participants[id] = p
	return nil
}

func (r *MemoryRepository) ListParticipants(ctx context.Context, studyID string) ([]models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Participant
	for _, p := range r.participants {
		if p.StudyID == studyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// copyNodes deep-copies a forest so callers never share children slices
func copyNodes(nodes []models.TreeNode) []models.TreeNode {
	if nodes == nil {
		return nil
	}
	out := make([]models.TreeNode, len(nodes))
	for i, n := range nodes {
		out[i] = models.TreeNode{Name: n.Name, Link: n.Link, Children: copyNodes(n.Children)}
	}
	return out
}
