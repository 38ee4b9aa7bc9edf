package study

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/metrics"
	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/navigation"
	"github.com/terra-clan/treetest-engine/internal/results"
	"github.com/terra-clan/treetest-engine/internal/storage"
)

const cityNotation = "Home\n,Services\n,,Permits\n,,Parking\n,About\n,,Team"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeGuard struct {
	mu       sync.Mutex
	refuse   bool
	held     map[string]bool
	released []string
}

func (g *fakeGuard) Acquire(ctx context.Context, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refuse || g.held[key] {
		return false
	}
	g.held[key] = true
	return true
}

func (g *fakeGuard) Release(ctx context.Context, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
	g.released = append(g.released, key)
}

type fixture struct {
	svc   *Service
	repo  *storage.MemoryRepository
	clock *fakeClock
	study *models.Study
	tasks []*models.Task
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newService(repo *storage.MemoryRepository, clock *fakeClock, guard SubmissionGuard) *Service {
	opts := Options{
		Clock:   clock,
		Metrics: metrics.NewCollector(),
		NewID:   sequentialIDs("id"),
	}
	if guard != nil {
		opts.Guard = guard
	}
	return NewService(repo, opts)
}

func newFixture(t *testing.T, req models.CreateStudyRequest, guard SubmissionGuard) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		repo:  storage.NewMemoryRepository(),
		clock: &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.svc = newService(f.repo, f.clock, guard)

	if req.Name == "" {
		req.Name = "City website"
	}
	st, err := f.svc.CreateStudy(ctx, req)
	require.NoError(t, err)
	f.study = st

	_, err = f.svc.SaveTree(ctx, st.ID, cityNotation)
	require.NoError(t, err)

	for _, answer := range []string{"/home/services/permits", "/home/about/team"} {
		task, err := f.svc.CreateTask(ctx, st.ID, models.CreateTaskRequest{
			Description:    "Find " + answer,
			ExpectedAnswer: answer,
		})
		require.NoError(t, err)
		f.tasks = append(f.tasks, task)
	}
	return f
}

func (f *fixture) act(t *testing.T, pid string, action Action) navigation.SessionView {
	t.Helper()
	view, err := f.svc.Act(context.Background(), pid, action)
	require.NoError(t, err, "action %s", action.Type)
	return view
}

func TestCompileTree(t *testing.T) {
	svc := newService(storage.NewMemoryRepository(), &fakeClock{}, nil)

	resp, err := svc.CompileTree(context.Background(), cityNotation)
	require.NoError(t, err)
	assert.Len(t, resp.Nodes, 1)
	assert.Equal(t, 3, resp.LeafCount)

	_, err = svc.CompileTree(context.Background(), "Home\n,,,Deep")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindCompile))
	assert.Equal(t, 2, apperr.LineOf(err))
}

func TestCreateStudyRequiresName(t *testing.T) {
	svc := newService(storage.NewMemoryRepository(), &fakeClock{}, nil)

	_, err := svc.CreateStudy(context.Background(), models.CreateStudyRequest{Name: "   "})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestSaveTree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.CreateStudyRequest{}, nil)

	_, err := f.svc.SaveTree(ctx, "missing", cityNotation)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	// a broken revision leaves the saved tree untouched
	_, err = f.svc.SaveTree(ctx, f.study.ID, "Home\n,,,Deep")
	require.Error(t, err)

	saved, err := f.svc.GetTree(ctx, f.study.ID)
	require.NoError(t, err)
	assert.Equal(t, cityNotation, saved.RawNotation)
	assert.Equal(t, "Home", saved.Nodes[0].Name)
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.CreateStudyRequest{}, nil)

	assert.Equal(t, 1, f.tasks[0].Position)
	assert.Equal(t, 2, f.tasks[1].Position)

	tests := []struct {
		name   string
		answer string
	}{
		{"empty", " , "},
		{"not canonical", "home/services/permits"},
		{"not a leaf", "/home/services"},
		{"not in tree", "/home/contact"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateTask(ctx, f.study.ID, models.CreateTaskRequest{
				Description:    "Find it",
				ExpectedAnswer: tt.answer,
			})
			assert.True(t, apperr.IsKind(err, apperr.KindValidation), "got %v", err)
		})
	}

	task, err := f.svc.CreateTask(ctx, f.study.ID, models.CreateTaskRequest{
		Description:    "Find parking or permits",
		ExpectedAnswer: "/home/services/parking, /home/services/permits",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, task.Position)
	assert.Equal(t, []string{"/home/services/parking", "/home/services/permits"}, task.ExpectedPaths())

	tasks, err := f.svc.ListTasks(ctx, f.study.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
}

func TestParticipantWalksStudy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.CreateStudyRequest{}, nil)

	sess, err := f.svc.StartParticipant(ctx, f.study.ID)
	require.NoError(t, err)
	pid := sess.ParticipantID()
	assert.Equal(t, navigation.SessionActive, sess.State())

	view := f.act(t, pid, Action{Type: ActionStart})
	assert.Equal(t, navigation.StatusInProgress, view.Task.Status)

	f.clock.Advance(4 * time.Second)
	f.act(t, pid, Action{Type: ActionExpand, Path: "/home/services"})
	f.act(t, pid, Action{Type: ActionPreview, Path: "/home/services/permits"})
	view = f.act(t, pid, Action{Type: ActionConfirm})
	require.NotNil(t, view.Task.Outcome)
	assert.Equal(t, navigation.StatusCompleted, view.Task.Status)
	assert.Equal(t, results.DirectSuccess, results.Classify(*view.Task.Outcome))

	view = f.act(t, pid, Action{Type: ActionNext})
	assert.Equal(t, 1, view.TaskIndex)

	f.act(t, pid, Action{Type: ActionStart})
	f.act(t, pid, Action{Type: ActionSkip})
	view = f.act(t, pid, Action{Type: ActionNext})
	assert.Equal(t, navigation.SessionFinished, view.State)

	p, err := f.repo.GetParticipant(ctx, pid)
	require.NoError(t, err)
	assert.False(t, p.IsAbandoned())

	overview, err := f.svc.StudyResults(ctx, f.study.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, overview.Attempts)
	assert.Equal(t, 1, overview.Breakdown.Count(results.DirectSuccess))
	assert.Equal(t, 1, overview.Breakdown.Count(results.DirectSkip))
	assert.Equal(t, 1, overview.Participants.Completed)

	report, err := f.svc.TaskResults(ctx, f.study.ID, f.tasks[0].ID, results.ParticipantPaths)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, 100, report.Success.Rate)
}

func TestActRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.CreateStudyRequest{}, nil)

	sess, err := f.svc.StartParticipant(ctx, f.study.ID)
	require.NoError(t, err)
	pid := sess.ParticipantID()

	_, err = f.svc.Act(ctx, pid, Action{Type: ActionExpand, Path: "/home/services"})
	assert.ErrorIs(t, err, navigation.ErrNotStarted)

	f.act(t, pid, Action{Type: ActionStart})

	view, err := f.svc.Act(ctx, pid, Action{Type: ActionExpand, Path: "/home/nowhere"})
	assert.ErrorIs(t, err, navigation.ErrUnknownNode)
	assert.Equal(t, navigation.StatusInProgress, view.Task.Status)

	_, err = f.svc.Act(ctx, pid, Action{Type: ActionExpand})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = f.svc.Act(ctx, pid, Action{Type: "teleport"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = f.svc.Act(ctx, pid, Action{Type: ActionNext})
	assert.ErrorIs(t, err, navigation.ErrTaskNotFinished)

	_, err = f.svc.Act(ctx, "ghost", Action{Type: ActionStart})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestSubmissionGuard(t *testing.T) {
	ctx := context.Background()
	guard := &fakeGuard{held: make(map[string]bool)}
	f := newFixture(t, models.CreateStudyRequest{}, guard)

	sess, err := f.svc.StartParticipant(ctx, f.study.ID)
	require.NoError(t, err)
	pid := sess.ParticipantID()
	f.act(t, pid, Action{Type: ActionStart})

	// a rejected confirm gives the key back
	_, err = f.svc.Act(ctx, pid, Action{Type: ActionConfirm})
	assert.ErrorIs(t, err, navigation.ErrNothingSelected)
	key := fmt.Sprintf("%s:%s:1", pid, f.tasks[0].ID)
	assert.Equal(t, []string{key}, guard.released)

	guard.refuse = true
	_, err = f.svc.Act(ctx, pid, Action{Type: ActionSkip})
	assert.ErrorIs(t, err, navigation.ErrSubmissionInProgress)

	attempts, err := f.repo.LoadParticipantAttempts(ctx, pid)
	require.NoError(t, err)
	assert.Empty(t, attempts)

	guard.refuse = false
	f.act(t, pid, Action{Type: ActionSkip})
	assert.True(t, guard.held[key])
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.CreateStudyRequest{AllowRetries: true}, nil)

	sess, err := f.svc.StartParticipant(ctx, f.study.ID)
	require.NoError(t, err)
	pid := sess.ParticipantID()

	f.act(t, pid, Action{Type: ActionStart})
	f.act(t, pid, Action{Type: ActionSkip})
	view := f.act(t, pid, Action{Type: ActionRetry})
	assert.Equal(t, 2, view.Task.Sequence)
	assert.Equal(t, navigation.StatusNotStarted, view.Task.Status)
}

func TestResumeAfterEviction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.CreateStudyRequest{}, nil)

	sess, err := f.svc.StartParticipant(ctx, f.study.ID)
	require.NoError(t, err)
	pid := sess.ParticipantID()

	f.act(t, pid, Action{Type: ActionStart})
	f.act(t, pid, Action{Type: ActionSkip})
	assert.Equal(t, 1, f.svc.ActiveSessions())

	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, 0, f.svc.EvictIdle(30*time.Minute))

	f.clock.Advance(25 * time.Minute)
	assert.Equal(t, 1, f.svc.EvictIdle(30*time.Minute))
	assert.Equal(t, 0, f.svc.ActiveSessions())

	resumed, err := f.svc.Session(ctx, pid)
	require.NoError(t, err)
	view := resumed.View()
	assert.Equal(t, navigation.SessionActive, view.State)
	assert.Equal(t, 1, view.TaskIndex)
	assert.Equal(t, f.tasks[1].ID, view.Task.TaskID)
}

func TestResumeOnAnotherInstance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.CreateStudyRequest{}, nil)

	sess, err := f.svc.StartParticipant(ctx, f.study.ID)
	require.NoError(t, err)
	pid := sess.ParticipantID()

	for i := range f.tasks {
		if i > 0 {
			f.act(t, pid, Action{Type: ActionNext})
		}
		f.act(t, pid, Action{Type: ActionStart})
		f.act(t, pid, Action{Type: ActionSkip})
	}

	// the last answer was saved but the participant never pressed next
	other := newService(f.repo, f.clock, nil)
	resumed, err := other.Session(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, navigation.SessionFinished, resumed.State())

	p, err := f.repo.GetParticipant(ctx, pid)
	require.NoError(t, err)
	assert.False(t, p.IsAbandoned())
}

func TestStartParticipantWithoutContent(t *testing.T) {
	ctx := context.Background()
	svc := newService(storage.NewMemoryRepository(), &fakeClock{}, nil)

	st, err := svc.CreateStudy(ctx, models.CreateStudyRequest{Name: "Empty"})
	require.NoError(t, err)

	sess, err := svc.StartParticipant(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, navigation.SessionNoContent, sess.State())

	_, err = svc.Act(ctx, sess.ParticipantID(), Action{Type: ActionStart})
	assert.ErrorIs(t, err, navigation.ErrNoContent)

	_, err = svc.StartParticipant(ctx, "missing")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestTaskResultsChecksStudy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.CreateStudyRequest{}, nil)

	other, err := f.svc.CreateStudy(ctx, models.CreateStudyRequest{Name: "Other"})
	require.NoError(t, err)

	_, err = f.svc.TaskResults(ctx, other.ID, f.tasks[0].ID, results.ParticipantPaths)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
