package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
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

type recordingSink struct {
	mu       sync.Mutex
	saved    []*models.TaskAttempt
	failWith error
	// gate, when set, blocks SaveOutcome until closed
	gate chan struct{}
}

func (s *recordingSink) SaveOutcome(ctx context.Context, participantID, taskID string, attempt *models.TaskAttempt) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.saved = append(s.saved, attempt)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type completionRecorder struct {
	completed []string
	failWith  error
}

func (c *completionRecorder) CompleteParticipant(ctx context.Context, participantID string, at time.Time) error {
	if c.failWith != nil {
		return c.failWith
	}
	c.completed = append(c.completed, participantID)
	return nil
}

var errStorageDown = errors.New("storage down")

const cityNotation = "Home\n,Services\n,,Permits\n,,Parking\n,About\n,,Team"

func mustIndex(t *testing.T, notation string) *tree.Index {
	t.Helper()
	forest, err := tree.Compile(notation)
	require.NoError(t, err)
	return tree.NewIndex(forest)
}

func nodeAt(t *testing.T, x *tree.Index, path string) tree.NodeID {
	t.Helper()
	id, ok := x.ByPath(path)
	require.True(t, ok, "no node at %s", path)
	return id
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("attempt-%d", n)
	}
}
