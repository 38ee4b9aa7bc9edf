package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/results"
	"github.com/terra-clan/treetest-engine/internal/storage"
)

const fixtureYAML = `
name: Library
tree: |
  Home
  ,Books
  ,,Loans
  ,Visit
  ,,Hours
tasks:
  - id: loans
    description: Renew a loan
    expected_answer: /home/books/loans
participants:
  - id: p1
    started_at: 2024-03-01T09:00:00Z
    completed: true
    attempts:
      - task: loans
        selected: /home/books/loans
        seconds: 10
        confidence: 5
  - id: p2
    started_at: 2024-03-01T09:00:00Z
    attempts:
      - task: loans
        selected: /home/visit/hours
        path_taken: /home/books/visit/hours
        seconds: 20
      - task: loans
        skipped: true
        seconds: 4
`

func newTestLoader() *Loader {
	return &Loader{now: func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }}
}

func TestParse(t *testing.T) {
	f, err := newTestLoader().Parse([]byte(fixtureYAML))
	require.NoError(t, err)

	assert.Equal(t, "Library", f.Study.Name)
	require.Len(t, f.Nodes, 1)
	require.Len(t, f.Tasks, 1)
	assert.Equal(t, 1, f.Tasks[0].Position)
	require.Len(t, f.Participants, 2)

	p1 := f.Participants[0]
	require.Len(t, p1.Attempts, 1)
	assert.Equal(t, results.DirectSuccess, results.Classify(p1.Attempts[0]))
	require.NotNil(t, p1.CompletedAt)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 10, 0, time.UTC), *p1.CompletedAt)

	p2 := f.Participants[1]
	assert.True(t, p2.IsAbandoned())
	require.Len(t, p2.Attempts, 2)
	assert.Equal(t, results.IndirectFail, results.Classify(p2.Attempts[0]))
	assert.Equal(t, results.DirectSkip, results.Classify(p2.Attempts[1]))
	assert.Equal(t, 2, p2.Attempts[1].Sequence)

	assert.Len(t, f.Attempts(), 3)
	leaf, ok := f.Index().ByPath("/home/visit/hours")
	assert.True(t, ok)
	assert.True(t, f.Index().IsLeaf(leaf))
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "tree: Home\n"},
		{"answer not a leaf", "name: x\ntree: |\n  Home\n  ,Books\ntasks:\n  - id: t\n    expected_answer: /home\n"},
		{"missing answer", "name: x\ntasks:\n  - id: t\n"},
		{"duplicate task", "name: x\ntasks:\n  - id: t\n    expected_answer: /a\n  - id: t\n    expected_answer: /b\n"},
		{"unknown task", "name: x\nparticipants:\n  - attempts:\n      - task: nope\n        skipped: true\n"},
		{"bad confidence", "name: x\ntasks:\n  - id: t\n    expected_answer: /a\nparticipants:\n  - attempts:\n      - task: t\n        skipped: true\n        confidence: 9\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader().Parse([]byte(tt.yaml))
			assert.True(t, apperr.IsKind(err, apperr.KindValidation), "got %v", err)
		})
	}

	_, err := newTestLoader().Parse([]byte("name: x\ntree: |\n  Home\n  ,,,Deep\n"))
	assert.True(t, apperr.IsKind(err, apperr.KindCompile))
}

func TestLoadFromDirAndApply(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "library.yaml"), []byte(fixtureYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("name: [unclosed"), 0o644))

	fixtures, err := newTestLoader().LoadFromDir(dir)
	require.NoError(t, err)
	require.Len(t, fixtures, 1)
	assert.Equal(t, "library", fixtures[0].Study.ID)
	assert.Equal(t, "library", fixtures[0].Tasks[0].StudyID)

	repo := storage.NewMemoryRepository()
	require.NoError(t, Apply(ctx, repo, fixtures[0]))
	// seeding twice is a no-op
	require.NoError(t, Apply(ctx, repo, fixtures[0]))

	attempts, err := repo.LoadStudyAttempts(ctx, "library")
	require.NoError(t, err)
	assert.Len(t, attempts, 3)

	participants, err := repo.ListParticipants(ctx, "library")
	require.NoError(t, err)
	summary := results.SummarizeParticipants(participants)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Completed)
}

func TestShippedFixtures(t *testing.T) {
	fixtures, err := NewLoader().LoadFromDir(filepath.Join("..", "..", "seeds"))
	require.NoError(t, err)
	require.NotEmpty(t, fixtures)

	for _, f := range fixtures {
		assert.NotEmpty(t, f.Tasks, f.Study.ID)
		assert.False(t, f.Index().Empty(), f.Study.ID)
	}
}
