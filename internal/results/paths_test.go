package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

const cityNotation = "Home\n,Services\n,,Permits\n,,Parking\n,About\n,,Team"

func mustIndex(t *testing.T, notation string) *tree.Index {
	t.Helper()
	forest, err := tree.Compile(notation)
	require.NoError(t, err)
	return tree.NewIndex(forest)
}

func TestReconstructClicks(t *testing.T) {
	x := mustIndex(t, cityNotation)

	tests := []struct {
		name      string
		pathTaken string
		want      []string
	}{
		{"straight down", "/home/services/permits", []string{"/home", "/home/services", "/home/services/permits"}},
		{"sibling detour", "/home/about/services/permits", []string{"/home", "/home/about", "/home/services", "/home/services/permits"}},
		{"collapse and reopen", "/home/services/services/parking", []string{"/home", "/home/services", "/home/services", "/home/services/parking"}},
		{"two previews", "/home/about/team/services/parking", []string{"/home", "/home/about", "/home/about/team", "/home/services", "/home/services/parking"}},
		{"stops at unknown segment", "/home/shop/about", []string{"/home"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReconstructClicks(tt.pathTaken, x))
		})
	}
}

func TestFirstClicks(t *testing.T) {
	x := mustIndex(t, cityNotation)
	task := models.Task{ID: "task-1", ExpectedAnswer: "/home/services/permits"}

	attempts := []models.TaskAttempt{
		{Clicks: []string{"/home/services", "/home/services/permits"}},
		{Clicks: []string{"/home/about", "/home/services", "/home/about", "/home/services/permits"}},
		{Skipped: true, DirectPathTaken: true},
		{PathTaken: "/home/about/team"},
	}

	got, err := FirstClicks(attempts, task, x)
	require.NoError(t, err)

	assert.Equal(t, []ParentClicks{
		{Path: "/home/about", Name: "About", FirstClickCount: 2, FirstClickPercentage: 50, TotalClickCount: 2, TotalClickPercentage: 50},
		{Path: "/home/services", Name: "Services", FirstClickCount: 1, FirstClickPercentage: 25, TotalClickCount: 2, TotalClickPercentage: 50, IsCorrect: true},
	}, got)
}

func TestFirstClicksMultiRootCountsTopLevel(t *testing.T) {
	x := mustIndex(t, "Products\n,Shoes\nSupport\n,Returns")
	task := models.Task{ID: "task-1", ExpectedAnswer: "/support/returns"}

	got, err := FirstClicks([]models.TaskAttempt{{Clicks: []string{"/support", "/support/returns"}}}, task, x)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/support", got[0].Path)
	assert.True(t, got[0].IsCorrect)
	assert.Equal(t, 100, got[0].FirstClickPercentage)
}

func TestFirstClicksRequiresTree(t *testing.T) {
	_, err := FirstClicks(nil, models.Task{}, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func failedAt(paths ...string) []models.TaskAttempt {
	out := make([]models.TaskAttempt, 0, len(paths))
	for _, p := range paths {
		out = append(out, models.TaskAttempt{SelectedPath: p, PathTaken: p})
	}
	return out
}

func TestIncorrectDestinationsParticipantPaths(t *testing.T) {
	x := mustIndex(t, cityNotation)
	attempts := failedAt("/home/services/parking", "/old/parking", "/home/services/parking", "/home/about/team", "/gone/nowhere")
	attempts = append(attempts,
		models.TaskAttempt{Successful: true, SelectedPath: "/home/services/permits"},
		models.TaskAttempt{Skipped: true},
	)

	got, err := IncorrectDestinations(attempts, x, ParticipantPaths)
	require.NoError(t, err)

	assert.Equal(t, []Destination{
		{Path: "/home/services/parking", Count: 2, Percentage: 40, InTree: true},
		{Path: "/gone/nowhere", Count: 1, Percentage: 20},
		{Path: "/home/about/team", Count: 1, Percentage: 20, InTree: true},
		{Path: "/old/parking", Count: 1, Percentage: 20},
	}, got)
}

func TestIncorrectDestinationsConfiguredPaths(t *testing.T) {
	x := mustIndex(t, cityNotation)
	attempts := failedAt("/home/services/parking", "/old/parking", "/home/services/parking", "/home/about/team", "/gone/nowhere")

	got, err := IncorrectDestinations(attempts, x, ConfiguredPaths)
	require.NoError(t, err)

	assert.Equal(t, []Destination{
		{Path: "/home/services/parking", Count: 3, Percentage: 60, InTree: true, Sources: []string{"/home/services/parking", "/old/parking"}},
		{Path: "/gone/nowhere", Count: 1, Percentage: 20, Sources: []string{"/gone/nowhere"}},
		{Path: "/home/about/team", Count: 1, Percentage: 20, InTree: true, Sources: []string{"/home/about/team"}},
	}, got)
}

func TestIncorrectDestinationsKeepsPercentagesFromRawGroups(t *testing.T) {
	x := mustIndex(t, cityNotation)
	// 1/3 rounds to 33 per raw group; the merged bucket keeps 33+33
	got, err := IncorrectDestinations(failedAt("/a/parking", "/b/parking", "/home/about/team"), x, ConfiguredPaths)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "/home/services/parking", got[0].Path)
	assert.Equal(t, 66, got[0].Percentage)
}

func TestIncorrectDestinationsAmbiguousSegmentStaysRaw(t *testing.T) {
	x := mustIndex(t, "A\n,Contact\nB\n,Contact")

	got, err := IncorrectDestinations(failedAt("/c/contact"), x, ConfiguredPaths)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/c/contact", got[0].Path)
	assert.False(t, got[0].InTree)
}

func TestIncorrectDestinationsModes(t *testing.T) {
	_, err := IncorrectDestinations(failedAt("/x"), nil, ConfiguredPaths)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	got, err := IncorrectDestinations(failedAt("/x"), nil, ParticipantPaths)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = IncorrectDestinations(nil, nil, ParticipantPaths)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseDestinationMode(t *testing.T) {
	mode, err := ParseDestinationMode("")
	require.NoError(t, err)
	assert.Equal(t, ParticipantPaths, mode)

	mode, err = ParseDestinationMode("configured")
	require.NoError(t, err)
	assert.Equal(t, ConfiguredPaths, mode)

	_, err = ParseDestinationMode("fuzzy")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
