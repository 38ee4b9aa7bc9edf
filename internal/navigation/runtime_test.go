package navigation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

func newTestRuntime(t *testing.T, x *tree.Index, expected string, sink OutcomeSink, clock *fakeClock) *Runtime {
	t.Helper()
	rt, err := NewRuntime(x, RuntimeOptions{
		StudyID:       "study-1",
		ParticipantID: "participant-1",
		Task:          models.Task{ID: "task-1", Description: "Find permits", ExpectedAnswer: expected},
		Clock:         clock,
		Sink:          sink,
		NewID:         sequentialIDs(),
	})
	require.NoError(t, err)
	return rt
}

func TestSingleRootAutoExpands(t *testing.T) {
	x := mustIndex(t, cityNotation)
	rt := newTestRuntime(t, x, "/home/about/team", nil, newFakeClock())

	home := nodeAt(t, x, "/home")
	assert.Equal(t, []tree.NodeID{home}, rt.Expanded())
	assert.Equal(t, "/home", rt.PathTaken())

	view := rt.View()
	require.Len(t, view.Nodes, 3)
	assert.True(t, view.Nodes[0].Expanded)
	assert.Equal(t, "Services", view.Nodes[1].Name)
	assert.Equal(t, "About", view.Nodes[2].Name)
}

func TestMultiRootDoesNotAutoExpand(t *testing.T) {
	x := mustIndex(t, "Products\n,Shoes\nSupport\n,Returns")
	rt := newTestRuntime(t, x, "/support/returns", nil, newFakeClock())

	assert.Empty(t, rt.Expanded())
	assert.Equal(t, "", rt.PathTaken())
	assert.Len(t, rt.View().Nodes, 2)
}

func TestEmptyTreeHasNoContent(t *testing.T) {
	_, err := NewRuntime(tree.NewIndex(nil), RuntimeOptions{})
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestActionsRequireStart(t *testing.T) {
	x := mustIndex(t, cityNotation)
	rt := newTestRuntime(t, x, "/home/about/team", nil, newFakeClock())

	assert.ErrorIs(t, rt.Expand(nodeAt(t, x, "/home/services")), ErrNotStarted)
	_, err := rt.Skip(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, rt.Start())
	assert.ErrorIs(t, rt.Start(), ErrAlreadyStarted)
}

func TestStartDelay(t *testing.T) {
	x := mustIndex(t, cityNotation)
	clock := newFakeClock()
	rt, err := NewRuntime(x, RuntimeOptions{Task: models.Task{ID: "t"}, StartDelay: 3 * time.Second, Clock: clock})
	require.NoError(t, err)

	assert.ErrorIs(t, rt.Start(), ErrStartTooEarly)
	clock.Advance(3 * time.Second)
	assert.NoError(t, rt.Start())
}

func TestDirectSuccess(t *testing.T) {
	x := mustIndex(t, cityNotation)
	clock := newFakeClock()
	sink := &recordingSink{}
	rt := newTestRuntime(t, x, "/home/services/permits", sink, clock)

	require.NoError(t, rt.Start())
	require.NoError(t, rt.Expand(nodeAt(t, x, "/home/services")))
	require.NoError(t, rt.Preview(nodeAt(t, x, "/home/services/permits")))
	clock.Advance(12500 * time.Millisecond)

	attempt, err := rt.Confirm(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, attempt.Successful)
	assert.True(t, attempt.DirectPathTaken)
	assert.False(t, attempt.Skipped)
	assert.Equal(t, "/home/services/permits", attempt.PathTaken)
	assert.Equal(t, "/home/services/permits", attempt.SelectedPath)
	assert.Equal(t, []string{"/home/services", "/home/services/permits"}, attempt.Clicks)
	assert.InDelta(t, 12.5, attempt.CompletionTimeSeconds, 1e-9)
	assert.Equal(t, "participant-1", attempt.ParticipantID)
	assert.Equal(t, 1, attempt.Sequence)
	assert.Equal(t, StatusCompleted, rt.Status())
	assert.Equal(t, 1, sink.count())
}

func TestIndirectSuccessAfterDetour(t *testing.T) {
	x := mustIndex(t, cityNotation)
	rt := newTestRuntime(t, x, "/home/services/permits", &recordingSink{}, newFakeClock())
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Expand(nodeAt(t, x, "/home/about")))
	require.NoError(t, rt.Expand(nodeAt(t, x, "/home/services")))

	// accordion: About closed when its sibling opened
	assert.Equal(t, []tree.NodeID{nodeAt(t, x, "/home"), nodeAt(t, x, "/home/services")}, rt.Expanded())

	require.NoError(t, rt.Preview(nodeAt(t, x, "/home/services/permits")))
	attempt, err := rt.Confirm(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, attempt.Successful)
	assert.False(t, attempt.DirectPathTaken)
	assert.Equal(t, "/home/about/services/permits", attempt.PathTaken)
}

func TestDirectFail(t *testing.T) {
	x := mustIndex(t, cityNotation)
	rt := newTestRuntime(t, x, "/home/services/permits", &recordingSink{}, newFakeClock())
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Expand(nodeAt(t, x, "/home/services")))
	require.NoError(t, rt.Preview(nodeAt(t, x, "/home/services/parking")))
	attempt, err := rt.Confirm(context.Background(), nil)
	require.NoError(t, err)

	assert.False(t, attempt.Successful)
	assert.True(t, attempt.DirectPathTaken)
}

func TestReclickingExpandedAncestorIsIdempotent(t *testing.T) {
	x := mustIndex(t, cityNotation)
	rt := newTestRuntime(t, x, "/home/services/permits", &recordingSink{}, newFakeClock())
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Expand(nodeAt(t, x, "/home")))
	require.NoError(t, rt.Expand(nodeAt(t, x, "/home/services")))
	require.NoError(t, rt.Expand(nodeAt(t, x, "/home/services")))
	require.NoError(t, rt.Preview(nodeAt(t, x, "/home/services/permits")))
	require.NoError(t, rt.Preview(nodeAt(t, x, "/home/services/permits")))

	attempt, err := rt.Confirm(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, attempt.DirectPathTaken)
	assert.Equal(t, "/home/services/permits", attempt.PathTaken)
}

func TestCollapseAndReexpandIsADetour(t *testing.T) {
	x := mustIndex(t, cityNotation)
	rt := newTestRuntime(t, x, "/home/services/permits", &recordingSink{}, newFakeClock())
	require.NoError(t, rt.Start())

	services := nodeAt(t, x, "/home/services")
	require.NoError(t, rt.Toggle(services))
	require.NoError(t, rt.Toggle(services))
	assert.Equal(t, []tree.NodeID{nodeAt(t, x, "/home")}, rt.Expanded())
	require.NoError(t, rt.Toggle(services))

	require.NoError(t, rt.Preview(nodeAt(t, x, "/home/services/permits")))
	attempt, err := rt.Confirm(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, attempt.DirectPathTaken)
	assert.Equal(t, "/home/services/services/permits", attempt.PathTaken)
}

func TestVisibilityRules(t *testing.T) {
	x := mustIndex(t, cityNotation)
	rt := newTestRuntime(t, x, "/home/about/team", nil, newFakeClock())
	require.NoError(t, rt.Start())

	assert.ErrorIs(t, rt.Preview(nodeAt(t, x, "/home/about/team")), ErrNodeNotVisible)
	assert.ErrorIs(t, rt.Expand(nodeAt(t, x, "/home/about/team")), ErrNodeNotVisible)
	assert.ErrorIs(t, rt.Expand(tree.NodeID(42)), ErrUnknownNode)
	assert.ErrorIs(t, rt.Preview(nodeAt(t, x, "/home/about")), ErrNotSelectable)

	require.NoError(t, rt.Expand(nodeAt(t, x, "/home/about")))
	assert.ErrorIs(t, rt.Expand(nodeAt(t, x, "/home/about/team")), ErrNotExpandable)
}

func TestCollapseClearsPreviewAndDescendants(t *testing.T) {
	x := mustIndex(t, cityNotation)
	rt := newTestRuntime(t, x, "/home/about/team", nil, newFakeClock())
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Expand(nodeAt(t, x, "/home/about")))
	require.NoError(t, rt.Preview(nodeAt(t, x, "/home/about/team")))
	require.NoError(t, rt.Collapse(nodeAt(t, x, "/home")))

	assert.Empty(t, rt.Expanded())
	_, err := rt.Confirm(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNothingSelected)
}

func TestSkipUntouchedIsDirect(t *testing.T) {
	x := mustIndex(t, cityNotation)
	rt := newTestRuntime(t, x, "/home/about/team", &recordingSink{}, newFakeClock())
	require.NoError(t, rt.Start())

	attempt, err := rt.Skip(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, attempt.Skipped)
	assert.True(t, attempt.DirectPathTaken)
	assert.False(t, attempt.Successful)
	assert.Equal(t, "", attempt.PathTaken)
	assert.Equal(t, StatusSkipped, rt.Status())
}

func TestSkipAfterExplorationIsIndirect(t *testing.T) {
	x := mustIndex(t, cityNotation)
	rt := newTestRuntime(t, x, "/home/about/team", &recordingSink{}, newFakeClock())
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Expand(nodeAt(t, x, "/home/services")))
	attempt, err := rt.Skip(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, attempt.DirectPathTaken)
	assert.Equal(t, "/home/services", attempt.PathTaken)
}

func TestConfidenceRules(t *testing.T) {
	x := mustIndex(t, cityNotation)
	rt, err := NewRuntime(x, RuntimeOptions{
		Task:              models.Task{ID: "t", ExpectedAnswer: "/home/about/team"},
		RequireConfidence: true,
		Clock:             newFakeClock(),
		Sink:              &recordingSink{},
	})
	require.NoError(t, err)
	require.NoError(t, rt.Start())
	require.NoError(t, rt.Expand(nodeAt(t, x, "/home/about")))
	require.NoError(t, rt.Preview(nodeAt(t, x, "/home/about/team")))

	_, err = rt.Confirm(context.Background(), nil)
	assert.ErrorIs(t, err, ErrConfidenceRequired)

	bad := 8
	_, err = rt.Confirm(context.Background(), &bad)
	assert.ErrorIs(t, err, ErrInvalidConfidence)

	good := 6
	attempt, err := rt.Confirm(context.Background(), &good)
	require.NoError(t, err)
	require.NotNil(t, attempt.ConfidenceRating)
	assert.Equal(t, 6, *attempt.ConfidenceRating)
}

func TestTerminalActionEmitsAtMostOnce(t *testing.T) {
	x := mustIndex(t, cityNotation)
	sink := &recordingSink{}
	rt := newTestRuntime(t, x, "/home/about/team", sink, newFakeClock())
	require.NoError(t, rt.Start())
	require.NoError(t, rt.Expand(nodeAt(t, x, "/home/about")))
	require.NoError(t, rt.Preview(nodeAt(t, x, "/home/about/team")))

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = rt.Confirm(context.Background(), nil)
			} else {
				_, errs[i] = rt.Skip(context.Background(), nil)
			}
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, IsConflict(err), err.Error())
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, sink.count())
}

func TestActionsRejectedWhileSubmitting(t *testing.T) {
	x := mustIndex(t, cityNotation)
	sink := &recordingSink{gate: make(chan struct{})}
	rt := newTestRuntime(t, x, "/home/about/team", sink, newFakeClock())
	require.NoError(t, rt.Start())

	done := make(chan error)
	go func() {
		_, err := rt.Skip(context.Background(), nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return rt.Status() == StatusSubmitting }, time.Second, time.Millisecond)
	assert.ErrorIs(t, rt.Expand(nodeAt(t, x, "/home/about")), ErrSubmissionInProgress)
	_, err := rt.Skip(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSubmissionInProgress)

	close(sink.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StatusSkipped, rt.Status())
}

func TestFailedSaveSurfacesAndAllowsRetry(t *testing.T) {
	x := mustIndex(t, cityNotation)
	sink := &recordingSink{failWith: errStorageDown}
	rt := newTestRuntime(t, x, "/home/about/team", sink, newFakeClock())
	require.NoError(t, rt.Start())

	_, err := rt.Skip(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errStorageDown)
	assert.Equal(t, StatusInProgress, rt.Status())
	assert.Nil(t, rt.Outcome())

	sink.failWith = nil
	attempt, err := rt.Skip(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, attempt, rt.Outcome())
	assert.Equal(t, 1, sink.count())
}
