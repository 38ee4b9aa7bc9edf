package results

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

// Options tune report generation
type Options struct {
	// Destinations selects how incorrect destinations are grouped
	Destinations DestinationMode
	// DefaultMaxTime is the display cap when neither task nor study sets one
	DefaultMaxTime int
	// PathAnalysis adds first-click and destination reports; requires a tree
	PathAnalysis bool
}

// TaskReport is every metric of one task
type TaskReport struct {
	TaskID          string            `json:"task_id"`
	Position        int               `json:"position"`
	Description     string            `json:"description"`
	ExpectedPaths   []string          `json:"expected_paths"`
	Attempts        int               `json:"attempts"`
	Breakdown       Breakdown         `json:"breakdown"`
	Success         RateStat          `json:"success"`
	Directness      RateStat          `json:"directness"`
	Score           int               `json:"score"`
	Times           TimeStats         `json:"times"`
	Confidence      ConfidenceSummary `json:"confidence"`
	FirstClicks     []ParentClicks    `json:"first_clicks,omitempty"`
	Destinations    []Destination     `json:"incorrect_destinations,omitempty"`
	DestinationMode DestinationMode   `json:"destination_mode,omitempty"`

	successHits    int
	directnessHits int
}

// AnalyzeTask computes the report of one task from its attempts
func AnalyzeTask(study models.Study, task models.Task, attempts []models.TaskAttempt, index *tree.Index, opts Options) (*TaskReport, error) {
	for _, a := range attempts {
		if a.TaskID != task.ID {
			return nil, apperr.Validation("attempt %s belongs to task %s, not %s", a.ID, a.TaskID, task.ID)
		}
	}

	r := &TaskReport{
		TaskID:        task.ID,
		Position:      task.Position,
		Description:   task.Description,
		ExpectedPaths: task.ExpectedPaths(),
		Attempts:      len(attempts),
		Breakdown:     NewBreakdown(attempts),
	}

	for _, a := range attempts {
		if a.Successful && !a.Skipped {
			r.successHits++
		}
		if a.DirectPathTaken {
			r.directnessHits++
		}
	}
	r.Success = Rate(r.successHits, len(attempts))
	r.Directness = Rate(r.directnessHits, len(attempts))
	r.Score = Score(r.Success.Rate, r.Directness.Rate)
	r.Times = ComputeTimeStats(attempts, TimeLimit(task, study, opts.DefaultMaxTime))

	confidence, err := SummarizeConfidence(attempts)
	if err != nil {
		return nil, err
	}
	r.Confidence = confidence

	if !opts.PathAnalysis {
		return r, nil
	}

	if r.FirstClicks, err = FirstClicks(attempts, task, index); err != nil {
		return nil, err
	}
	mode := opts.Destinations
	if mode == "" {
		mode = ParticipantPaths
	}
	if r.Destinations, err = IncorrectDestinations(attempts, index, mode); err != nil {
		return nil, err
	}
	r.DestinationMode = mode

	return r, nil
}

// ParticipantSummary counts respondents of a study
type ParticipantSummary struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Abandoned      int `json:"abandoned"`
	CompletionRate int `json:"completion_rate"`
}

// SummarizeParticipants counts completed and abandoned participants
func SummarizeParticipants(participants []models.Participant) ParticipantSummary {
	s := ParticipantSummary{Total: len(participants)}
	for _, p := range participants {
		if p.IsAbandoned() {
			s.Abandoned++
		} else {
			s.Completed++
		}
	}
	s.CompletionRate = percentage(s.Completed, s.Total)
	return s
}

// StudyOverview rolls every task of a study up into one report
type StudyOverview struct {
	StudyID      string             `json:"study_id"`
	Participants ParticipantSummary `json:"participants"`
	Attempts     int                `json:"attempts"`
	Breakdown    Breakdown          `json:"breakdown"`
	// Success and Directness are over all attempts of all tasks, not a mean of task rates
	Success    RateStat      `json:"success"`
	Directness RateStat      `json:"directness"`
	Score      int           `json:"score"`
	Tasks      []*TaskReport `json:"tasks"`
}

// Overview analyzes every task concurrently and rolls the results up. An
// attempt that references a task outside the list is rejected.
func Overview(ctx context.Context, study models.Study, tasks []models.Task, attempts []models.TaskAttempt,
	participants []models.Participant, index *tree.Index, opts Options) (*StudyOverview, error) {

	byTask := make(map[string][]models.TaskAttempt, len(tasks))
	for _, t := range tasks {
		byTask[t.ID] = nil
	}
	for _, a := range attempts {
		if _, ok := byTask[a.TaskID]; !ok {
			return nil, apperr.Validation("attempt %s references unknown task %s", a.ID, a.TaskID)
		}
		byTask[a.TaskID] = append(byTask[a.TaskID], a)
	}

	reports := make([]*TaskReport, len(tasks))
	g, ctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := AnalyzeTask(study, t, byTask[t.ID], index, opts)
			if err != nil {
				return fmt.Errorf("failed to analyze task %s: %w", t.ID, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	o := &StudyOverview{
		StudyID:      study.ID,
		Participants: SummarizeParticipants(participants),
		Tasks:        reports,
	}
	var successHits, directnessHits int
	for _, r := range reports {
		o.Attempts += r.Attempts
		o.Breakdown.Merge(r.Breakdown)
		successHits += r.successHits
		directnessHits += r.directnessHits
	}
	o.Success = Rate(successHits, o.Attempts)
	o.Directness = Rate(directnessHits, o.Attempts)
	o.Score = Score(o.Success.Rate, o.Directness.Rate)

	return o, nil
}
