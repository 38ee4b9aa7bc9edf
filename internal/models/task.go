package models

import (
	"strings"
	"time"
)

// Task is one "find item X" prompt of a study
type Task struct {
	ID          string `json:"id"`
	StudyID     string `json:"study_id"`
	Position    int    `json:"position"`
	Description string `json:"description"`
	// ExpectedAnswer is a comma-separated list of canonical leaf paths
	ExpectedAnswer string    `json:"expected_answer"`
	MaxTimeSeconds int       `json:"max_time_seconds,omitempty"` // display only, 0 = unset
	CreatedAt      time.Time `json:"created_at"`
}

// ExpectedPaths splits ExpectedAnswer into its non-empty paths
func (t *Task) ExpectedPaths() []string {
	var paths []string
	for _, p := range strings.Split(t.ExpectedAnswer, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// IsCorrect reports whether a selected leaf path counts as a correct answer
func (t *Task) IsCorrect(path string) bool {
	for _, p := range t.ExpectedPaths() {
		if p == path {
			return true
		}
	}
	return false
}

// TaskAttempt is the outcome record of one completed or skipped pass at a task.
// It is immutable once saved.
type TaskAttempt struct {
	ID            string `json:"id"`
	StudyID       string `json:"study_id"`
	TaskID        string `json:"task_id"`
	ParticipantID string `json:"participant_id"`
	Sequence      int    `json:"sequence"`

	Successful      bool `json:"successful"`
	DirectPathTaken bool `json:"direct_path_taken"`
	Skipped         bool `json:"skipped"`

	// PathTaken is the breadcrumb of canonical segments accumulated before the terminal action
	PathTaken    string `json:"path_taken"`
	SelectedPath string `json:"selected_path,omitempty"`
	// Clicks lists the canonical path of every expanded or previewed node, in order
	Clicks []string `json:"clicks,omitempty"`

	CompletionTimeSeconds float64   `json:"completion_time_seconds"`
	ConfidenceRating      *int      `json:"confidence_rating,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}
