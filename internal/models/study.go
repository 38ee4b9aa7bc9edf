package models

import "time"

// DefaultMaxTimeLimit is the display cap for time statistics, in seconds,
// used when neither the task nor the study configures one
const DefaultMaxTimeLimit = 120

// Study holds the settings the navigation runtime and results engine depend on
type Study struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	RequireConfidence bool      `json:"require_confidence"`
	AllowRetries      bool      `json:"allow_retries"`
	MaxTimeLimit      int       `json:"max_time_limit,omitempty"` // seconds, display only
	CreatedAt         time.Time `json:"created_at"`
}

// Participant is one respondent session within a study
type Participant struct {
	ID          string        `json:"id"`
	StudyID     string        `json:"study_id"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Attempts    []TaskAttempt `json:"attempts,omitempty"`
}

// IsAbandoned returns true if the participant never finished the study
func (p *Participant) IsAbandoned() bool {
	return p.CompletedAt == nil
}
