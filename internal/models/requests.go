package models

// CompileTreeRequest carries raw tree notation
type CompileTreeRequest struct {
	Notation string `json:"notation"`
}

// CompileTreeResponse is returned by compile and save operations
type CompileTreeResponse struct {
	Nodes     []TreeNode `json:"nodes"`
	LeafCount int        `json:"leaf_count"`
}

// CreateStudyRequest represents a request to create a study
type CreateStudyRequest struct {
	Name              string `json:"name" validate:"required,max=200"`
	RequireConfidence bool   `json:"require_confidence"`
	AllowRetries      bool   `json:"allow_retries"`
	MaxTimeLimit      int    `json:"max_time_limit" validate:"gte=0"`
}

// CreateTaskRequest represents a request to add a task to a study
type CreateTaskRequest struct {
	Description    string `json:"description" validate:"required"`
	ExpectedAnswer string `json:"expected_answer" validate:"required"`
	MaxTimeSeconds int    `json:"max_time_seconds" validate:"gte=0"`
}

// NodeActionRequest addresses a tree node by arena id or canonical path
type NodeActionRequest struct {
	NodeID *int   `json:"node_id,omitempty" validate:"omitempty,gte=0"`
	Path   string `json:"path,omitempty"`
}

// TerminalActionRequest carries the optional confidence rating of a confirm or skip
type TerminalActionRequest struct {
	Confidence *int `json:"confidence,omitempty" validate:"omitempty,min=1,max=7"`
}

// StartParticipantResponse is returned when a participant joins a study
type StartParticipantResponse struct {
	ParticipantID string `json:"participant_id"`
	StudyID       string `json:"study_id"`
}
