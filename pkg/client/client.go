// Package client is a Go SDK for the treetest-engine HTTP API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/navigation"
	"github.com/terra-clan/treetest-engine/internal/results"
)

// Client is a Go SDK for treetest-engine API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new treetest-engine client. apiKey is only needed for admin calls.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error envelope returned by the server
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Line       int    `json:"line,omitempty"`
}

func (e *APIError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("API error %d: %s - %s (line %d)", e.StatusCode, e.Code, e.Message, e.Line)
	}
	return fmt.Sprintf("API error %d: %s - %s", e.StatusCode, e.Code, e.Message)
}

// ActionRequest carries the arguments of a participant action
type ActionRequest struct {
	NodeID     *int   `json:"node_id,omitempty"`
	Path       string `json:"path,omitempty"`
	Confidence *int   `json:"confidence,omitempty"`
}

// Participant is returned when a participant joins a study
type Participant struct {
	Participant models.StartParticipantResponse `json:"participant"`
	Session     navigation.SessionView          `json:"session"`
}

// SavedTree is returned when a study's tree is replaced
type SavedTree struct {
	Tree      models.CompiledTree `json:"tree"`
	LeafCount int                 `json:"leaf_count"`
}

// CompileTree compiles notation without saving it
func (c *Client) CompileTree(ctx context.Context, notation string) (*models.CompileTreeResponse, error) {
	var out models.CompileTreeResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/tree/compile", models.CompileTreeRequest{Notation: notation}, &out)
	return &out, err
}

// CreateStudy creates a study
func (c *Client) CreateStudy(ctx context.Context, req models.CreateStudyRequest) (*models.Study, error) {
	var out models.Study
	if err := c.call(ctx, http.MethodPost, "/api/v1/studies", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStudy retrieves a study by ID
func (c *Client) GetStudy(ctx context.Context, id string) (*models.Study, error) {
	var out models.Study
	if err := c.call(ctx, http.MethodGet, "/api/v1/studies/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveTree replaces the study's tree
func (c *Client) SaveTree(ctx context.Context, studyID, notation string) (*SavedTree, error) {
	var out SavedTree
	path := "/api/v1/studies/" + url.PathEscape(studyID) + "/tree"
	if err := c.call(ctx, http.MethodPut, path, models.CompileTreeRequest{Notation: notation}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTree retrieves the study's compiled tree
func (c *Client) GetTree(ctx context.Context, studyID string) (*models.CompiledTree, error) {
	var out models.CompiledTree
	if err := c.call(ctx, http.MethodGet, "/api/v1/studies/"+url.PathEscape(studyID)+"/tree", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTask adds a task to a study
func (c *Client) CreateTask(ctx context.Context, studyID string, req models.CreateTaskRequest) (*models.Task, error) {
	var out models.Task
	if err := c.call(ctx, http.MethodPost, "/api/v1/studies/"+url.PathEscape(studyID)+"/tasks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks returns a study's tasks in order
func (c *Client) ListTasks(ctx context.Context, studyID string) ([]models.Task, error) {
	var out struct {
		Tasks []models.Task `json:"tasks"`
		Total int           `json:"total"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/studies/"+url.PathEscape(studyID)+"/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// StudyResults returns the study overview
func (c *Client) StudyResults(ctx context.Context, studyID string) (*results.StudyOverview, error) {
	var out results.StudyOverview
	if err := c.call(ctx, http.MethodGet, "/api/v1/studies/"+url.PathEscape(studyID)+"/results", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TaskResults returns the full report of one task
func (c *Client) TaskResults(ctx context.Context, studyID, taskID string, mode results.DestinationMode) (*results.TaskReport, error) {
	path := fmt.Sprintf("/api/v1/studies/%s/tasks/%s/results", url.PathEscape(studyID), url.PathEscape(taskID))
	if mode != "" {
		path += "?destinations=" + url.QueryEscape(string(mode))
	}

	var out results.TaskReport
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAttempt removes one outcome record
func (c *Client) DeleteAttempt(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/attempts/"+url.PathEscape(id), nil, nil)
}

// StartParticipant joins a study as a new participant
func (c *Client) StartParticipant(ctx context.Context, studyID string) (*Participant, error) {
	var out Participant
	if err := c.call(ctx, http.MethodPost, "/api/v1/studies/"+url.PathEscape(studyID)+"/participants", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRun returns the participant's current session view
func (c *Client) GetRun(ctx context.Context, participantID string) (*navigation.SessionView, error) {
	var out navigation.SessionView
	if err := c.call(ctx, http.MethodGet, "/api/v1/run/"+url.PathEscape(participantID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Act sends one participant action ("start", "expand", "confirm", ...)
func (c *Client) Act(ctx context.Context, participantID, action string, req ActionRequest) (*navigation.SessionView, error) {
	var out navigation.SessionView
	path := "/api/v1/run/" + url.PathEscape(participantID) + "/" + url.PathEscape(action)
	if err := c.call(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

// call performs a request and unpacks the response envelope into out
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	status, resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("failed to unmarshal response (HTTP %d): %w", status, err)
	}

	if !result.Success {
		if result.Error == nil {
			return &APIError{StatusCode: status, Code: "unknown", Message: http.StatusText(status)}
		}
		result.Error.StatusCode = status
		return result.Error
	}

	if out == nil || len(result.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}
