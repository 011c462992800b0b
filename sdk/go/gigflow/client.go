// Package gigflow provides a small Go client for the GigFlow REST API.
package gigflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the GigFlow REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
}

// JobSubmission is the payload required to start a new lifecycle task.
type JobSubmission struct {
	JobID       string            `json:"job_id"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Budget      float64           `json:"budget,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	Platform    string            `json:"platform,omitempty"`
	ClientID    string            `json:"client_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TaskStatus mirrors the status snapshot returned by the server. Phase is one
// of the lifecycle phase names (DISCOVERY through FEEDBACK) or a terminal
// COMPLETED/FAILED/CANCELLED.
type TaskStatus struct {
	TaskID     string    `json:"task_id"`
	JobID      string    `json:"job_id"`
	Phase      string    `json:"phase"`
	Attempts   int       `json:"attempts"`
	ErrorCount int       `json:"error_count"`
	LastError  string    `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Terminal reports whether the task has reached a terminal phase.
func (s TaskStatus) Terminal() bool {
	switch s.Phase {
	case "COMPLETED", "FAILED", "CANCELLED":
		return true
	default:
		return false
	}
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("gigflow api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gigflow api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the GigFlow API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey stores the key sent as a bearer token on subsequent calls.
// Servers running without an API key ignore the header.
func (c *Client) SetAPIKey(key string) {
	c.apiKey = key
}

// CreateTask submits a job and returns the generated task identifier.
func (c *Client) CreateTask(ctx context.Context, job JobSubmission) (string, error) {
	var created struct {
		TaskID string `json:"task_id"`
	}
	if err := c.post(ctx, "/api/v1/tasks", job, &created); err != nil {
		return "", err
	}
	return created.TaskID, nil
}

// GetTask fetches the latest durably committed status of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	var status TaskStatus
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(taskID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListTasks returns the most recently updated tasks, terminal ones included.
// A non-positive limit uses the server default.
func (c *Client) ListTasks(ctx context.Context, limit int) ([]TaskStatus, error) {
	endpoint := "/api/v1/tasks"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var body struct {
		Tasks []TaskStatus `json:"tasks"`
	}
	if err := c.get(ctx, endpoint, &body); err != nil {
		return nil, err
	}
	return body.Tasks, nil
}

// CancelTask requests cancellation. It returns false when the task already
// reached a terminal phase.
func (c *Client) CancelTask(ctx context.Context, taskID string) (bool, error) {
	var body struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := c.post(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/cancel", nil, &body); err != nil {
		return false, err
	}
	return body.Cancelled, nil
}

// RecoverTask asks the server to resume an unfinished task from its last
// checkpoint. It returns false for terminal or already running tasks.
func (c *Client) RecoverTask(ctx context.Context, taskID string) (bool, error) {
	var body struct {
		Recovered bool `json:"recovered"`
	}
	if err := c.post(ctx, "/api/v1/tasks/"+url.PathEscape(taskID)+"/recover", nil, &body); err != nil {
		return false, err
	}
	return body.Recovered, nil
}

// WaitForTask polls GetTask until the task reaches a terminal phase or the
// context is cancelled.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (*TaskStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
