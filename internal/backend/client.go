package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AuthTokenHeader carries the bearer token in the /auth response.
const AuthTokenHeader = "X-Auth-Token"

// maxResponseSize limits response body reads; research reports can be long.
const maxResponseSize = 16 << 20

// API is the research backend surface used by the rest of the application.
type API interface {
	Authenticate(ctx context.Context, accessToken string) (*AuthResult, error)
	Submit(ctx context.Context, bearer string, req SubmitRequest) (string, error)
	Status(ctx context.Context, bearer, taskID string) (*TaskStatus, error)
	Result(ctx context.Context, bearer, taskID string) (*Result, error)
	ListTasks(ctx context.Context, bearer string) ([]Task, error)
}

// Ensure Client implements API.
var _ API = (*Client)(nil)

// Timeouts bounds each backend call. Submission can take a while because the
// backend plans the task before returning its id.
type Timeouts struct {
	Auth   time.Duration
	Submit time.Duration
	Read   time.Duration
}

// DefaultTimeouts returns the per-operation defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Auth:   30 * time.Second,
		Submit: 300 * time.Second,
		Read:   30 * time.Second,
	}
}

// Client is a stateless HTTP client for the research backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeouts   Timeouts
	logger     *slog.Logger
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, timeouts Timeouts, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultTimeouts()
	if timeouts.Auth <= 0 {
		timeouts.Auth = def.Auth
	}
	if timeouts.Submit <= 0 {
		timeouts.Submit = def.Submit
	}
	if timeouts.Read <= 0 {
		timeouts.Read = def.Read
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeouts:   timeouts,
		logger:     logger,
	}
}

// Authenticate exchanges a long-lived access token for a bearer token.
func (c *Client) Authenticate(ctx context.Context, accessToken string) (*AuthResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Auth)
	defer cancel()

	q := url.Values{}
	q.Set("danta_access_token", accessToken)

	var body struct {
		UserID string `json:"user_id"`
	}
	resp, err := c.do(ctx, http.MethodGet, "/auth?"+q.Encode(), "", nil, &body)
	if err != nil {
		return nil, err
	}
	// Only a plain 200 counts as a successful exchange.
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Method: http.MethodGet, Path: "/auth", StatusCode: resp.StatusCode}
	}

	bearer := resp.Header.Get(AuthTokenHeader)
	if bearer == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrMalformedResponse, AuthTokenHeader)
	}
	return &AuthResult{BearerToken: bearer, UserID: body.UserID}, nil
}

// Submit creates a research task and returns its id.
func (c *Client) Submit(ctx context.Context, bearer string, req SubmitRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Submit)
	defer cancel()

	var resp submitResponse
	if _, err := c.do(ctx, http.MethodPost, "/research", bearer, req, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("%w: missing task_id", ErrMalformedResponse)
	}
	return resp.TaskID, nil
}

// Status returns the current status of a task.
func (c *Client) Status(ctx context.Context, bearer, taskID string) (*TaskStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Read)
	defer cancel()

	var status TaskStatus
	path := fmt.Sprintf("/research/%s/status", url.PathEscape(taskID))
	if _, err := c.do(ctx, http.MethodGet, path, bearer, nil, &status); err != nil {
		return nil, err
	}
	if status.Status == "" {
		return nil, fmt.Errorf("%w: missing status", ErrMalformedResponse)
	}
	if status.AbstractState == "" {
		status.AbstractState = StateNotStarted
	}
	return &status, nil
}

// Result fetches the report of a completed task.
func (c *Client) Result(ctx context.Context, bearer, taskID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Read)
	defer cancel()

	var result Result
	path := fmt.Sprintf("/research/%s/result", url.PathEscape(taskID))
	if _, err := c.do(ctx, http.MethodGet, path, bearer, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTasks returns the tasks owned by the bearer's user.
func (c *Client) ListTasks(ctx context.Context, bearer string) ([]Task, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Read)
	defer cancel()

	var tasks []Task
	if _, err := c.do(ctx, http.MethodGet, "/research/tasks", bearer, nil, &tasks); err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].AbstractState == "" {
			tasks[i].AbstractState = StateNotStarted
		}
	}
	return tasks, nil
}

// do performs one round trip. A non-nil reqBody is sent as JSON; a 2xx
// response body is decoded into respBody.
func (c *Client) do(ctx context.Context, method, path, bearer string, reqBody, respBody any) (*http.Response, error) {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	// Keep the access token out of logs.
	logPath := path
	if i := strings.IndexByte(logPath, '?'); i >= 0 {
		logPath = logPath[:i]
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error embeds the full URL, query string included.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		c.logger.Warn("backend request failed", "method", method, "path", logPath, "error", err)
		return nil, fmt.Errorf("%s %s: %w", method, logPath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("response too large (exceeds %d bytes)", maxResponseSize)
	}

	c.logger.Debug("backend request",
		"method", method,
		"path", logPath,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Method:     method,
			Path:       logPath,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if respBody != nil {
		if err := json.Unmarshal(data, respBody); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return resp, nil
}
