package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quietgrid/tasksync/internal/logger"
	"github.com/quietgrid/tasksync/internal/model"
)

const defaultTimeout = 30 * time.Second

// HTTPClient talks to the task endpoints over HTTP with bearer-token
// authentication.
type HTTPClient struct {
	baseURL string
	token   TokenSource
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a gateway client. Zero timeout uses the default.
func NewHTTPClient(baseURL string, timeout time.Duration, token TokenSource) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// do issues one authenticated request and decodes the JSON response into
// out when it is non-nil. The token is checked before any network call.
func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	token := c.token()
	if token == "" {
		return 0, ErrAuthMissing
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	logger.Debug("HTTP Request", logger.F("method", method), logger.F("url", url))

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Error("HTTP request failed", logger.F("error", err), logger.F("url", url))
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	logger.Debug("HTTP Response",
		logger.F("status", resp.StatusCode),
		logger.F("url", url))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, serverError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// serverError extracts the {"error": "..."} message the endpoints return,
// falling back to the raw body.
func serverError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// ListTasks fetches GET /tasks.
func (c *HTTPClient) ListTasks(ctx context.Context) ([]model.ServerTask, error) {
	var result struct {
		Tasks []model.ServerTask `json:"tasks"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/tasks", nil, &result); err != nil {
		return nil, err
	}
	return result.Tasks, nil
}

// CreateTask submits POST /tasks.
func (c *HTTPClient) CreateTask(ctx context.Context, payload TaskPayload) (model.ServerTask, error) {
	var result struct {
		Task model.ServerTask `json:"task"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/tasks", payload, &result); err != nil {
		return model.ServerTask{}, err
	}
	return result.Task, nil
}

// UpdateTask submits PUT /tasks/:id.
func (c *HTTPClient) UpdateTask(ctx context.Context, serverID int64, payload TaskPayload) (model.ServerTask, error) {
	var result struct {
		Task model.ServerTask `json:"task"`
	}
	path := fmt.Sprintf("/tasks/%d", serverID)
	if _, err := c.do(ctx, http.MethodPut, path, payload, &result); err != nil {
		return model.ServerTask{}, err
	}
	return result.Task, nil
}

// DeleteTask submits DELETE /tasks/:id, treating 404 as already gone.
func (c *HTTPClient) DeleteTask(ctx context.Context, serverID int64) error {
	path := fmt.Sprintf("/tasks/%d", serverID)
	status, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && status == http.StatusNotFound {
		return nil
	}
	return err
}
