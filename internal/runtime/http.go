package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/mender/internal/core/domain"
)

// HTTPRuntime implements Runtime over the execution runtime's JSON API.
type HTTPRuntime struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPRuntime creates a runtime client for the given base URL.
func NewHTTPRuntime(cfg Config) *HTTPRuntime {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRuntime{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// GetTaskContext fetches the task snapshot used for strategy selection.
func (r *HTTPRuntime) GetTaskContext(ctx context.Context, taskID string) (*domain.TaskContext, error) {
	var tc domain.TaskContext
	url := fmt.Sprintf("%s/v1/tasks/%s/context", r.baseURL, taskID)
	if err := r.do(ctx, http.MethodGet, url, nil, &tc); err != nil {
		return nil, fmt.Errorf("get task context: %w", err)
	}
	return &tc, nil
}

// ExecuteStrategy asks the runtime to run one recovery strategy.
func (r *HTTPRuntime) ExecuteStrategy(ctx context.Context, taskID string, strategy domain.Strategy, attemptID string) (*domain.StrategyOutcome, error) {
	reqBody := map[string]string{
		"task_id":    taskID,
		"strategy":   string(strategy),
		"attempt_id": attemptID,
	}
	var outcome domain.StrategyOutcome
	url := r.baseURL + "/v1/strategies/execute"
	if err := r.do(ctx, http.MethodPost, url, reqBody, &outcome); err != nil {
		return nil, fmt.Errorf("execute strategy: %w", err)
	}
	return &outcome, nil
}

// UpdateTaskStatus pushes a task status transition.
func (r *HTTPRuntime) UpdateTaskStatus(ctx context.Context, update *domain.TaskStatusUpdate) error {
	url := fmt.Sprintf("%s/v1/tasks/%s/status", r.baseURL, update.TaskID)
	if err := r.do(ctx, http.MethodPut, url, update, nil); err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// UpdateWorkspaceStatus pushes a workspace status transition.
func (r *HTTPRuntime) UpdateWorkspaceStatus(ctx context.Context, workspaceID string, status domain.OperationalStatus) error {
	reqBody := map[string]string{"status": string(status)}
	url := fmt.Sprintf("%s/v1/workspaces/%s/status", r.baseURL, workspaceID)
	if err := r.do(ctx, http.MethodPut, url, reqBody, nil); err != nil {
		return fmt.Errorf("update workspace status: %w", err)
	}
	return nil
}

func (r *HTTPRuntime) do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("runtime call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
