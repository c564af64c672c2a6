package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/opticrew/fieldsync/internal/agent/domain"
)

// Config holds backend client configuration
type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// Client talks HTTP/JSON to the backend of record. Connectivity failures,
// timeouts, and 5xx responses surface as *domain.TransientError so callers
// retry; 4xx responses are definitive.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a backend client
func NewClient(cfg *Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base_url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		authToken: cfg.AuthToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}, nil
}

// GetJob fetches one job by id
func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobsByAssignee fetches the jobs currently assigned to a user
func (c *Client) ListJobsByAssignee(ctx context.Context, userID string) ([]*domain.Job, error) {
	var resp struct {
		Jobs []*domain.Job `json:"jobs"`
	}
	path := "/api/v1/jobs?assignee_id=" + url.QueryEscape(userID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// pushOperationRequest mirrors the backend's sync ingest contract
type pushOperationRequest struct {
	IdempotencyKey string    `json:"idempotency_key"`
	OperationType  string    `json:"operation_type"`
	EntityID       string    `json:"entity_id"`
	Payload        string    `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
}

// PushOperation sends one queued operation to the sync ingest endpoint. The
// operation's identity key rides along as idempotency token, so a resend of
// an already-accepted operation is acknowledged without double-applying.
func (c *Client) PushOperation(ctx context.Context, op *domain.QueuedOperation) error {
	body := pushOperationRequest{
		IdempotencyKey: op.IdentityKey(),
		OperationType:  op.OperationType,
		EntityID:       op.EntityID,
		Payload:        op.Payload,
		CreatedAt:      op.CreatedAt,
	}
	headers := map[string]string{
		"X-Idempotency-Key": op.IdentityKey(),
	}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/sync/operations", headers, body, nil)
}

// doJSON performs one request. dest may be nil for calls that only need the
// status code.
func (c *Client) doJSON(ctx context.Context, method, path string, headers map[string]string, body, dest interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Unreachable backend or timed-out attempt
		return domain.NewTransientError(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if dest == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil

	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", domain.ErrJobNotFound, method, path)

	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return domain.NewTransientError(fmt.Errorf("%s %s: backend returned %d", method, path, resp.StatusCode))

	default:
		msg := readErrorMessage(resp.Body)
		c.logger.Warn("Backend rejected request",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("message", msg),
		)
		return fmt.Errorf("backend rejected %s %s: %d %s", method, path, resp.StatusCode, msg)
	}
}

func readErrorMessage(body io.Reader) string {
	var errResp struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return errResp.Error
	}
	return string(data)
}
