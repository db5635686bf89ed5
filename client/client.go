package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	v1 "newsletter/pkg/api/v1"
	"newsletter/pkg/constraints"
	"newsletter/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// APIError is a non-retryable answer from the server.
type APIError struct {
	StatusCode int
	Message    string
	Field      string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("newsletter api: %d %s (%s)", e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("newsletter api: %d %s", e.StatusCode, e.Message)
}

type Client struct {
	addr       string
	token      string
	httpClient *http.Client

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry bounds how often a publication is re-sent under the same idempotency key.
func WithRetry(maxAttempts int, base, maxBackoff time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.baseBackoff = base
		c.maxBackoff = maxBackoff
	}
}

func NewClient(addr, token string, opts ...Option) *Client {
	c := &Client{
		addr:        addr,
		token:       token,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 5,
		baseBackoff: time.Second,
		maxBackoff:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	return c
}

// PublishIssue submits an issue and retries transport failures, 409 in-flight answers and 5xx
// responses. Every attempt carries the same idempotency key, so the issue is published at most once.
// A random key is generated when req.IdempotencyKey is empty.
func (c *Client) PublishIssue(ctx context.Context, req v1.PublishIssueRequest) (*v1.PublishIssueResponse, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		status, header, payload, err := c.do(ctx, http.MethodPost, "/v1/admin/issues", body, req.IdempotencyKey)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case status == http.StatusOK || status == http.StatusAccepted:
			var out v1.PublishIssueResponse
			if err := json.Unmarshal(payload, &out); err != nil {
				return nil, fmt.Errorf("decode publish response: %w", err)
			}
			return &out, nil
		case retryable(status):
			lastErr = decodeError(status, payload)
			if d := retryAfter(header); d > backoff {
				backoff = d
			}
		default:
			return nil, decodeError(status, payload)
		}

		if attempt == c.maxAttempts {
			break
		}
		wait := backoff
		if half := int64(backoff / 2); half > 0 {
			wait += time.Duration(rand.Int63n(half))
		}
		logger.Warn("publish attempt failed, retrying",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
	return nil, fmt.Errorf("publish issue: giving up after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) GetIssue(ctx context.Context, id string) (*v1.Issue, error) {
	status, _, payload, err := c.do(ctx, http.MethodGet, "/v1/admin/issues/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeError(status, payload)
	}
	var out v1.Issue
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListIssues(ctx context.Context, limit int) ([]v1.Issue, error) {
	path := "/v1/admin/issues"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	status, _, payload, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, decodeError(status, payload)
	}
	var res struct {
		Data []v1.Issue `json:"data"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (c *Client) Subscribe(ctx context.Context, req v1.SubscribeRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	status, _, payload, err := c.do(ctx, http.MethodPost, "/v1/subscriptions", body, "")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return decodeError(status, payload)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, key string) (int, http.Header, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, rd)
	if err != nil {
		return 0, nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if key != "" {
		req.Header.Set(constraints.HeaderIdempotencyKey, key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, payload, nil
}

func retryable(status int) bool {
	return status == http.StatusConflict || status == http.StatusTooManyRequests || status >= 500
}

func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get(constraints.HeaderRetryAfter))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func decodeError(status int, payload []byte) error {
	var res v1.ErrorResponse
	if err := json.Unmarshal(payload, &res); err != nil || res.Error == "" {
		return &APIError{StatusCode: status, Message: http.StatusText(status)}
	}
	return &APIError{StatusCode: status, Message: res.Error, Field: res.Field}
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
