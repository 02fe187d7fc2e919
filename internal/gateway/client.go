// Package gateway wraps the notebook service's HTTP API for the sync engine:
// create, delete, fetch, and list of sources inside a notebook. The service
// has no update primitive; content changes are expressed by the caller as
// delete + create. The gateway owns retry with exponential backoff for
// transient failures and the verification workaround for the service's
// async-execution create defect.
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

	"github.com/vaultlm/vaultlm/internal/logger"
)

// Source is a remote document as the engine sees it. Content is immutable
// remotely; the engine only ever creates and deletes whole sources.
type Source struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client talks to the notebook service.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      *logger.Logger
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	verifyDelay time.Duration

	// sleep is replaceable in tests so backoff does not slow them down.
	sleep func(ctx context.Context, d time.Duration) error
}

// Config holds configuration for the gateway client.
type Config struct {
	// BaseURL is the service root, e.g. "https://notebook.example.com".
	BaseURL string

	// AuthToken is the shared secret sent as a bearer header on every call.
	AuthToken string

	// Timeout bounds a single HTTP exchange (default 30s).
	Timeout time.Duration

	// MaxAttempts bounds retries per call (default 4).
	MaxAttempts int

	// BaseDelay is the first backoff delay, doubled per attempt (default 500ms).
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay (default 8s).
	MaxDelay time.Duration

	// VerifyDelay is the wait before the create-defect listing check (default 2s).
	VerifyDelay time.Duration

	// Logger is the logger instance to use.
	Logger *logger.Logger
}

// authTransport injects the bearer header on every request so no call site
// can forget it.
type authTransport struct {
	token string
	base  http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (a *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+a.token)
	if a.base == nil {
		return http.DefaultTransport.RoundTrip(cloned)
	}
	return a.base.RoundTrip(cloned)
}

// NewClient creates a new gateway client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("auth token is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 4
	}
	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := cfg.MaxDelay
	if maxDelay == 0 {
		maxDelay = 8 * time.Second
	}
	verifyDelay := cfg.VerifyDelay
	if verifyDelay == 0 {
		verifyDelay = 2 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &authTransport{token: cfg.AuthToken},
		},
		logger:      log,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		verifyDelay: verifyDelay,
		sleep:       sleepCtx,
	}, nil
}

// CreateSource creates a new source in a notebook and returns it.
//
// When the call fails with the documented async-execution defect the source
// was likely created despite the error, so instead of retrying (which would
// duplicate it) the client waits briefly, lists the notebook, and adopts the
// most recently updated source whose title matches. If no match is found the
// original error is returned.
func (c *Client) CreateSource(ctx context.Context, notebookID, title, content string) (*Source, error) {
	var src Source
	err := c.withRetry(ctx, "create_source", func() error {
		return c.do(ctx, http.MethodPost,
			fmt.Sprintf("/v1/notebooks/%s/sources", notebookID),
			map[string]string{"title": title, "content": content},
			&src)
	})
	if err == nil {
		return &src, nil
	}
	if !isAsyncDefect(err) {
		return nil, err
	}

	c.logger.WithFields("notebook", notebookID, "title", title).
		Warn("Create hit the async-execution defect, verifying by listing")
	if verified, vErr := c.verifyCreate(ctx, notebookID, title); vErr == nil && verified != nil {
		return verified, nil
	}
	return nil, err
}

// DeleteSource removes a source. A 404 means the source is already gone and
// counts as success, which makes the delete idempotent.
func (c *Client) DeleteSource(ctx context.Context, id string) error {
	err := c.withRetry(ctx, "delete_source", func() error {
		return c.do(ctx, http.MethodDelete, "/v1/sources/"+id, nil, nil)
	})
	if err != nil && IsNotFound(err) {
		return nil
	}
	return err
}

// FetchSource retrieves a source by id, failing with ErrNotFound on 404.
func (c *Client) FetchSource(ctx context.Context, id string) (*Source, error) {
	var src Source
	err := c.withRetry(ctx, "fetch_source", func() error {
		return c.do(ctx, http.MethodGet, "/v1/sources/"+id, nil, &src)
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &src, nil
}

// ListSources returns all sources in a notebook.
func (c *Client) ListSources(ctx context.Context, notebookID string) ([]Source, error) {
	var resp struct {
		Sources []Source `json:"sources"`
	}
	err := c.withRetry(ctx, "list_sources", func() error {
		return c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/notebooks/%s/sources", notebookID), nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	return resp.Sources, nil
}

// verifyCreate implements the defect workaround: after the fixed delay, find
// the freshest source in the notebook carrying the attempted title.
func (c *Client) verifyCreate(ctx context.Context, notebookID, title string) (*Source, error) {
	if err := c.sleep(ctx, c.verifyDelay); err != nil {
		return nil, err
	}

	sources, err := c.ListSources(ctx, notebookID)
	if err != nil {
		return nil, err
	}

	var newest *Source
	for i := range sources {
		if sources[i].Title != title {
			continue
		}
		if newest == nil || sources[i].UpdatedAt.After(newest.UpdatedAt) {
			newest = &sources[i]
		}
	}
	if newest != nil {
		c.logger.WithRemoteID(newest.ID).Info("Verified source created despite backend error")
	}
	return newest, nil
}

// withRetry runs fn with exponential backoff. 4xx responses are never
// retried, and the async-execution defect stops retries immediately so the
// caller can run the verification step instead.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := c.baseDelay
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || isAsyncDefect(err) {
			return err
		}
		if attempt == c.maxAttempts {
			break
		}

		c.logger.WithOperation(op).WithFields("attempt", attempt, "delay", delay, "error", err).
			Debug("Retrying remote call")
		if sErr := c.sleep(ctx, delay); sErr != nil {
			return sErr
		}
		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, c.maxAttempts, err)
}

// do performs a single JSON exchange against the service.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// readErrorMessage extracts the service's error message, falling back to the
// raw body when it is not the usual JSON envelope.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(data))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
