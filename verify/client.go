// Package verify implements the outbound HTTP client for the external
// verification service: identity checks, role grants and completion
// notifications, normalized onto the link error taxonomy.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-link"
)

// Config holds the client configuration. BaseURL is required; paths and
// the HTTP client have working defaults.
type Config struct {
	BaseURL    string
	VerifyPath string
	GrantPath  string
	NotifyPath string
	HTTPClient *http.Client
}

// Client talks to the verification service. All responses map onto the
// link error taxonomy so callers never see raw transport errors.
type Client struct {
	config Config
	tokens link.TokenSource
	logger link.Logger
}

// Option customizes client construction.
type Option func(*Client)

// WithLogger overrides the client logger.
func WithLogger(logger link.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Client. The token source supplies the bearer token for
// every request; an empty or expired session surfaces as NotAuthenticated
// before any request is made.
func New(cfg Config, tokens link.TokenSource, opts ...Option) *Client {
	if cfg.VerifyPath == "" {
		cfg.VerifyPath = "/identity/verify"
	}
	if cfg.GrantPath == "" {
		cfg.GrantPath = "/identity/grant-role"
	}
	if cfg.NotifyPath == "" {
		cfg.NotifyPath = "/identity/notify"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}

	c := &Client{
		config: cfg,
		tokens: tokens,
		logger: link.DefaultLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

type verifyResponse struct {
	Exists bool `json:"exists"`
}

type grantResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type notifyResponse struct {
	Success bool `json:"success"`
}

// VerifyIdentity reports whether the claimed identity exists on the game
// server.
func (c *Client) VerifyIdentity(ctx context.Context, req link.VerifyRequest) (bool, error) {
	var res verifyResponse
	if err := c.post(ctx, c.config.VerifyPath, req, &res); err != nil {
		return false, err
	}
	return res.Exists, nil
}

// AssignRole grants the platform role for a verified identity. The
// endpoint is idempotent: an already-granted role reports success.
func (c *Client) AssignRole(ctx context.Context, req link.GrantRequest) (bool, error) {
	var res grantResponse
	if err := c.post(ctx, c.config.GrantPath, req, &res); err != nil {
		return false, err
	}
	if !res.Success && res.Error != "" {
		return false, link.ErrRejected.Clone().WithMetadata(map[string]any{
			"upstream": res.Error,
		})
	}
	return res.Success, nil
}

// Notify sends the completion notification to the linked user.
func (c *Client) Notify(ctx context.Context, req link.NotifyRequest) (bool, error) {
	var res notifyResponse
	if err := c.post(ctx, c.config.NotifyPath, req, &res); err != nil {
		return false, err
	}
	return res.Success, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return link.ErrSyncFailure.Clone().WithMetadata(map[string]any{
			"reason": "request encoding failed",
			"error":  err.Error(),
		})
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return link.ErrSyncFailure.Clone().WithMetadata(map[string]any{
			"reason": "request build failed",
			"error":  err.Error(),
		})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		transient := link.ErrTransient.Clone()
		transient.Source = err
		return transient.WithMetadata(map[string]any{
			"endpoint": path,
		})
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, path); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return link.ErrSyncFailure.Clone().WithMetadata(map[string]any{
			"reason": "response decode failed",
			"error":  err.Error(),
		})
	}

	return nil
}

// checkStatus maps HTTP statuses onto the error taxonomy. Upstream error
// bodies land in metadata only, never in user-facing messages.
func (c *Client) checkStatus(resp *http.Response, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	upstream := readErrorBody(resp.Body)
	meta := map[string]any{
		"endpoint": path,
		"status":   resp.StatusCode,
	}
	if upstream != "" {
		meta["upstream"] = upstream
	}

	c.logger.Debug("verification service %s returned %d", path, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return link.ErrNotAuthenticated.Clone().WithMetadata(meta)
	case resp.StatusCode == http.StatusNotFound:
		return link.ErrIdentityNotFound.Clone().WithMetadata(meta)
	case resp.StatusCode >= 500:
		return link.ErrTransient.Clone().WithMetadata(meta)
	default:
		return link.ErrRejected.Clone().WithMetadata(meta)
	}
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(data) == 0 {
		return ""
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return fmt.Sprintf("%.256s", string(data))
}
