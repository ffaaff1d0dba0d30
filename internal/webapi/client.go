package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public Web API endpoint.
const DefaultBaseURL = "https://api.nuki.io"

// DefaultTimeout bounds a single Web API request.
const DefaultTimeout = 30 * time.Second

// MaxLogLimit is the largest log page the Web API returns.
const MaxLogLimit = 1000

// Options configures a Client.
type Options struct {
	Token   string
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the HTTP client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Web API client.
func New(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, ErrNoToken
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    hc,
	}, nil
}

// Smartlocks returns every device of the account (GET /smartlock).
func (c *Client) Smartlocks(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.do(ctx, http.MethodGet, "/smartlock", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SmartlockAuth returns the users of one device (GET /smartlock/{id}/auth).
func (c *Client) SmartlockAuth(ctx context.Context, smartlockID uint64) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.do(ctx, http.MethodGet, devicePath(smartlockID, "/auth"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SmartlockLogs returns up to limit activity log entries, newest first
// (GET /smartlock/{id}/log). A limit outside 1..MaxLogLimit is clamped.
func (c *Client) SmartlockLogs(ctx context.Context, smartlockID uint64, limit int) ([]map[string]any, error) {
	if limit <= 0 || limit > MaxLogLimit {
		limit = MaxLogLimit
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	var out []map[string]any
	if err := c.do(ctx, http.MethodGet, devicePath(smartlockID, "/log")+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Notifications returns the account notifications (GET /notification).
func (c *Client) Notifications(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.do(ctx, http.MethodGet, "/notification", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Action triggers an action (POST /smartlock/{id}/action).
func (c *Client) Action(ctx context.Context, smartlockID uint64, action int) error {
	body := map[string]int{"action": action}
	return c.do(ctx, http.MethodPost, devicePath(smartlockID, "/action"), body, nil)
}

// SetConfig replaces the config block (POST /smartlock/{id}/config).
func (c *Client) SetConfig(ctx context.Context, smartlockID uint64, cfg map[string]any) error {
	return c.do(ctx, http.MethodPost, devicePath(smartlockID, "/config"), cfg, nil)
}

// SetAdvancedConfig replaces the advanced config block of a lock
// (POST /smartlock/{id}/advanced/config).
func (c *Client) SetAdvancedConfig(ctx context.Context, smartlockID uint64, cfg map[string]any) error {
	return c.do(ctx, http.MethodPost, devicePath(smartlockID, "/advanced/config"), cfg, nil)
}

// SetOpenerAdvancedConfig replaces the advanced config block of an
// opener (POST /smartlock/{id}/advanced/openerconfig).
func (c *Client) SetOpenerAdvancedConfig(ctx context.Context, smartlockID uint64, cfg map[string]any) error {
	return c.do(ctx, http.MethodPost, devicePath(smartlockID, "/advanced/openerconfig"), cfg, nil)
}

func devicePath(smartlockID uint64, suffix string) string {
	return "/smartlock/" + strconv.FormatUint(smartlockID, 10) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encoding %s: %w", ErrRequestFailed, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequestFailed, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequestFailed, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRequestFailed, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, path)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s: %d", ErrHTTPStatus, path, resp.StatusCode)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidResponse, path, err)
	}
	return nil
}
