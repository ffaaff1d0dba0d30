package nuki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single bridge request.
const DefaultTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	Host        string
	Port        int
	Token       string
	HashedToken bool

	// RequestDelay is the minimum gap between requests.
	// Default: DefaultRequestDelay.
	RequestDelay time.Duration

	// Timeout is the HTTP client timeout. Default: DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the HTTP client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Callback is a callback registered on the bridge.
type Callback struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// Client talks to one bridge. It is safe for concurrent use; requests
// are serialised by its RateGate.
type Client struct {
	baseURL string
	token   string
	hashed  bool
	http    *http.Client
	gate    *RateGate

	now func() time.Time
	rnr func() int
}

// New creates a bridge client.
func New(opts Options) *Client {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.RequestDelay == 0 {
		opts.RequestDelay = DefaultRequestDelay
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL: "http://" + net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		token:   opts.Token,
		hashed:  opts.HashedToken,
		http:    hc,
		gate:    NewRateGate(opts.RequestDelay),
		now:     time.Now,
		rnr:     func() int { return rand.IntN(MaxNonce + 1) }, //nolint:gosec // nonce, not a secret
	}
}

// BaseURL returns the bridge URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// List returns the devices paired with the bridge (/list).
func (c *Client) List(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.get(ctx, "/list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Info returns bridge information (/info).
func (c *Client) Info(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "/info", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LockAction triggers an action on a device (/lockAction). The bridge is
// asked not to wait for the action to finish.
func (c *Client) LockAction(ctx context.Context, nukiID uint32, deviceType, action int) error {
	q := url.Values{}
	q.Set("nukiId", strconv.FormatUint(uint64(nukiID), 10))
	q.Set("deviceType", strconv.Itoa(deviceType))
	q.Set("action", strconv.Itoa(action))
	q.Set("nowait", "1")
	return c.command(ctx, "/lockAction", q)
}

// ClearLog clears the bridge log (/clearlog).
func (c *Client) ClearLog(ctx context.Context) error {
	return c.get(ctx, "/clearlog", nil, nil)
}

// FirmwareUpdate starts a firmware update check (/fwupdate).
func (c *Client) FirmwareUpdate(ctx context.Context) error {
	return c.get(ctx, "/fwupdate", nil, nil)
}

// Reboot reboots the bridge (/reboot).
func (c *Client) Reboot(ctx context.Context) error {
	return c.get(ctx, "/reboot", nil, nil)
}

// Callbacks lists the registered callbacks (/callback/list).
func (c *Client) Callbacks(ctx context.Context) ([]Callback, error) {
	var out struct {
		Callbacks []Callback `json:"callbacks"`
	}
	if err := c.get(ctx, "/callback/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Callbacks, nil
}

// AddCallback registers a callback URL (/callback/add). It returns
// ErrCallbackExists when the URL is already registered.
func (c *Client) AddCallback(ctx context.Context, callbackURL string) error {
	q := url.Values{}
	q.Set("url", callbackURL)
	return c.command(ctx, "/callback/add", q)
}

// RemoveCallback removes a callback by ID (/callback/remove).
func (c *Client) RemoveCallback(ctx context.Context, id int) error {
	q := url.Values{}
	q.Set("id", strconv.Itoa(id))
	return c.command(ctx, "/callback/remove", q)
}

type commandResult struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// command calls an endpoint answering {"success": bool, "message": ...}.
func (c *Client) command(ctx context.Context, path string, q url.Values) error {
	var res commandResult
	if err := c.get(ctx, path, q, &res); err != nil {
		return err
	}
	if res.Success != nil && !*res.Success {
		if strings.Contains(strings.ToLower(res.Message), "already added") {
			return ErrCallbackExists
		}
		if res.Message != "" {
			return fmt.Errorf("%w: %s: %s", ErrActionFailed, path, res.Message)
		}
		return fmt.Errorf("%w: %s", ErrActionFailed, path)
	}
	return nil
}

// get performs one gated GET and decodes the JSON body into out when
// out is non-nil.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.gate.Do(ctx, func() error {
		params := authParams(c.token, c.hashed, c.now(), c.rnr())
		for k, vs := range q {
			for _, v := range vs {
				params.Add(k, v)
			}
		}
		u := c.baseURL + path + "?" + params.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrRequestFailed, path, err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrRequestFailed, path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrRequestFailed, path, err)
		}

		switch {
		case resp.StatusCode >= 400 && strings.Contains(strings.ToLower(string(body)), "already added"):
			return ErrCallbackExists
		case resp.StatusCode == http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %s", ErrUnavailable, path)
		case resp.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, path)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return fmt.Errorf("%w: %s: %d", ErrHTTPStatus, path, resp.StatusCode)
		}

		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidResponse, path, err)
		}
		return nil
	})
}
