package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/nuki-gateway/internal/infrastructure/config"
)

const (
	pingTimeout = 5 * time.Second

	defaultBatchSize    = 100
	defaultFlushSeconds = 10
)

// Logger is the logging surface used by the client.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Client writes telemetry points to one InfluxDB bucket. Writes are
// batched by the underlying client and never block the caller.
type Client struct {
	client influxdb2.Client
	writer api.WriteAPI
	bucket string

	connected atomic.Bool
	loggerMu  sync.RWMutex
	logger    Logger
}

// Connect pings the server and prepares the batched write API. ctx bounds
// the initial ping only.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := uint(positive(cfg.BatchSize, defaultBatchSize))                 // #nosec G115 -- positive
	flushMS := uint(positive(cfg.FlushInterval, defaultFlushSeconds)) * 1000 // #nosec G115 -- positive
	opts := influxdb2.DefaultOptions().SetBatchSize(batch).SetFlushInterval(flushMS)
	ic := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if ok, err := ic.Ping(pingCtx); err != nil || !ok {
		ic.Close()
		if err == nil {
			err = fmt.Errorf("server at %s not ready", cfg.URL)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client: ic,
		writer: ic.WriteAPI(cfg.Org, cfg.Bucket),
		bucket: cfg.Bucket,
		logger: noopLogger{},
	}
	c.connected.Store(true)
	go c.drainErrors()
	return c, nil
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SetLogger sets the logger that receives asynchronous write failures.
func (c *Client) SetLogger(l Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) drainErrors() {
	for err := range c.writer.Errors() {
		c.loggerMu.RLock()
		l := c.logger
		c.loggerMu.RUnlock()
		l.Warn("influxdb write failed", "bucket", c.bucket, "error", err)
	}
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	ok, err := c.client.Ping(pingCtx)
	switch {
	case err != nil:
		return fmt.Errorf("influxdb ping: %w", err)
	case !ok:
		return fmt.Errorf("influxdb ping: server not ready")
	}
	return nil
}

// Close flushes buffered points and closes the client. It is safe to call
// more than once and on a zero Client.
func (c *Client) Close() error {
	if c.client == nil || !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	c.writer.Flush()
	c.client.Close()
	return nil
}
