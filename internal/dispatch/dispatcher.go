package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/events"
	"github.com/nerrad567/nuki-gateway/internal/nuki"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

const (
	// MaxRetry is the maximum number of sends per request.
	MaxRetry = 3

	// DefaultRetryDelay is the pause before a delayed retry.
	DefaultRetryDelay = 10 * time.Second

	// DefaultRefreshDelay is how long after a configuration write the Web
	// API is polled again.
	DefaultRefreshDelay = 3 * time.Second
)

// Logger is the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BridgeClient triggers actions through a local bridge.
type BridgeClient interface {
	LockAction(ctx context.Context, nukiID uint32, deviceType, action int) error
}

// BridgeLookup returns the client of the bridge with the given vendor ID
// (or key), and false when the gateway has no handle for it.
type BridgeLookup func(bridgeID string) (BridgeClient, bool)

// WebClient is the part of the Web API the dispatcher uses.
type WebClient interface {
	Action(ctx context.Context, smartlockID uint64, action int) error
	SetConfig(ctx context.Context, smartlockID uint64, cfg map[string]any) error
	SetAdvancedConfig(ctx context.Context, smartlockID uint64, cfg map[string]any) error
	SetOpenerAdvancedConfig(ctx context.Context, smartlockID uint64, cfg map[string]any) error
}

// Options configures a Dispatcher.
type Options struct {
	// Bridges resolves bridge handles. Nil means no bridge is reachable.
	Bridges BridgeLookup

	// Web is the Web API client, nil when the Web API is not active.
	Web WebClient

	// BridgeConfigured is true when at least one bridge is configured.
	// The Web API is preferred only when it is false.
	BridgeConfigured bool

	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration

	// RefreshDelay defaults to DefaultRefreshDelay.
	RefreshDelay time.Duration
}

// Dispatcher sends action requests and handles user writes on action and
// configuration nodes.
type Dispatcher struct {
	registry *device.Registry
	store    state.Store
	opts     Options
	sink     events.Sink
	logger   Logger
	refresh  func(after time.Duration)
	sleep    func(ctx context.Context, d time.Duration) error

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// New creates a dispatcher.
func New(registry *device.Registry, store state.Store, opts Options) *Dispatcher {
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.RefreshDelay == 0 {
		opts.RefreshDelay = DefaultRefreshDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		registry: registry,
		store:    store,
		opts:     opts,
		logger:   noopLogger{},
		sleep:    sleepContext,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetLogger sets the logger.
func (d *Dispatcher) SetLogger(l Logger) {
	d.logger = l
}

// SetSink sets where action results go.
func (d *Dispatcher) SetSink(s events.Sink) {
	d.sink = s
}

// SetRefresher sets the callback asked to poll the Web API again after a
// configuration write.
func (d *Dispatcher) SetRefresher(fn func(after time.Duration)) {
	d.refresh = fn
}

// Stop makes pending delayed retries settle as terminal and waits for
// requests started by Submit and HandleChange. Transport calls already in
// flight are not cancelled; they complete or fail within the HTTP client
// timeout.
func (d *Dispatcher) Stop() {
	d.stopped.Store(true)
	d.cancel()
	d.wg.Wait()
}

// Preferred returns the transport tried first.
func (d *Dispatcher) Preferred() Transport {
	if d.opts.Web != nil && !d.opts.BridgeConfigured {
		return TransportWeb
	}
	return TransportBridge
}

// Dispatch runs a request to completion, including delayed retries, and
// resets the action controls of the device. Cancelling ctx only cuts
// delayed retries short; a send in progress runs to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	sendCtx := context.WithoutCancel(ctx)
	if req.Preferred == TransportNone {
		req.Preferred = d.Preferred()
	}
	res := Result{Request: req, Status: StatusPending}

	if req.Kind.Actions() == nil {
		res.Status = StatusFailedTerminal
		res.Err = fmt.Errorf("%w: %s", ErrUnsupportedKind, req.Kind)
		d.settle(sendCtx, res)
		return res
	}

	t := d.first(req)
	for t != TransportNone {
		res.Status = StatusDispatched
		res.Transport = t
		res.Attempts++
		d.logger.Info("triggering action",
			"action", req.ActionName(), "device", req.Name, "kind", req.Kind.String(),
			"transport", string(t), "attempt", res.Attempts, "request_id", req.ID)

		err := d.send(sendCtx, req, t)
		if err == nil {
			res.Status = StatusSucceeded
			res.Err = nil
			break
		}
		res.Err = err
		d.logger.Warn("action failed",
			"action", req.ActionName(), "device", req.Name, "transport", string(t), "error", err)

		if res.Attempts >= MaxRetry {
			res.Status = StatusFailedTerminal
			res.Err = fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
			break
		}
		res.Status = StatusFailedRetryable

		next, delay := d.next(req, t)
		if delay > 0 {
			d.logger.Info("retrying action", "transport", string(next), "in", delay.String(), "attempt", res.Attempts)
			if err := d.wait(ctx, delay); err != nil {
				res.Status = StatusFailedTerminal
				res.Err = err
				break
			}
		} else {
			d.logger.Info("retrying action", "transport", string(next), "attempt", res.Attempts)
		}
		t = next
	}

	if res.Status == StatusPending {
		res.Status = StatusFailedTerminal
		res.Err = ErrNoTransport
	}
	d.settle(sendCtx, res)
	return res
}

func (d *Dispatcher) bridgeClient(req Request) (BridgeClient, bool) {
	if req.BridgeID == "" || d.opts.Bridges == nil {
		return nil, false
	}
	return d.opts.Bridges(req.BridgeID)
}

func (d *Dispatcher) available(req Request, t Transport) bool {
	switch t {
	case TransportBridge:
		_, ok := d.bridgeClient(req)
		return ok
	case TransportWeb:
		return d.opts.Web != nil && req.SmartlockID != 0
	}
	return false
}

func (d *Dispatcher) first(req Request) Transport {
	if d.available(req, req.Preferred) {
		return req.Preferred
	}
	other := TransportWeb
	if req.Preferred == TransportWeb {
		other = TransportBridge
	}
	if d.available(req, other) {
		return other
	}
	return TransportNone
}

// next returns the transport and delay for the retry after t failed.
func (d *Dispatcher) next(req Request, t Transport) (Transport, time.Duration) {
	if t == TransportBridge {
		if d.available(req, TransportWeb) {
			return TransportWeb, 0
		}
		return TransportBridge, d.opts.RetryDelay
	}
	if d.available(req, TransportBridge) {
		return TransportBridge, d.opts.RetryDelay
	}
	return TransportWeb, d.opts.RetryDelay
}

func (d *Dispatcher) send(ctx context.Context, req Request, t Transport) error {
	switch t {
	case TransportBridge:
		c, ok := d.bridgeClient(req)
		if !ok {
			return ErrNoTransport
		}
		return c.LockAction(ctx, req.Identity.NumericID, req.DeviceType, req.Action)
	case TransportWeb:
		return d.opts.Web.Action(ctx, req.SmartlockID, req.Action)
	}
	return ErrNoTransport
}

func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) error {
	if d.stopped.Load() {
		return ErrStopped
	}
	if err := d.sleep(ctx, delay); err != nil {
		if d.stopped.Load() || errors.Is(err, context.Canceled) {
			return ErrStopped
		}
		return err
	}
	if d.stopped.Load() {
		return ErrStopped
	}
	return nil
}

// settle resets the action controls, logs the outcome and emits an
// action_result event.
func (d *Dispatcher) settle(ctx context.Context, res Result) {
	req := res.Request
	if req.Path != "" && req.Kind.Actions() != nil {
		d.reset(ctx, req.Path, req.Kind)
	}

	if res.Status == StatusSucceeded {
		d.logger.Info("action succeeded",
			"action", req.ActionName(), "device", req.Name, "transport", string(res.Transport), "attempts", res.Attempts)
	} else {
		d.logger.Warn("action gave up",
			"action", req.ActionName(), "device", req.Name, "attempts", res.Attempts, "error", res.Err)
	}

	if d.sink == nil {
		return
	}
	e := events.New(events.TypeActionResult, events.SourceUser)
	e.DeviceHex = req.Identity.HexID
	e.Path = req.Path
	e.Kind = req.Kind.String()
	e.Details = map[string]any{
		"request_id":  req.ID,
		"action":      req.Action,
		"action_name": req.ActionName(),
		"status":      string(res.Status),
		"transport":   string(res.Transport),
		"attempts":    res.Attempts,
	}
	if res.Err != nil {
		e.Details["error"] = res.Err.Error()
	}
	if err := d.sink.Publish(ctx, e); err != nil {
		d.logger.Warn("publishing action result failed", "error", err)
	}
}

func (d *Dispatcher) reset(ctx context.Context, devicePath string, k nuki.Kind) {
	actionPath := devicePath + "._ACTION"
	d.ack(ctx, actionPath, float64(nuki.ActionNone))
	for _, button := range nuki.Buttons(k) {
		d.ack(ctx, actionPath+"."+button, false)
	}
}

func (d *Dispatcher) ack(ctx context.Context, p string, v any) {
	if err := d.store.Set(ctx, p, v, nil); err != nil {
		d.logger.Warn("resetting action node failed", "path", p, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
