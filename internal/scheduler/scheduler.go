package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	bridgeapi "github.com/nerrad567/nuki-gateway/internal/bridges/nuki"
	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/reconcile"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

// Bridge refresh types.
const (
	RefreshCallback = "callback"
	RefreshPolling  = "polling"
	RefreshNone     = "none"
)

const (
	// CallbackPath is the endpoint bridges post state changes to.
	CallbackPath = "/nuki-api-bridge"

	// MaxCallbacks is how many callbacks a bridge accepts.
	MaxCallbacks = 3

	// MinWebInterval is the shortest allowed Web API poll interval.
	MinWebInterval = 5 * time.Second

	// WebLogLimit is how many log entries are requested per device.
	WebLogLimit = 1000

	defaultBridgeInterval  = 60 * time.Second
	defaultTransientDelay  = 10 * time.Second
	defaultAdditionalDelay = 3 * time.Second
	defaultInitTimeout     = 15 * time.Second
	defaultInitRetries     = 3
)

// Logger is the logging interface used by the Scheduler.
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

// BridgeClient is the part of the Bridge API the scheduler uses.
type BridgeClient interface {
	List(ctx context.Context) ([]map[string]any, error)
	Info(ctx context.Context) (map[string]any, error)
	Callbacks(ctx context.Context) ([]bridgeapi.Callback, error)
	AddCallback(ctx context.Context, callbackURL string) error
	RemoveCallback(ctx context.Context, id int) error
	ClearLog(ctx context.Context) error
	FirmwareUpdate(ctx context.Context) error
	Reboot(ctx context.Context) error
}

// WebClient is the part of the Web API the scheduler uses.
type WebClient interface {
	Smartlocks(ctx context.Context) ([]map[string]any, error)
	SmartlockAuth(ctx context.Context, smartlockID uint64) ([]map[string]any, error)
	SmartlockLogs(ctx context.Context, smartlockID uint64, limit int) ([]map[string]any, error)
	Notifications(ctx context.Context) ([]map[string]any, error)
}

// LogArchiver stores raw activity logs outside the state store.
type LogArchiver interface {
	ArchiveLogs(ctx context.Context, hexID string, logs []map[string]any) error
}

// Options configures a Scheduler.
type Options struct {
	// RefreshType is RefreshCallback, RefreshPolling or RefreshNone.
	RefreshType string

	// RefreshInterval is the bridge poll interval. Default: 60s.
	RefreshInterval time.Duration

	// CallbackHost and CallbackPort form the URL registered on bridges.
	CallbackHost string
	CallbackPort int

	// WebInterval is the Web API poll interval. 0 disables polling.
	WebInterval time.Duration

	SyncUsers bool
	SyncLogs  bool

	// AdditionalWebCall polls the Web API AdditionalDelay after each
	// bridge callback.
	AdditionalWebCall bool
	AdditionalDelay   time.Duration

	// TransientDelay is the pause before the single retry of /list after
	// a 503 or a dropped connection. Default: 10s.
	TransientDelay time.Duration

	// InitTimeout and InitRetries bound the start-up /info fetch and the
	// callback registration.
	InitTimeout time.Duration
	InitRetries int
}

type bridgeHandle struct {
	key    string
	client BridgeClient
}

// Scheduler polls bridges and the Web API and ingests bridge callbacks.
type Scheduler struct {
	registry   *device.Registry
	store      state.Store
	reconciler *reconcile.Reconciler
	opts       Options

	bridges  []bridgeHandle
	web      WebClient
	archiver LogArchiver
	logger   Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	after func(d time.Duration) <-chan time.Time

	// webMu serialises Web API polls.
	webMu sync.Mutex

	mu      sync.Mutex
	started bool
	unsub   func()

	// Shutdown coordination (stopOnce prevents double-close panics).
	// reqCtx carries HTTP calls and is never cancelled.
	ctx      context.Context
	reqCtx   context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a scheduler. Bridges and the Web API are added before Start.
func New(registry *device.Registry, store state.Store, reconciler *reconcile.Reconciler, opts Options) *Scheduler {
	if opts.RefreshType == "" {
		opts.RefreshType = RefreshCallback
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = defaultBridgeInterval
	}
	if opts.TransientDelay <= 0 {
		opts.TransientDelay = defaultTransientDelay
	}
	if opts.AdditionalDelay <= 0 {
		opts.AdditionalDelay = defaultAdditionalDelay
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = defaultInitTimeout
	}
	if opts.InitRetries <= 0 {
		opts.InitRetries = defaultInitRetries
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		registry:   registry,
		store:      store,
		reconciler: reconciler,
		opts:       opts,
		logger:     noopLogger{},
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepContext,
		after:      time.After,
		ctx:        ctx,
		reqCtx:     context.WithoutCancel(ctx),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// SetLogger sets the logger.
func (s *Scheduler) SetLogger(l Logger) {
	s.logger = l
}

// AddBridge adds a bridge registered in the registry under key.
func (s *Scheduler) AddBridge(key string, client BridgeClient) {
	s.bridges = append(s.bridges, bridgeHandle{key: key, client: client})
}

// SetWeb sets the Web API client. Polling still requires a non-zero
// WebInterval.
func (s *Scheduler) SetWeb(c WebClient) {
	s.web = c
}

// SetArchiver sets where fetched activity logs are archived.
func (s *Scheduler) SetArchiver(a LogArchiver) {
	s.archiver = a
}

// WebActive reports whether the Web API is polled.
func (s *Scheduler) WebActive() bool {
	return s.web != nil && s.opts.WebInterval > 0
}

// CallbackURL returns the URL registered on bridges.
func (s *Scheduler) CallbackURL() string {
	return fmt.Sprintf("http://%s:%d%s", s.opts.CallbackHost, s.opts.CallbackPort, CallbackPath)
}

// Start resets the status flags and starts one goroutine per bridge and
// one for the Web API.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	if s.web != nil && s.opts.WebInterval > 0 && s.opts.WebInterval < MinWebInterval {
		s.logger.Warn("web api refresh interval raised to minimum",
			"configured", s.opts.WebInterval.String(), "used", MinWebInterval.String())
		s.opts.WebInterval = MinWebInterval
	}
	if len(s.bridges) == 0 && !s.WebActive() {
		return ErrNothingConfigured
	}
	s.started = true

	s.setFlag(ctx, "bridgeApiCallback", false)
	s.setFlag(ctx, "bridgeApiSync", false)
	s.setFlag(ctx, "webApiSync", false)

	s.unsub = s.store.Subscribe("bridges.*", s.handleBridgeChange)

	for _, h := range s.bridges {
		s.wg.Add(1)
		go s.runBridge(h)
	}

	if s.WebActive() {
		s.logger.Info("polling web api", "interval", s.opts.WebInterval.String())
		s.wg.Add(1)
		go s.runWeb()
	} else if s.web != nil {
		s.logger.Info("web api polling deactivated")
	}

	s.logger.Info("scheduler started",
		"bridges", len(s.bridges), "refresh_type", s.opts.RefreshType, "web_api", s.WebActive())
	return nil
}

// Stop cancels timers and waits for the poll loops. HTTP calls already in
// flight are not cancelled; they complete or fail within the client
// timeout and no further calls start.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.cancel()

		s.mu.Lock()
		if s.unsub != nil {
			s.unsub()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.logger.Info("scheduler stopped")
	})
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

var infoMeta = map[string]state.Meta{
	"bridgeApiSync":     {Type: state.TypeBoolean, Role: "indicator", Name: "Bridge API synchronised"},
	"bridgeApiLast":     {Type: state.TypeString, Role: "date", Name: "Last Bridge API update"},
	"bridgeApiCallback": {Type: state.TypeBoolean, Role: "indicator", Name: "Bridge API callback registered"},
	"webApiSync":        {Type: state.TypeBoolean, Role: "indicator", Name: "Web API synchronised"},
	"webApiLast":        {Type: state.TypeString, Role: "date", Name: "Last Web API update"},
}

func (s *Scheduler) setFlag(ctx context.Context, name string, v any) {
	meta := infoMeta[name]
	if err := s.store.Set(ctx, "info."+name, v, &meta); err != nil {
		s.logger.Warn("writing status flag failed", "flag", name, "error", err)
	}
}

func (s *Scheduler) stamp(ctx context.Context, name string) {
	s.setFlag(ctx, name, reconcile.FormatTimestamp(s.now()))
}

// wait sleeps for d unless the scheduler stops first.
func (s *Scheduler) wait(d time.Duration) bool {
	if s.stopped() {
		return false
	}
	if err := s.sleep(s.ctx, d); err != nil {
		return false
	}
	return !s.stopped()
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
