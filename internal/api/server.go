package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/dispatch"
	"github.com/nerrad567/nuki-gateway/internal/events"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/config"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ActionSubmitter queues a device action.
type ActionSubmitter interface {
	Submit(req dispatch.Request) string
	Preferred() dispatch.Transport
}

// ConnectionChecker reports broker connectivity for /metrics.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Registry   *device.Registry
	Store      state.Store
	Dispatcher ActionSubmitter
	Events     events.Repository // optional
	MQTT       ConnectionChecker // optional
	DB         *sql.DB           // optional
	Version    string
}

// Server is the REST API and WebSocket server.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	registry   *device.Registry
	store      state.Store
	dispatcher ActionSubmitter
	events     events.Repository
	mqtt       ConnectionChecker
	db         *sql.DB
	version    string
	startTime  time.Time

	hub         *Hub
	server      *http.Server
	cancel      context.CancelFunc
	unsubscribe func()
}

// New creates an API server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		registry:   deps.Registry,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		events:     deps.Events,
		mqtt:       deps.MQTT,
		db:         deps.DB,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.WS, deps.Logger),
	}, nil
}

// Hub returns the WebSocket hub. It is an events.Sink so gateway events
// reach subscribed clients.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start relays state changes to the hub and begins listening.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.unsubscribe = s.store.Subscribe("*", s.relayChange)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.unsubscribe()
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// relayChange forwards a state change to WebSocket clients.
func (s *Server) relayChange(_ context.Context, c state.Change) {
	s.hub.Broadcast(ChannelState, c.Path, stateMessage{
		Path:    c.Path,
		Val:     c.Val,
		Ack:     c.Ack,
		TS:      c.Time.UnixMilli(),
		Deleted: c.Deleted,
	})
}
