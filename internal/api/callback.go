package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/nuki-gateway/internal/infrastructure/logging"
)

// CallbackPath is the route bridges post state changes to.
const CallbackPath = "/nuki-api-bridge"

// CallbackHandler ingests a decoded callback body.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, body map[string]any) error
}

// CallbackServer is the listener bridges push state changes to. One
// server serves every configured bridge.
type CallbackServer struct {
	port    int
	handler CallbackHandler
	logger  *logging.Logger
	server  *http.Server
}

// NewCallbackServer creates a callback listener on port (all interfaces).
func NewCallbackServer(port int, handler CallbackHandler, logger *logging.Logger) *CallbackServer {
	return &CallbackServer{port: port, handler: handler, logger: logger}
}

// Handler returns the callback router.
func (c *CallbackServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post(CallbackPath, c.handleCallback)
	return r
}

// Start begins listening.
func (c *CallbackServer) Start(_ context.Context) error {
	c.server = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(c.port)),
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", c.server.Addr)
	if err != nil {
		return fmt.Errorf("listening for callbacks on %s: %w", c.server.Addr, err)
	}
	c.logger.Info("listening for bridge callbacks", "port", c.port, "path", CallbackPath)

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("callback server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the listener.
func (c *CallbackServer) Close() error {
	if c.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := c.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down callback server: %w", err)
	}
	return nil
}

// handleCallback answers 200 once the body is decoded, even when the
// payload cannot be applied, and 500 for an unreadable body.
func (c *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	body, err := decodeCallback(r)
	if err != nil {
		c.logger.Warn("invalid callback body", "remote", r.RemoteAddr, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if err := c.handler.HandleCallback(r.Context(), body); err != nil {
		c.logger.Debug("callback not applied", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

// decodeCallback reads a JSON or form encoded body into a map. Form values
// are typed: numbers become float64 and "true"/"false" become bool, which
// matches what JSON decoding produces.
func decodeCallback(r *http.Request) (map[string]any, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")) //nolint:errcheck // empty type falls through to JSON

	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parsing form: %w", err)
		}
		if len(r.PostForm) == 0 {
			return nil, errors.New("empty form")
		}
		body := make(map[string]any, len(r.PostForm))
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				body[k] = formValue(vs[0])
			}
		}
		return body, nil
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}
	if body == nil {
		return nil, errors.New("empty JSON body")
	}
	return body, nil
}

func formValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return v
}
