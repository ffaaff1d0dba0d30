package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/nuki-gateway/internal/events"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/config"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

// Frame types exchanged with WebSocket clients.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameSnapshot    = "snapshot"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameState       = "state"
	FrameEvent       = "event"
	FrameAck         = "ack"
	FrameError       = "error"

	clientQueueSize = 256
)

// Broadcast channels.
const (
	// ChannelState carries every state tree change.
	ChannelState = "state"
	// ChannelEvents carries gateway events.
	ChannelEvents = "events"
)

// Frame is one WebSocket message in either direction.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	TS      int64           `json:"ts,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// subscribeRequest is the data of subscribe, unsubscribe and snapshot
// frames. Paths are state path patterns; none means every path.
type subscribeRequest struct {
	Channels []string `json:"channels"`
	Paths    []string `json:"paths"`
}

// stateMessage is the data of a ChannelState frame.
type stateMessage struct {
	Path    string `json:"path"`
	Val     any    `json:"val"`
	Ack     bool   `json:"ack"`
	TS      int64  `json:"ts"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Hub fans state changes and gateway events out to connected clients.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// wsClient is one connection. filters maps a channel to the path
// patterns the client asked for; an empty slice accepts every path.
type wsClient struct {
	hub      *Hub
	conn     *websocket.Conn
	queue    chan []byte
	snapshot func(pattern string) []state.Value

	mu      sync.RWMutex
	filters map[string][]string
	closed  bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

func newWSClient(h *Hub, conn *websocket.Conn, snapshot func(string) []state.Value) *wsClient {
	return &wsClient{
		hub:      h,
		conn:     conn,
		queue:    make(chan []byte, clientQueueSize),
		snapshot: snapshot,
		filters:  make(map[string][]string),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.shutdown()
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Broadcast sends data to every client subscribed to channel whose path
// filter accepts p. An empty p passes every filter.
func (h *Hub) Broadcast(channel, p string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("encoding websocket broadcast", "channel", channel, "error", err)
		return
	}
	typ := FrameEvent
	if channel == ChannelState {
		typ = FrameState
	}
	msg, err := json.Marshal(Frame{Type: typ, Channel: channel, TS: time.Now().UnixMilli(), Data: raw})
	if err != nil {
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.wants(channel, p) {
			c.enqueue(msg)
		}
	}
}

// Publish implements events.Sink by broadcasting on ChannelEvents. The
// event's state path is matched against path filters.
func (h *Hub) Publish(_ context.Context, e events.Event) error {
	h.Broadcast(ChannelEvents, e.Path, e)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades the connection. Authentication already ran in
// the middleware chain. Initial subscriptions may be passed as repeated
// channel and path query parameters.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn, s.snapshot)
	q := r.URL.Query()
	c.subscribe(q["channel"], q["path"])
	s.hub.add(c)

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

// snapshot returns the current values matching pattern, sorted by path.
func (s *Server) snapshot(pattern string) []state.Value {
	var out []state.Value
	for _, v := range s.store.List("") {
		if state.Match(pattern, v.Path) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (c *wsClient) subscribe(channels, paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		c.filters[ch] = append(c.filters[ch], paths...)
	}
}

func (c *wsClient) unsubscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		delete(c.filters, ch)
	}
}

func (c *wsClient) wants(channel, p string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	patterns, ok := c.filters[channel]
	if !ok {
		return false
	}
	if len(patterns) == 0 || p == "" {
		return true
	}
	for _, pat := range patterns {
		if state.Match(pat, p) {
			return true
		}
	}
	return false
}

// enqueue drops the message when the client is gone or too slow.
func (c *wsClient) enqueue(msg []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- msg:
	default:
	}
}

func (c *wsClient) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()
}

func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(wait)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers rarely answer protocol pings; any frame counts.
		_ = extend()
		c.handle(data)
	}
}

func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	deadline := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case msg, ok := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(deadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(deadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle processes one inbound frame.
func (c *wsClient) handle(data []byte) {
	var in Frame
	if err := json.Unmarshal(data, &in); err != nil {
		c.reply("", FrameError, map[string]string{"message": "invalid JSON frame"})
		return
	}

	var req subscribeRequest
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.reply(in.ID, FrameError, map[string]string{"message": "invalid " + in.Type + " data"})
			return
		}
	}

	switch in.Type {
	case FrameSubscribe:
		c.subscribe(req.Channels, req.Paths)
		c.reply(in.ID, FrameAck, map[string]any{"subscribed": req.Channels, "paths": req.Paths})
	case FrameUnsubscribe:
		c.unsubscribe(req.Channels)
		c.reply(in.ID, FrameAck, map[string]any{"unsubscribed": req.Channels})
	case FrameSnapshot:
		c.replySnapshot(in.ID, req.Paths)
	case FramePing:
		c.reply(in.ID, FramePong, nil)
	default:
		c.reply(in.ID, FrameError, map[string]string{"message": "unknown frame type: " + in.Type})
	}
}

func (c *wsClient) replySnapshot(id string, patterns []string) {
	if c.snapshot == nil {
		c.reply(id, FrameError, map[string]string{"message": "snapshot unavailable"})
		return
	}
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	seen := make(map[string]struct{})
	out := make([]stateMessage, 0)
	for _, pat := range patterns {
		for _, v := range c.snapshot(pat) {
			if _, dup := seen[v.Path]; dup {
				continue
			}
			seen[v.Path] = struct{}{}
			out = append(out, stateMessage{Path: v.Path, Val: v.Val, Ack: v.Ack, TS: v.Time.UnixMilli()})
		}
	}
	c.reply(id, FrameSnapshot, out)
}

func (c *wsClient) reply(id, typ string, data any) {
	f := Frame{Type: typ, ID: id, TS: time.Now().UnixMilli()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return
		}
		f.Data = raw
	}
	msg, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.enqueue(msg)
}
