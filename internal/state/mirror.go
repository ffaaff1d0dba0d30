package state

import (
	"context"
	"encoding/json"
	"sync"
)

const mirrorQueueSize = 1024

// Broker is the message transport the Mirror publishes to.
type Broker interface {
	// PublishState publishes a retained node payload for a path. An empty
	// payload clears the retained message.
	PublishState(path string, payload []byte) error

	// SubscribeCommands delivers command messages addressed to a path.
	SubscribeCommands(handler func(path string, payload []byte) error) error
}

// Mirror publishes every change of a Store to a Broker and feeds broker
// commands back into the Store as unacknowledged writes.
type Mirror struct {
	store  Store
	broker Broker
	logger Logger

	queue       chan Change
	unsubscribe func()
	done        chan struct{}
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// NewMirror creates a mirror. Call Start to begin.
func NewMirror(store Store, broker Broker, logger Logger) *Mirror {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Mirror{
		store:  store,
		broker: broker,
		logger: logger,
		queue:  make(chan Change, mirrorQueueSize),
		done:   make(chan struct{}),
	}
}

// wirePayload is the JSON published for a node.
type wirePayload struct {
	Val any   `json:"val"`
	Ack bool  `json:"ack"`
	TS  int64 `json:"ts"`
}

// Start subscribes to commands and begins publishing changes.
func (m *Mirror) Start(ctx context.Context) error {
	if err := m.broker.SubscribeCommands(func(path string, payload []byte) error {
		return m.store.Command(ctx, path, decodeCommand(payload))
	}); err != nil {
		return err
	}

	m.unsubscribe = m.store.Subscribe("*", func(_ context.Context, c Change) {
		select {
		case m.queue <- c:
		default:
			m.logger.Warn("mqtt mirror queue full, dropping change", "path", c.Path)
		}
	})

	m.wg.Add(1)
	go m.run()
	return nil
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case c := <-m.queue:
			m.publish(c)
		}
	}
}

func (m *Mirror) publish(c Change) {
	var payload []byte
	if !c.Deleted {
		var err error
		payload, err = json.Marshal(wirePayload{Val: c.Val, Ack: c.Ack, TS: c.Time.UnixMilli()})
		if err != nil {
			m.logger.Error("encoding state for mqtt failed", "path", c.Path, "error", err)
			return
		}
	}
	if err := m.broker.PublishState(c.Path, payload); err != nil {
		m.logger.Debug("publishing state failed", "path", c.Path, "error", err)
	}
}

// Stop unsubscribes from the store and waits for the publisher to exit.
// Changes still queued are dropped.
func (m *Mirror) Stop() {
	m.stopOnce.Do(func() {
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		close(m.done)
		m.wg.Wait()
	})
}

// decodeCommand accepts a bare JSON value, a {"val": ...} object, or a
// raw string.
func decodeCommand(payload []byte) any {
	var wrapped struct {
		Val *json.RawMessage `json:"val"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.Val != nil {
		payload = *wrapped.Val
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return string(payload)
	}
	return v
}
