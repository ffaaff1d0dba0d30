package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/nuki-gateway/internal/events"
)

// StateBroker adapts the client to the state mirror: nodes are published
// retained under <prefix>/state/... and commands arrive on <prefix>/set/#.
type StateBroker struct {
	c *Client
}

// StateBroker returns the state mirror adapter for this client.
func (c *Client) StateBroker() *StateBroker {
	return &StateBroker{c: c}
}

// PublishState publishes a retained node payload. An empty payload clears
// the retained message.
func (b *StateBroker) PublishState(path string, payload []byte) error {
	return b.c.PublishRetained(b.c.topics.State(path), payload)
}

// SubscribeCommands delivers messages on the set hierarchy by state path.
func (b *StateBroker) SubscribeCommands(handler func(path string, payload []byte) error) error {
	topics := b.c.topics
	return b.c.Subscribe(topics.AllSets(), byte(b.c.cfg.QoS), func(topic string, payload []byte) error { //nolint:gosec // QoS validated in config
		path, ok := topics.PathFromSet(topic)
		if !ok {
			return nil
		}
		return handler(path, payload)
	})
}

// PublishEvent is an events.SinkFunc publishing each event, not retained,
// under <prefix>/events/<type>.
func (c *Client) PublishEvent(_ context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", e.ID, err)
	}
	return c.Publish(c.topics.Event(string(e.Type)), payload, byte(c.cfg.QoS), false) //nolint:gosec // QoS validated in config
}
