package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/nuki-gateway/internal/events"
	"github.com/nerrad567/nuki-gateway/internal/infrastructure/config"
)

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "nuki"}

	if got := topics.State("smartlocks.front_door.state.locked"); got != "nuki/state/smartlocks/front_door/state/locked" {
		t.Errorf("State() = %q", got)
	}
	if got := topics.Set("openers.gate._ACTION"); got != "nuki/set/openers/gate/_ACTION" {
		t.Errorf("Set() = %q", got)
	}
	if got := topics.AllSets(); got != "nuki/set/#" {
		t.Errorf("AllSets() = %q", got)
	}
	if got := topics.SystemStatus(); got != "nuki/system/status" {
		t.Errorf("SystemStatus() = %q", got)
	}
	if got := topics.Event("action_result"); got != "nuki/events/action_result" {
		t.Errorf("Event() = %q", got)
	}
}

func TestPathFromSet(t *testing.T) {
	topics := Topics{Prefix: "nuki"}

	tests := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"nuki/set/smartlocks/front_door/_ACTION", "smartlocks.front_door._ACTION", true},
		{"nuki/set/", "", false},
		{"nuki/state/smartlocks/front_door", "", false},
		{"other/set/a", "", false},
	}
	for _, tt := range tests {
		got, ok := topics.PathFromSet(tt.topic)
		if got != tt.want || ok != tt.ok {
			t.Errorf("PathFromSet(%q) = %q, %v", tt.topic, got, ok)
		}
	}

	// round trip
	path := "bridges.hall.callbacks.0._delete"
	if got, ok := topics.PathFromSet(topics.Set(path)); !ok || got != path {
		t.Errorf("round trip gave %q", got)
	}
}

func TestStatusPayload(t *testing.T) {
	var got map[string]string
	if err := json.Unmarshal([]byte(statusPayload("offline", "gw-1", "graceful_shutdown")), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["status"] != "offline" || got["client_id"] != "gw-1" || got["reason"] != "graceful_shutdown" || got["timestamp"] == "" {
		t.Errorf("payload = %v", got)
	}

	if err := json.Unmarshal([]byte(statusPayload("online", "gw-1", "")), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true, ClientID: "gw"},
		Auth:   config.MQTTAuthConfig{Username: "u", Password: "p"},
	}
	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "gw" || opts.Username != "u" || opts.TLSConfig == nil {
		t.Errorf("options = %+v", opts)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if c.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
	if err := c.Publish("a", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() err = %v", err)
	}
	if err := c.Publish("", nil, 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty) err = %v", err)
	}
	if err := c.Publish("a", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) err = %v", err)
	}
	if err := c.Subscribe("a", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) err = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() err = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() err = %v", err)
	}
}

func TestGatewayAdapters_Disconnected(t *testing.T) {
	c := &Client{topics: Topics{Prefix: "nuki"}, subscriptions: make(map[string]subscription)}

	if err := c.StateBroker().PublishState("smartlocks.front_door.state.locked", []byte(`{"val":true}`)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishState() err = %v", err)
	}
	if err := c.StateBroker().SubscribeCommands(func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SubscribeCommands() err = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d", c.SubscriptionCount())
	}
	if err := c.PublishEvent(context.Background(), events.New(events.TypeActionResult, events.SourceUser)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishEvent() err = %v", err)
	}
}
