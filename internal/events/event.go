package events

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies an event.
type Type string

const (
	TypeDeviceDiscovered Type = "device_discovered"
	TypeStateUpdate      Type = "state_update"
	TypeActionResult     Type = "action_result"
	TypeBridgeInfo       Type = "bridge_info"
)

// Source names where the data behind an event came from.
const (
	SourceBridge   = "bridge"
	SourceWeb      = "web"
	SourceCallback = "callback"
	SourceUser     = "user"
)

// Event is one observable thing that happened in the gateway.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	DeviceHex string         `json:"device_hex,omitempty"`
	Path      string         `json:"path,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// New creates an event with a fresh ID and the current time.
func New(t Type, source string) Event {
	return Event{
		ID:        "evt-" + uuid.NewString(),
		Type:      t,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}
