package device

import (
	"math"
	"reflect"
	"time"

	"github.com/nerrad567/nuki-gateway/internal/nuki"
)

// Fragment is a flat set of dotted field paths (relative to the device
// channel) and their normalised values, e.g. "state.lockState" → 1.
type Fragment map[string]any

// Record is the registry entry for one physical device.
//
// Path is fixed at first discovery and never changes, even if the vendor
// name is later edited.
type Record struct {
	Identity    nuki.Identity `json:"identity"`
	DeviceType  int           `json:"device_type"`
	Kind        nuki.Kind     `json:"kind"`
	Name        string        `json:"name"`
	Path        string        `json:"path"`
	SmartlockID uint64        `json:"smartlock_id"`

	// BridgeID is the vendor ID of the bridge the device is paired with.
	// Empty for web-only devices.
	BridgeID string `json:"bridge_id,omitempty"`

	// LockState is the last lock state value seen, used for edge detection.
	LockState *int `json:"lock_state,omitempty"`

	Config               map[string]any `json:"config,omitempty"`
	AdvancedConfig       map[string]any `json:"advanced_config,omitempty"`
	OpenerAdvancedConfig map[string]any `json:"opener_advanced_config,omitempty"`

	Fields          Fragment   `json:"fields"`
	LastStateChange *time.Time `json:"last_state_change,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HexID is shorthand for r.Identity.HexID.
func (r *Record) HexID() string { return r.Identity.HexID }

// HasBridge reports whether the device is reachable through a bridge.
func (r *Record) HasBridge() bool { return r.BridgeID != "" }

// DeepCopy returns an independent copy of the record.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}
	cpy := *r
	cpy.Config = deepCopyMap(r.Config)
	cpy.AdvancedConfig = deepCopyMap(r.AdvancedConfig)
	cpy.OpenerAdvancedConfig = deepCopyMap(r.OpenerAdvancedConfig)
	cpy.Fields = Fragment(deepCopyMap(r.Fields))
	if r.LockState != nil {
		v := *r.LockState
		cpy.LockState = &v
	}
	return &cpy
}

// Patch is an additive update to a record. Nil and empty members are
// left untouched.
//
// With LockState set, LastStateChange is recorded only when the lock state
// differs from the stored one, and StateChangeField (when not empty) then
// receives that time as epoch milliseconds.
type Patch struct {
	Fields               Fragment
	BridgeID             string
	LockState            *int
	Config               map[string]any
	AdvancedConfig       map[string]any
	OpenerAdvancedConfig map[string]any
	LastStateChange      *time.Time
	StateChangeField     string
}

// Callback is a callback URL registered on a bridge.
type Callback struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// Bridge is the registry entry for one local bridge.
type Bridge struct {
	// Key is host:port and identifies a configured bridge before its
	// vendor ID is known.
	Key         string     `json:"key"`
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Host        string     `json:"host"`
	Port        int        `json:"port"`
	Token       string     `json:"-"`
	HashedToken bool       `json:"hashed_token"`
	Path        string     `json:"path"`
	Callbacks   []Callback `json:"callbacks,omitempty"`
}

func (b *Bridge) clone() *Bridge {
	cpy := *b
	if b.Callbacks != nil {
		cpy.Callbacks = append([]Callback(nil), b.Callbacks...)
	}
	return &cpy
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}

// ValuesEqual compares two field values, treating all numeric types by
// value so that a decoded JSON float64 equals a derived int.
func ValuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
