package influxdb

import (
	"context"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/nuki-gateway/internal/events"
)

const (
	measurementLockState  = "lock_state"
	measurementLockAction = "lock_action"
)

// telemetryFields maps device fields to point fields. Anything else in a
// state update is not time-series data.
var telemetryFields = map[string]string{
	"state.lockState":                 "lock_state",
	"state.locked":                    "locked",
	"state.doorState":                 "door_state",
	"state.closed":                    "closed",
	"state.mode":                      "mode",
	"state.batteryCritical":           "battery_critical",
	"state.batteryCharging":           "battery_charging",
	"state.batteryChargeState":        "battery_charge",
	"state.keypadBatteryCritical":     "keypad_battery_critical",
	"state.doorsensorBatteryCritical": "doorsensor_battery_critical",
	"state.ringState":                 "ring_state",
}

// Publish implements events.Sink. Events without telemetry are ignored.
func (c *Client) Publish(_ context.Context, e events.Event) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if p := pointFromEvent(e); p != nil {
		c.writer.WritePoint(p)
	}
	return nil
}

func pointFromEvent(e events.Event) *write.Point {
	tags := map[string]string{
		"device_hex": e.DeviceHex,
		"kind":       e.Kind,
		"path":       e.Path,
		"source":     e.Source,
	}

	switch e.Type {
	case events.TypeStateUpdate:
		fields := make(map[string]any)
		for key, name := range telemetryFields {
			if v, ok := e.Details[key]; ok && v != nil {
				fields[name] = v
			}
		}
		if len(fields) == 0 {
			return nil
		}
		return write.NewPoint(measurementLockState, tags, fields, e.CreatedAt)

	case events.TypeActionResult:
		if t, ok := e.Details["transport"].(string); ok {
			tags["transport"] = t
		}
		fields := map[string]any{}
		for _, k := range []string{"action", "attempts", "status"} {
			if v, ok := e.Details[k]; ok {
				fields[k] = v
			}
		}
		fields["succeeded"] = e.Details["status"] == "succeeded"
		return write.NewPoint(measurementLockAction, tags, fields, e.CreatedAt)
	}
	return nil
}
