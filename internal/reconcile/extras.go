package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/events"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

// MaxStoredLogs is how many activity log entries are kept per device.
const MaxStoredLogs = 250

// BridgeActions are the writable buttons created on every bridge channel.
var BridgeActions = []string{"clearLog", "firmwareUpdate", "reboot"}

// ApplyBridgeInfo writes a bridge /info response to the bridge channel
// and backfills the bridge vendor ID when it was not configured. It
// returns the bridge as known after the backfill.
func (r *Reconciler) ApplyBridgeInfo(ctx context.Context, b *device.Bridge, info map[string]any) (*device.Bridge, error) {
	p := make(map[string]any, len(info)+3)
	for k, v := range info {
		p[k] = v
	}
	p["name"] = b.Name
	p["ip"] = b.Host
	p["port"] = float64(b.Port)

	if b.ID == "" {
		if ids, ok := p["ids"].(map[string]any); ok {
			if serverID, ok := toUint64(ids["serverId"]); ok {
				id := strconv.FormatUint(serverID, 10)
				r.logger.Info("backfilling bridge ID", "bridge", b.Name, "bridge_id", id)
				if err := r.registry.BackfillBridgeID(ctx, b.Key, id); err != nil {
					return b, fmt.Errorf("backfilling bridge ID: %w", err)
				}
				cpy := *b
				cpy.ID = id
				b = &cpy
			}
		}
	}

	r.set(ctx, b.Path, b.Name, state.Meta{Type: state.TypeChannel, Role: "channel", Name: "Bridge " + b.Name + " (" + b.Host + ")"})
	for _, action := range BridgeActions {
		node := b.Path + ".actions." + action
		if _, ok := r.store.Get(node); !ok {
			r.set(ctx, node, false, state.Meta{Type: state.TypeBoolean, Role: "button", Name: action, Writable: true})
		}
	}

	flat := make(map[string]any)
	flatten(BridgeFields, "", p, flat)
	n := normalise(BridgeFields, flat, func(key string, err error) {
		r.logger.Debug("dropping bridge field", "bridge", b.Name, "field", key, "error", err)
	})

	changed := r.writeIfChanged(ctx, b.Path, n)
	if len(changed) > 0 && r.sink != nil {
		e := events.New(events.TypeBridgeInfo, events.SourceBridge)
		e.Path = b.Path
		e.Details = changed
		if err := r.sink.Publish(ctx, e); err != nil {
			r.logger.Warn("publishing event failed", "type", string(e.Type), "error", err)
		}
	}
	return b, nil
}

// ApplyLogs stores the newest activity log entries of a device as JSON.
func (r *Reconciler) ApplyLogs(ctx context.Context, hexID string, logs []any) error {
	rec, err := r.registry.Resolve(hexID)
	if err != nil {
		return err
	}
	if len(logs) > MaxStoredLogs {
		logs = logs[:MaxStoredLogs]
	}
	b, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("encoding logs: %w", err)
	}
	r.setIfChanged(ctx, rec.Path+".logs", string(b), state.Meta{Type: state.TypeJSON, Role: "history", Name: "Activity log"})
	return nil
}

// ApplyUsers writes the authorizations of a device under
// <path>.users.<slug of user name>.
func (r *Reconciler) ApplyUsers(ctx context.Context, hexID string, users []map[string]any) error {
	rec, err := r.registry.Resolve(hexID)
	if err != nil {
		return err
	}
	base := rec.Path + ".users"
	r.setIfChanged(ctx, base, "Authorized users", state.Meta{Type: state.TypeChannel, Role: "channel", Name: "Authorized users"})

	for _, u := range users {
		name, _ := u["name"].(string)
		if name == "" {
			name = "unknown"
		}
		slug := device.Slugify(name)
		if slug == "" {
			slug = "unknown"
		}
		userPath := base + "." + slug
		r.setIfChanged(ctx, userPath, name, state.Meta{Type: state.TypeChannel, Role: "channel", Name: "User " + name})

		flat := make(map[string]any)
		flatten(UserFields, "", u, flat)
		n := normalise(UserFields, flat, func(key string, err error) {
			r.logger.Debug("dropping user field", "path", userPath, "field", key, "error", err)
		})
		r.writeIfChanged(ctx, userPath, n)
	}
	return nil
}

// ApplyNotifications writes the account notification settings under
// info.notifications.<notification ID>.
func (r *Reconciler) ApplyNotifications(ctx context.Context, list []map[string]any) error {
	base := "info.notifications"
	r.setIfChanged(ctx, base, "Notifications", state.Meta{Type: state.TypeChannel, Role: "channel", Name: "Notifications"})

	for i, item := range list {
		key := device.Slugify(fmt.Sprint(item["notificationId"]))
		if _, ok := item["notificationId"]; !ok || key == "" {
			key = strconv.Itoa(i)
		}
		flat := make(map[string]any)
		flatten(NotificationFields, "", item, flat)
		n := normalise(NotificationFields, flat, func(field string, err error) {
			r.logger.Debug("dropping notification field", "field", field, "error", err)
		})
		r.writeIfChanged(ctx, base+"."+key, n)
	}
	return nil
}

func (r *Reconciler) writeIfChanged(ctx context.Context, base string, n normalised) map[string]any {
	changed := make(map[string]any)
	for target, v := range n.values {
		if r.setIfChanged(ctx, base+"."+target, v, n.metas[target]) {
			changed[target] = v
		}
	}
	return changed
}
