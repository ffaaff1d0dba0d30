package dispatch

import (
	"context"
	"errors"
	"maps"
	"strings"

	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/nuki"
	"github.com/nerrad567/nuki-gateway/internal/reconcile"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

const actionSegment = "._ACTION"

var deviceKinds = []nuki.Kind{nuki.KindSmartLock, nuki.KindBox, nuki.KindOpener, nuki.KindSmartDoor}

// Attach subscribes the dispatcher to user writes below every device
// channel. The returned function unsubscribes.
func (d *Dispatcher) Attach(store state.Store) func() {
	unsubs := make([]func(), 0, len(deviceKinds))
	for _, k := range deviceKinds {
		unsubs = append(unsubs, store.Subscribe(k.Plural()+".*", d.HandleChange))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Submit dispatches a request in the background and returns its ID.
func (d *Dispatcher) Submit(req Request) string {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Dispatch(d.ctx, req)
	}()
	return req.ID
}

// HandleChange reacts to unacknowledged writes on device nodes:
// "<device>._ACTION" (action code), "<device>._ACTION.<BUTTON>" (true) and
// nodes inside the configuration blocks.
func (d *Dispatcher) HandleChange(ctx context.Context, c state.Change) {
	if c.Ack || c.Deleted {
		return
	}
	devicePath, relative, ok := splitDevicePath(c.Path)
	if !ok {
		return
	}
	rec, err := d.registry.ByPath(devicePath)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			d.logger.Debug("write below unknown device", "path", c.Path)
			return
		}
		d.logger.Warn("resolving device failed", "path", c.Path, "error", err)
		return
	}

	if relative == actionSegment[1:] || strings.HasPrefix(relative, actionSegment[1:]+".") {
		d.handleAction(ctx, rec, relative, c.Val)
		return
	}
	d.handleConfig(ctx, rec, relative, c)
}

func (d *Dispatcher) handleAction(ctx context.Context, rec *device.Record, relative string, val any) {
	var action int
	if button, ok := strings.CutPrefix(relative, actionSegment[1:]+"."); ok {
		if b, isBool := val.(bool); !isBool || !b {
			return
		}
		code, err := nuki.ActionByButton(rec.Kind, button)
		if err != nil {
			d.logger.Warn("unknown action button", "device", rec.Name, "button", button)
			d.reset(ctx, rec.Path, rec.Kind)
			return
		}
		action = code
	} else {
		code, ok := toInt(val)
		if !ok || code <= nuki.ActionNone {
			return
		}
		if _, err := nuki.ActionName(rec.Kind, code); err != nil && rec.Kind.Actions() != nil {
			d.logger.Warn("unknown action code", "device", rec.Name, "action", code)
			d.reset(ctx, rec.Path, rec.Kind)
			return
		}
		action = code
	}

	req := NewRequest(rec, action)
	req.Preferred = d.Preferred()
	d.Submit(req)
}

func (d *Dispatcher) handleConfig(ctx context.Context, rec *device.Record, relative string, c state.Change) {
	block, key, ok := reconcile.ConfigBlock(relative)
	if !ok {
		if d.opts.Web == nil && c.Meta.Writable {
			d.logger.Info("Web API needs to be configured to change configuration", "path", c.Path)
		}
		return
	}
	if d.opts.Web == nil {
		d.logger.Info("Web API needs to be configured to change configuration", "path", c.Path)
		return
	}

	// Acknowledge the user value; the next Web API poll confirms it.
	if err := d.store.Set(ctx, c.Path, c.Val, nil); err != nil {
		d.logger.Warn("acknowledging configuration write failed", "path", c.Path, "error", err)
	}

	var current map[string]any
	var send func(context.Context, uint64, map[string]any) error
	switch block {
	case "config":
		current, send = rec.Config, d.opts.Web.SetConfig
	case "advancedConfig":
		current, send = rec.AdvancedConfig, d.opts.Web.SetAdvancedConfig
	case "openerAdvancedConfig":
		current, send = rec.OpenerAdvancedConfig, d.opts.Web.SetOpenerAdvancedConfig
	default:
		return
	}
	merged := make(map[string]any, len(current)+1)
	maps.Copy(merged, current)
	merged[key] = c.Val

	req := NewRequest(rec, nuki.ActionNone)
	ctx = context.WithoutCancel(d.ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := send(ctx, req.SmartlockID, merged); err != nil {
			d.logger.Warn("setting configuration failed", "device", rec.Name, "block", block, "key", key, "error", err)
			return
		}
		d.logger.Info("configuration set", "device", rec.Name, "block", block, "key", key, "value", c.Val)

		patch := device.Patch{}
		switch block {
		case "config":
			patch.Config = map[string]any{key: c.Val}
		case "advancedConfig":
			patch.AdvancedConfig = map[string]any{key: c.Val}
		case "openerAdvancedConfig":
			patch.OpenerAdvancedConfig = map[string]any{key: c.Val}
		}
		if _, err := d.registry.Merge(ctx, rec.HexID(), patch); err != nil {
			d.logger.Warn("recording configuration failed", "device", rec.Name, "error", err)
		}
		if d.refresh != nil {
			d.refresh(d.opts.RefreshDelay)
		}
	}()
}

// splitDevicePath splits "<plural>.<slug>.<rest>" into the device channel
// path and the rest.
func splitDevicePath(p string) (devicePath, relative string, ok bool) {
	first := strings.IndexByte(p, '.')
	if first < 0 {
		return "", "", false
	}
	second := strings.IndexByte(p[first+1:], '.')
	if second < 0 {
		return "", "", false
	}
	cut := first + 1 + second
	return p[:cut], p[cut+1:], true
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
