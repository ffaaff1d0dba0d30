package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/events"
	"github.com/nerrad567/nuki-gateway/internal/nuki"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

// Logger is the logging interface used by the Reconciler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options describes which sources are configured.
type Options struct {
	// BridgeAPI is true when at least one bridge is configured. Its
	// lock state and mode then win over the Web API.
	BridgeAPI bool
	// WebAPI is true when Web API polling is active.
	WebAPI bool
	// SyncConfig lets Web API configuration blocks through.
	SyncConfig bool
}

// Reconciler applies payloads to the registry and the state store.
type Reconciler struct {
	registry *device.Registry
	store    state.Store
	sink     events.Sink
	opts     Options
	logger   Logger
	now      func() time.Time
}

// New creates a reconciler.
func New(registry *device.Registry, store state.Store, opts Options) *Reconciler {
	return &Reconciler{
		registry: registry,
		store:    store,
		opts:     opts,
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger.
func (r *Reconciler) SetLogger(l Logger) {
	r.logger = l
}

// SetSink sets where discovery and state-update events go.
func (r *Reconciler) SetSink(s events.Sink) {
	r.sink = s
}

// ApplyBridgeDevice applies one element of a bridge /list response.
// bridgeRef is the bridge vendor ID, or its key while the ID is unknown.
func (r *Reconciler) ApplyBridgeDevice(ctx context.Context, bridgeRef string, raw map[string]any) error {
	p := copyPayload(raw)
	if st, ok := p["lastKnownState"]; ok {
		p["state"] = st
		delete(p, "lastKnownState")
	}
	if _, ok := p["deviceType"]; !ok {
		p["deviceType"] = float64(nuki.DeviceTypeSmartLock)
	}
	if bridgeRef != "" {
		p["bridge"] = bridgeRef
	}
	stripConfig(p)
	return r.apply(ctx, events.SourceBridge, p)
}

// ApplyWebSmartlock applies one element of a Web API /smartlock response.
func (r *Reconciler) ApplyWebSmartlock(ctx context.Context, raw map[string]any) error {
	p := copyPayload(raw)
	id, ok := toUint64(p["smartlockId"])
	if !ok {
		r.logger.Debug("dropping web payload without smartlockId")
		return nil
	}
	p["nukiHexId"] = nuki.HexFromSmartlockID(id)
	if t, ok := p["type"]; ok {
		p["deviceType"] = t
	}
	st, _ := p["state"].(map[string]any)
	if st != nil {
		st["timestamp"] = FormatTimestamp(r.now())
	}

	if r.opts.BridgeAPI {
		delete(p, "type")
		if st != nil {
			delete(st, "state")
			delete(st, "mode")
		}
	}
	if !r.opts.SyncConfig {
		stripConfig(p)
	}
	return r.apply(ctx, events.SourceWeb, p)
}

// ApplyCallback applies a bridge callback body. The body becomes the
// device state, stamped with the time of arrival.
func (r *Reconciler) ApplyCallback(ctx context.Context, body map[string]any) error {
	st := copyPayload(body)
	delete(st, "nukiId")
	delete(st, "deviceType")
	st["timestamp"] = FormatTimestamp(r.now())

	p := map[string]any{"state": st}
	if id, ok := body["nukiId"]; ok {
		p["nukiId"] = id
	}
	return r.apply(ctx, events.SourceCallback, p)
}

func (r *Reconciler) apply(ctx context.Context, source string, p map[string]any) error {
	id, err := payloadIdentity(p)
	if err != nil {
		r.logger.Debug("dropping payload without usable identity", "source", source, "error", err)
		return nil
	}
	p["nukiId"] = float64(id.NumericID)
	p["nukiHexId"] = id.HexID

	var deviceType *int
	if v, ok := toInt(p["deviceType"]); ok {
		deviceType = &v
	}
	name, _ := p["name"].(string)

	rec, created, err := r.registry.CreateOrGet(ctx, id, deviceType, name)
	switch {
	case errors.Is(err, device.ErrIncompleteDiscovery):
		r.logger.Debug("dropping payload for unknown device without name or type", "source", source, "hex_id", id.HexID)
		return nil
	case errors.Is(err, nuki.ErrUnknownKind):
		r.logger.Warn("ignoring device of unknown type", "source", source, "hex_id", id.HexID, "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("resolving device %s: %w", id.HexID, err)
	}
	if created {
		r.createDeviceNodes(ctx, rec)
		r.emit(ctx, rec, events.TypeDeviceDiscovered, source, map[string]any{"name": rec.Name, "device_type": rec.DeviceType})
	}

	patch := device.Patch{}
	var derived []derivedField

	if st, ok := p["state"].(map[string]any); ok {
		derived = r.applyStateRules(rec, p, st, &patch)
	}
	if ref, ok := p["bridge"]; ok {
		patch.BridgeID = fmt.Sprint(ref)
	}
	patch.Config = blockOf(p, "config")
	patch.AdvancedConfig = blockOf(p, "advancedConfig")
	patch.OpenerAdvancedConfig = blockOf(p, "openerAdvancedConfig")

	flat := make(map[string]any)
	flatten(DeviceFields, "", p, flat)
	n := normalise(DeviceFields, flat, func(key string, err error) {
		r.logger.Debug("dropping field", "path", rec.Path, "field", key, "error", err)
	})
	for _, d := range derived {
		n.set(d.target, d.value, DeviceFields[d.target])
	}
	patch.Fields = n.values
	if patch.StateChangeField != "" {
		n.metas[patch.StateChangeField] = DeviceFields[patch.StateChangeField].meta(patch.StateChangeField)
	}

	applied, err := r.registry.Merge(ctx, id.HexID, patch)
	if err != nil {
		return fmt.Errorf("merging device %s: %w", id.HexID, err)
	}
	if len(applied) == 0 {
		return nil
	}

	r.writeFields(ctx, rec.Path, applied, n.metas)
	r.emit(ctx, rec, events.TypeStateUpdate, source, applied)
	return nil
}

// stateChangeField records when the lock state last changed.
const stateChangeField = "state.lastStateUpdate"

type derivedField struct {
	target string
	value  any
}

// applyStateRules runs the lock-state inference on the state block in
// place and records edge-triggered changes on the patch.
func (r *Reconciler) applyStateRules(rec *device.Record, p, st map[string]any, patch *device.Patch) []derivedField {
	var derived []derivedField

	lockState, hasLock := toInt(st["state"])
	if hasLock && rec.Kind == nuki.KindOpener && lockState == nuki.OpenerStateOnline && payloadMode(p, st) == nuki.ModeContinuous {
		lockState = nuki.OpenerStateRingToOpen
		st["state"] = float64(lockState)
	}

	if hasLock {
		if rec.Kind.IsLockFamily() {
			st["locked"] = float64(lockState)
		}
		if name := lockStateName(rec.Kind, lockState); name != "" {
			derived = append(derived, derivedField{target: "state.lockStateName", value: name})
		}
		now := r.now()
		patch.LockState = &lockState
		patch.LastStateChange = &now
		patch.StateChangeField = stateChangeField
	}

	door, hasDoor := toInt(st["doorsensorState"])
	if !hasDoor {
		door, hasDoor = toInt(st["doorState"])
	}
	if hasDoor && rec.Kind.IsLockFamily() {
		st["closed"] = float64(door)
		if name, ok := nuki.DoorStates[door]; ok {
			derived = append(derived, derivedField{target: "state.doorStateName", value: name})
		}
	}
	return derived
}

func lockStateName(k nuki.Kind, lockState int) string {
	if k == nuki.KindOpener {
		return nuki.OpenerStates[lockState]
	}
	return nuki.LockStates[lockState]
}

func payloadMode(p, st map[string]any) int {
	if m, ok := toInt(st["mode"]); ok {
		return m
	}
	m, _ := toInt(p["mode"])
	return m
}

func payloadIdentity(p map[string]any) (nuki.Identity, error) {
	var numeric *uint32
	if raw, ok := p["nukiId"]; ok && raw != nil {
		n, ok := toUint64(raw)
		if !ok || n > uint64(^uint32(0)) {
			return nuki.Identity{}, fmt.Errorf("%w: nukiId %v", nuki.ErrMissingIdentity, raw)
		}
		v := uint32(n)
		numeric = &v
	}
	hex, _ := p["nukiHexId"].(string)
	return nuki.ResolveIdentity(numeric, hex)
}

// createDeviceNodes writes the device channel and its action controls.
func (r *Reconciler) createDeviceNodes(ctx context.Context, rec *device.Record) {
	r.set(ctx, rec.Path, rec.Name, state.Meta{Type: state.TypeChannel, Role: "channel", Name: rec.Kind.String() + " " + rec.Name})

	if rec.Kind.Actions() == nil {
		return
	}
	actionPath := rec.Path + "._ACTION"
	r.set(ctx, actionPath, float64(nuki.ActionNone), state.Meta{Type: state.TypeNumber, Role: "value", Name: "Trigger an action", Writable: true})
	for _, button := range nuki.Buttons(rec.Kind) {
		r.set(ctx, actionPath+"."+button, false, state.Meta{Type: state.TypeBoolean, Role: "button", Name: "Trigger " + button + " action", Writable: true})
	}
}

func (r *Reconciler) writeFields(ctx context.Context, base string, values device.Fragment, metas map[string]state.Meta) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		meta := metas[k]
		if meta.Type == "" {
			meta = state.Meta{Type: inferType(values[k]), Role: "state"}
		}
		r.set(ctx, base+"."+k, values[k], meta)
	}
}

func (r *Reconciler) set(ctx context.Context, p string, v any, meta state.Meta) {
	if err := r.store.Set(ctx, p, v, &meta); err != nil {
		r.logger.Warn("writing state failed", "path", p, "error", err)
	}
}

// setIfChanged writes a node only when its stored value differs.
func (r *Reconciler) setIfChanged(ctx context.Context, p string, v any, meta state.Meta) bool {
	if cur, ok := r.store.Get(p); ok && cur.Ack && device.ValuesEqual(cur.Val, v) {
		return false
	}
	r.set(ctx, p, v, meta)
	return true
}

func (r *Reconciler) emit(ctx context.Context, rec *device.Record, t events.Type, source string, details map[string]any) {
	if r.sink == nil {
		return
	}
	e := events.New(t, source)
	e.DeviceHex = rec.HexID()
	e.Path = rec.Path
	e.Kind = rec.Kind.String()
	e.Details = details
	if err := r.sink.Publish(ctx, e); err != nil {
		r.logger.Warn("publishing event failed", "type", string(t), "error", err)
	}
}

func stripConfig(p map[string]any) {
	for _, b := range configBlocks {
		delete(p, b)
	}
	delete(p, "webConfig")
}

func blockOf(p map[string]any, key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}

// copyPayload copies the top level and the state block so rules can
// edit them without touching the caller's map.
func copyPayload(raw map[string]any) map[string]any {
	p := make(map[string]any, len(raw))
	for k, v := range raw {
		p[k] = v
	}
	for _, k := range []string{"state", "lastKnownState"} {
		if st, ok := p[k].(map[string]any); ok {
			cpy := make(map[string]any, len(st))
			for sk, sv := range st {
				cpy[sk] = sv
			}
			p[k] = cpy
		}
	}
	return p
}
