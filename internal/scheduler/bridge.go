package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shimmeringbee/retry"

	bridgeapi "github.com/nerrad567/nuki-gateway/internal/bridges/nuki"
	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/reconcile"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

// runBridge fetches /info and /list once, then follows the refresh type.
func (s *Scheduler) runBridge(h bridgeHandle) {
	defer s.wg.Done()
	ctx := s.reqCtx

	err := retry.Retry(ctx, s.opts.InitTimeout, s.opts.InitRetries, func(ctx context.Context) error {
		if s.stopped() {
			return nil
		}
		return s.refreshInfo(ctx, h)
	})
	if err != nil {
		s.logger.Warn("retrieving bridge info failed", "bridge", h.key, "error", err)
	}
	if s.stopped() {
		return
	}
	s.refreshBridge(ctx, h)

	switch s.opts.RefreshType {
	case RefreshCallback:
		err := retry.Retry(ctx, s.opts.InitTimeout, s.opts.InitRetries, func(ctx context.Context) error {
			if s.stopped() {
				return nil
			}
			return s.registerCallback(ctx, h)
		})
		if err != nil {
			s.logger.Warn("callback not attached due to error", "bridge", h.key, "error", err)
		}
	case RefreshPolling:
		s.logger.Info("polling bridge", "bridge", h.key, "interval", s.opts.RefreshInterval.String())
		ticker := time.NewTicker(s.opts.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.refreshBridge(ctx, h)
			}
		}
	default:
		s.logger.Info("not listening for bridge events", "bridge", h.key)
	}
}

// ref returns the bridge as currently registered and the reference
// attached to its devices: the vendor ID, or the key while it is unknown.
func (s *Scheduler) ref(h bridgeHandle) (*device.Bridge, string) {
	b, err := s.registry.Bridge(h.key)
	if err != nil {
		return nil, h.key
	}
	if b.ID != "" {
		return b, b.ID
	}
	return b, b.Key
}

// refreshBridge fetches /list and reconciles every device. A transient
// failure is retried once after TransientDelay.
func (s *Scheduler) refreshBridge(ctx context.Context, h bridgeHandle) {
	s.setFlag(ctx, "bridgeApiSync", true)
	s.stamp(ctx, "bridgeApiLast")

	list, err := h.client.List(ctx)
	if err != nil && bridgeapi.IsTransient(err) && !s.stopped() {
		s.logger.Info("bridge busy, trying again", "bridge", h.key, "in", s.opts.TransientDelay.String(), "error", err)
		if !s.wait(s.opts.TransientDelay) {
			return
		}
		list, err = h.client.List(ctx)
	}
	if err != nil {
		s.logger.Warn("retrieving device list from bridge failed", "bridge", h.key, "error", err)
		return
	}

	_, ref := s.ref(h)
	for _, raw := range list {
		if err := s.reconciler.ApplyBridgeDevice(ctx, ref, raw); err != nil {
			s.logger.Warn("applying bridge device failed", "bridge", h.key, "error", err)
		}
	}
}

func (s *Scheduler) refreshInfo(ctx context.Context, h bridgeHandle) error {
	b, _ := s.ref(h)
	if b == nil {
		return device.ErrBridgeNotFound
	}
	info, err := h.client.Info(ctx)
	if err != nil {
		return err
	}
	_, err = s.reconciler.ApplyBridgeInfo(ctx, b, info)
	return err
}

// registerCallback attaches the gateway callback URL to a bridge unless
// it is already registered, then mirrors the callback list.
func (s *Scheduler) registerCallback(ctx context.Context, h bridgeHandle) error {
	url := s.CallbackURL()
	cbs, err := h.client.Callbacks(ctx)
	if err != nil {
		return err
	}
	s.setFlag(ctx, "bridgeApiCallback", true)

	if hasCallback(cbs, url) {
		s.logger.Debug("callback already attached", "bridge", h.key, "url", url)
		return s.syncCallbacks(ctx, h, cbs)
	}

	s.logger.Debug("adding callback", "bridge", h.key, "url", url)
	err = h.client.AddCallback(ctx, url)
	switch {
	case err == nil:
		s.logger.Info("callback attached", "bridge", h.key, "url", url)
	case errors.Is(err, bridgeapi.ErrCallbackExists):
		s.logger.Debug("callback already attached", "bridge", h.key, "url", url)
	case len(cbs) >= MaxCallbacks:
		s.logger.Warn("callback not attached, bridge has too many callbacks; delete one", "bridge", h.key, "callbacks", len(cbs))
		return s.syncCallbacks(ctx, h, cbs)
	default:
		return err
	}

	if cbs, err = h.client.Callbacks(ctx); err != nil {
		return err
	}
	return s.syncCallbacks(ctx, h, cbs)
}

func hasCallback(cbs []bridgeapi.Callback, url string) bool {
	for _, cb := range cbs {
		if cb.URL == url {
			return true
		}
	}
	return false
}

// syncCallbacks records the callback list in the registry and mirrors it
// to <bridge>.callbacks, removing nodes of callbacks that are gone.
func (s *Scheduler) syncCallbacks(ctx context.Context, h bridgeHandle, cbs []bridgeapi.Callback) error {
	b, _ := s.ref(h)
	if b == nil {
		return device.ErrBridgeNotFound
	}
	list := make([]device.Callback, 0, len(cbs))
	for _, cb := range cbs {
		list = append(list, device.Callback{ID: cb.ID, URL: cb.URL})
	}
	if err := s.registry.SetCallbacks(ctx, h.key, list); err != nil {
		return err
	}

	base := b.Path + ".callbacks"
	s.set(ctx, base, "Callbacks", state.Meta{Type: state.TypeChannel, Role: "channel", Name: "Callbacks"})
	raw, _ := json.Marshal(list)
	s.set(ctx, base+".list", string(raw), state.Meta{Type: state.TypeJSON, Role: "json", Name: "List of callbacks"})

	keep := make(map[string]bool, len(list))
	for _, cb := range list {
		id := strconv.Itoa(cb.ID)
		keep[id] = true
		node := base + "." + id
		s.set(ctx, node, cb.URL, state.Meta{Type: state.TypeChannel, Role: "channel", Name: "Callback " + id})
		s.set(ctx, node+".id", float64(cb.ID), state.Meta{Type: state.TypeNumber, Role: "value", Name: "Callback ID"})
		s.set(ctx, node+".url", cb.URL, state.Meta{Type: state.TypeString, Role: "text", Name: "Callback URL"})
		if _, ok := s.store.Get(node + "._delete"); !ok {
			s.set(ctx, node+"._delete", false, state.Meta{Type: state.TypeBoolean, Role: "button", Name: "Delete callback", Writable: true})
		}
	}

	for _, v := range s.store.List(base) {
		rest, ok := strings.CutPrefix(v.Path, base+".")
		if !ok || strings.Contains(rest, ".") || rest == "list" || keep[rest] {
			continue
		}
		if err := s.store.Delete(ctx, v.Path, true); err != nil {
			s.logger.Warn("removing stale callback nodes failed", "path", v.Path, "error", err)
		}
	}
	return nil
}

// handleBridgeChange reacts to user writes on bridge action buttons and
// callback _delete buttons.
func (s *Scheduler) handleBridgeChange(ctx context.Context, c state.Change) {
	if c.Ack || c.Deleted {
		return
	}
	if pressed, _ := c.Val.(bool); !pressed {
		return
	}
	h, b, ok := s.handleForPath(c.Path)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(c.Path, b.Path+".")

	if action, ok := strings.CutPrefix(rest, "actions."); ok {
		s.spawn(func() { s.bridgeAction(s.reqCtx, h, b, action, c.Path) })
		return
	}
	if node, ok := strings.CutSuffix(rest, "._delete"); ok && strings.HasPrefix(node, "callbacks.") {
		s.spawn(func() { s.deleteCallback(s.reqCtx, h, b, c.Path) })
	}
}

func (s *Scheduler) handleForPath(p string) (bridgeHandle, *device.Bridge, bool) {
	for _, h := range s.bridges {
		b, _ := s.ref(h)
		if b != nil && strings.HasPrefix(p, b.Path+".") {
			return h, b, true
		}
	}
	return bridgeHandle{}, nil, false
}

func (s *Scheduler) bridgeAction(ctx context.Context, h bridgeHandle, b *device.Bridge, action, node string) {
	if !slices.Contains(reconcile.BridgeActions, action) {
		s.logger.Warn("unknown bridge action", "bridge", b.Name, "action", action)
		return
	}

	var err error
	switch action {
	case "clearLog":
		err = h.client.ClearLog(ctx)
	case "firmwareUpdate":
		err = h.client.FirmwareUpdate(ctx)
	case "reboot":
		err = h.client.Reboot(ctx)
	}
	if err != nil {
		s.logger.Warn("bridge action failed", "bridge", b.Name, "action", action, "error", err)
	} else {
		s.logger.Info("bridge action triggered", "bridge", b.Name, "action", action)
	}
	s.set(ctx, node, false, state.Meta{})
}

// deleteCallback removes the callback whose URL is stored next to the
// pressed _delete button.
func (s *Scheduler) deleteCallback(ctx context.Context, h bridgeHandle, b *device.Bridge, node string) {
	parent := strings.TrimSuffix(node, "._delete")
	v, ok := s.store.Get(parent + ".url")
	url, _ := v.Val.(string)
	if !ok || url == "" {
		s.logger.Warn("deleting callback failed: no URL given", "path", node)
		return
	}

	id := -1
	for _, cb := range b.Callbacks {
		if cb.URL == url {
			id = cb.ID
			break
		}
	}
	if id < 0 {
		s.logger.Warn("deleting callback failed: callback not registered", "bridge", b.Name, "url", url)
		s.set(ctx, node, false, state.Meta{})
		return
	}

	if err := h.client.RemoveCallback(ctx, id); err != nil {
		s.logger.Warn("deleting callback failed", "bridge", b.Name, "url", url, "error", err)
		s.set(ctx, node, false, state.Meta{})
		return
	}
	s.logger.Info("deleted callback", "bridge", b.Name, "url", url)

	if err := s.store.Delete(ctx, parent, true); err != nil {
		s.logger.Warn("removing callback nodes failed", "path", parent, "error", err)
	}
	cbs, err := h.client.Callbacks(ctx)
	if err != nil {
		s.logger.Warn("retrieving callbacks failed", "bridge", b.Name, "error", err)
		return
	}
	if err := s.syncCallbacks(ctx, h, cbs); err != nil {
		s.logger.Warn("mirroring callbacks failed", "bridge", b.Name, "error", err)
	}
}

func (s *Scheduler) spawn(fn func()) {
	if s.stopped() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Scheduler) set(ctx context.Context, p string, v any, meta state.Meta) {
	m := &meta
	if meta.Type == "" {
		m = nil
	}
	if err := s.store.Set(ctx, p, v, m); err != nil {
		s.logger.Warn("writing state failed", "path", p, "error", err)
	}
}
