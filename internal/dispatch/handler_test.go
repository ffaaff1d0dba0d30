package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/nuki"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

func TestHandleChange_ActionNode(t *testing.T) {
	web := newMockWeb(0)
	f := newFixture(t, nuki.DeviceTypeSmartLock, nil, web)
	f.d.Attach(f.store)
	p := f.path(t)

	if err := f.store.Command(context.Background(), p+"._ACTION", 2); err != nil {
		t.Fatalf("Command() error: %v", err)
	}
	f.d.wg.Wait()

	if len(web.actions) != 1 || web.actions[0] != 2 {
		t.Errorf("web actions = %v", web.actions)
	}
	if v, _ := f.store.Get(p + "._ACTION"); v.Val != float64(0) || !v.Ack {
		t.Errorf("_ACTION not reset: %+v", v)
	}
}

func TestHandleChange_Button(t *testing.T) {
	web := newMockWeb(0)
	f := newFixture(t, nuki.DeviceTypeOpener, nil, web)
	f.d.Attach(f.store)
	p := f.path(t)

	if err := f.store.Command(context.Background(), p+"._ACTION.ELECTRIC_STRIKE_ACTUATION", true); err != nil {
		t.Fatalf("Command() error: %v", err)
	}
	f.d.wg.Wait()

	if len(web.actions) != 1 || web.actions[0] != 3 {
		t.Errorf("web actions = %v", web.actions)
	}
}

func TestHandleChange_IgnoresAckAndFalse(t *testing.T) {
	web := newMockWeb(0)
	f := newFixture(t, nuki.DeviceTypeSmartLock, nil, web)
	f.d.Attach(f.store)
	p := f.path(t)
	ctx := context.Background()

	_ = f.store.Set(ctx, p+"._ACTION", float64(2), nil)
	_ = f.store.Command(ctx, p+"._ACTION.LOCK", false)
	_ = f.store.Command(ctx, p+"._ACTION", 0)
	f.d.wg.Wait()

	if len(web.actions) != 0 {
		t.Errorf("web actions = %v, want none", web.actions)
	}
}

func TestHandleChange_ConfigWriteBack(t *testing.T) {
	web := newMockWeb(0)
	f := newFixture(t, nuki.DeviceTypeSmartLock, nil, web)
	ctx := context.Background()
	p := f.path(t)
	rec, _ := f.registry.ByPath(p)
	if _, err := f.registry.Merge(ctx, rec.HexID(), device.Patch{Config: map[string]any{"name": "Front Door", "latitude": 1.5}}); err != nil {
		t.Fatalf("Merge() error: %v", err)
	}
	refreshed := make(chan time.Duration, 1)
	f.d.SetRefresher(func(after time.Duration) { refreshed <- after })
	f.d.Attach(f.store)

	_ = f.store.Set(ctx, p+".config.gpsLatitude", 1.5, &state.Meta{Type: state.TypeNumber, Writable: true})
	if err := f.store.Command(ctx, p+".config.gpsLatitude", 2.25); err != nil {
		t.Fatalf("Command() error: %v", err)
	}

	select {
	case <-web.done:
	case <-time.After(time.Second):
		t.Fatal("SetConfig not called")
	}
	select {
	case after := <-refreshed:
		if after != DefaultRefreshDelay {
			t.Errorf("refresh after %v", after)
		}
	case <-time.After(time.Second):
		t.Fatal("refresh not requested")
	}

	web.mu.Lock()
	cfg := web.configs["config"]
	web.mu.Unlock()
	if cfg["latitude"] != 2.25 || cfg["name"] != "Front Door" {
		t.Errorf("config sent = %v", cfg)
	}
	if v, _ := f.store.Get(p + ".config.gpsLatitude"); !v.Ack {
		t.Error("configuration node not acknowledged")
	}
}

func TestHandleChange_ConfigWithoutWebAPI(t *testing.T) {
	bridge := &mockBridge{}
	f := newFixture(t, nuki.DeviceTypeSmartLock, bridge, nil)
	f.d.Attach(f.store)
	ctx := context.Background()
	p := f.path(t)

	_ = f.store.Set(ctx, p+".config.name", "Front Door", &state.Meta{Type: state.TypeString, Writable: true})
	_ = f.store.Command(ctx, p+".config.name", "Back Door")
	f.d.wg.Wait()

	if v, _ := f.store.Get(p + ".config.name"); v.Ack {
		t.Error("write acknowledged without Web API")
	}
}

func TestSplitDevicePath(t *testing.T) {
	tests := []struct {
		in, device, rel string
		ok              bool
	}{
		{"smartlocks.front_door._ACTION", "smartlocks.front_door", "_ACTION", true},
		{"openers.intercom.config.name", "openers.intercom", "config.name", true},
		{"smartlocks.front_door", "", "", false},
		{"info", "", "", false},
	}
	for _, tt := range tests {
		d, r, ok := splitDevicePath(tt.in)
		if d != tt.device || r != tt.rel || ok != tt.ok {
			t.Errorf("splitDevicePath(%q) = %q, %q, %v", tt.in, d, r, ok)
		}
	}
}
