package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	bridgeapi "github.com/nerrad567/nuki-gateway/internal/bridges/nuki"
	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/nuki"
	"github.com/nerrad567/nuki-gateway/internal/reconcile"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

type memRepo struct {
	mu      sync.Mutex
	records map[string]device.Record
	bridges map[string]device.Bridge
}

func newMemRepo() *memRepo {
	return &memRepo{records: map[string]device.Record{}, bridges: map[string]device.Bridge{}}
}

func (m *memRepo) List(context.Context) ([]device.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r.DeepCopy())
	}
	return out, nil
}

func (m *memRepo) Create(_ context.Context, rec *device.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.HexID()] = *rec.DeepCopy()
	return nil
}

func (m *memRepo) Update(ctx context.Context, rec *device.Record) error {
	return m.Create(ctx, rec)
}

func (m *memRepo) ListBridges(context.Context) ([]device.Bridge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.Bridge, 0, len(m.bridges))
	for _, b := range m.bridges {
		out = append(out, b)
	}
	return out, nil
}

func (m *memRepo) SaveBridge(_ context.Context, b *device.Bridge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridges[b.Key] = *b
	return nil
}

type fakeBridge struct {
	mu         sync.Mutex
	listErrs   []error
	listCalls  int
	devices    []map[string]any
	info       map[string]any
	callbacks  []bridgeapi.Callback
	addErr     error
	added      []string
	removed    []int
	rebooted   int
	clearedLog int
}

func (f *fakeBridge) List(context.Context) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]map[string]any, len(f.devices))
	for i, d := range f.devices {
		cpy := make(map[string]any, len(d))
		for k, v := range d {
			cpy[k] = v
		}
		out[i] = cpy
	}
	return out, nil
}

func (f *fakeBridge) Info(context.Context) (map[string]any, error) { return f.info, nil }

func (f *fakeBridge) Callbacks(context.Context) ([]bridgeapi.Callback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bridgeapi.Callback(nil), f.callbacks...), nil
}

func (f *fakeBridge) AddCallback(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, url)
	f.callbacks = append(f.callbacks, bridgeapi.Callback{ID: len(f.callbacks), URL: url})
	return nil
}

func (f *fakeBridge) RemoveCallback(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	var keep []bridgeapi.Callback
	for _, cb := range f.callbacks {
		if cb.ID != id {
			keep = append(keep, bridgeapi.Callback{ID: len(keep), URL: cb.URL})
		}
	}
	f.callbacks = keep
	return nil
}

func (f *fakeBridge) ClearLog(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearedLog++
	return nil
}

func (f *fakeBridge) FirmwareUpdate(context.Context) error { return nil }

func (f *fakeBridge) Reboot(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebooted++
	return nil
}

type fakeWeb struct {
	mu            sync.Mutex
	latency       time.Duration
	polls         int
	smartlocks    []map[string]any
	logs          []map[string]any
	users         []map[string]any
	notifications []map[string]any
}

func (f *fakeWeb) Smartlocks(ctx context.Context) ([]map[string]any, error) {
	if f.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.latency):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	out := make([]map[string]any, len(f.smartlocks))
	for i, s := range f.smartlocks {
		cpy := make(map[string]any, len(s))
		for k, v := range s {
			cpy[k] = v
		}
		out[i] = cpy
	}
	return out, nil
}

func (f *fakeWeb) SmartlockAuth(context.Context, uint64) ([]map[string]any, error) {
	return f.users, nil
}

func (f *fakeWeb) SmartlockLogs(_ context.Context, _ uint64, limit int) ([]map[string]any, error) {
	if limit != WebLogLimit {
		return nil, errors.New("unexpected limit")
	}
	return f.logs, nil
}

func (f *fakeWeb) Notifications(context.Context) ([]map[string]any, error) {
	return f.notifications, nil
}

type archiveRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (a *archiveRecorder) ArchiveLogs(_ context.Context, hexID string, logs []map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[hexID] += len(logs)
	return nil
}

type fixture struct {
	s        *Scheduler
	registry *device.Registry
	store    *state.Tree
	delays   []time.Duration
}

func newFixture(t *testing.T, opts Options, recOpts reconcile.Options) *fixture {
	t.Helper()
	repo := newMemRepo()
	reg := device.NewRegistry(repo, repo)
	store := state.NewTree(nil)
	rec := reconcile.New(reg, store, recOpts)
	f := &fixture{registry: reg, store: store}
	f.s = New(reg, store, rec, opts)
	f.s.sleep = func(_ context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return nil
	}
	t.Cleanup(f.s.Stop)
	return f
}

func (f *fixture) addBridge(t *testing.T, client BridgeClient) bridgeHandle {
	t.Helper()
	b, err := f.registry.RegisterBridge(context.Background(), device.Bridge{Name: "Hallway", Host: "10.0.0.5", Port: 8080})
	if err != nil {
		t.Fatalf("RegisterBridge() error: %v", err)
	}
	f.s.AddBridge(b.Key, client)
	return bridgeHandle{key: b.Key, client: client}
}

func (f *fixture) val(t *testing.T, p string) any {
	t.Helper()
	v, ok := f.store.Get(p)
	if !ok {
		t.Fatalf("node %s not found", p)
	}
	return v.Val
}

func TestStart_NothingConfigured(t *testing.T) {
	f := newFixture(t, Options{}, reconcile.Options{})
	if err := f.s.Start(context.Background()); !errors.Is(err, ErrNothingConfigured) {
		t.Errorf("Start() error = %v, want ErrNothingConfigured", err)
	}

	// a Web API client without an interval is not active
	f.s.SetWeb(&fakeWeb{})
	if err := f.s.Start(context.Background()); !errors.Is(err, ErrNothingConfigured) {
		t.Errorf("Start() error = %v, want ErrNothingConfigured", err)
	}
}

func TestStart_RaisesWebInterval(t *testing.T) {
	f := newFixture(t, Options{WebInterval: 2 * time.Second}, reconcile.Options{WebAPI: true})
	f.s.SetWeb(&fakeWeb{})
	if err := f.s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if f.s.opts.WebInterval != MinWebInterval {
		t.Errorf("WebInterval = %v, want %v", f.s.opts.WebInterval, MinWebInterval)
	}
	if err := f.s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v", err)
	}
}

func TestRefreshBridge_DiscoversDevices(t *testing.T) {
	f := newFixture(t, Options{RefreshType: RefreshNone}, reconcile.Options{BridgeAPI: true})
	bridge := &fakeBridge{
		info: map[string]any{"ids": map[string]any{"serverId": float64(98765), "hardwareId": float64(1)}},
		devices: []map[string]any{
			{"nukiId": float64(169552957), "deviceType": float64(0), "name": "Front Door", "lastKnownState": map[string]any{"state": float64(1)}},
		},
	}
	h := f.addBridge(t, bridge)
	ctx := context.Background()

	if err := f.s.refreshInfo(ctx, h); err != nil {
		t.Fatalf("refreshInfo() error: %v", err)
	}
	f.s.refreshBridge(ctx, h)

	if f.val(t, "info.bridgeApiSync") != true {
		t.Error("bridgeApiSync not set")
	}
	if _, ok := f.store.Get("info.bridgeApiLast"); !ok {
		t.Error("bridgeApiLast not set")
	}
	if f.val(t, "smartlocks.front_door.state.locked") != true {
		t.Error("device not discovered as locked")
	}
	rec, err := f.registry.ByPath("smartlocks.front_door")
	if err != nil {
		t.Fatalf("ByPath() error: %v", err)
	}
	if rec.BridgeID != "98765" {
		t.Errorf("BridgeID = %q, want backfilled 98765", rec.BridgeID)
	}
	if _, ok := f.store.Get("bridges.hallway.actions.reboot"); !ok {
		t.Error("bridge action buttons missing")
	}
}

func TestRefreshBridge_RetriesOnceWhenBusy(t *testing.T) {
	f := newFixture(t, Options{}, reconcile.Options{BridgeAPI: true})
	bridge := &fakeBridge{listErrs: []error{bridgeapi.ErrUnavailable, bridgeapi.ErrUnavailable}}
	h := f.addBridge(t, bridge)

	f.s.refreshBridge(context.Background(), h)

	if bridge.listCalls != 2 {
		t.Errorf("List calls = %d, want 2", bridge.listCalls)
	}
	if len(f.delays) != 1 || f.delays[0] != defaultTransientDelay {
		t.Errorf("delays = %v", f.delays)
	}
}

func TestRefreshBridge_NoRetryOnAuthError(t *testing.T) {
	f := newFixture(t, Options{}, reconcile.Options{BridgeAPI: true})
	bridge := &fakeBridge{listErrs: []error{bridgeapi.ErrUnauthorized}}
	h := f.addBridge(t, bridge)

	f.s.refreshBridge(context.Background(), h)

	if bridge.listCalls != 1 || len(f.delays) != 0 {
		t.Errorf("List calls = %d, delays = %v", bridge.listCalls, f.delays)
	}
}

func TestRegisterCallback(t *testing.T) {
	opts := Options{CallbackHost: "10.0.0.2", CallbackPort: 51989}
	url := "http://10.0.0.2:51989/nuki-api-bridge"

	t.Run("adds and mirrors", func(t *testing.T) {
		f := newFixture(t, opts, reconcile.Options{BridgeAPI: true})
		bridge := &fakeBridge{}
		h := f.addBridge(t, bridge)

		if err := f.s.registerCallback(context.Background(), h); err != nil {
			t.Fatalf("registerCallback() error: %v", err)
		}
		if len(bridge.added) != 1 || bridge.added[0] != url {
			t.Errorf("added = %v", bridge.added)
		}
		if f.val(t, "bridges.hallway.callbacks.0.url") != url {
			t.Error("callback node missing")
		}
		if f.val(t, "bridges.hallway.callbacks.list") != `[{"id":0,"url":"`+url+`"}]` {
			t.Errorf("list = %v", f.val(t, "bridges.hallway.callbacks.list"))
		}
		if f.val(t, "info.bridgeApiCallback") != true {
			t.Error("bridgeApiCallback not set")
		}
	})

	t.Run("already added is success", func(t *testing.T) {
		f := newFixture(t, opts, reconcile.Options{BridgeAPI: true})
		bridge := &fakeBridge{addErr: bridgeapi.ErrCallbackExists}
		h := f.addBridge(t, bridge)

		if err := f.s.registerCallback(context.Background(), h); err != nil {
			t.Errorf("registerCallback() error = %v, want nil", err)
		}
	})

	t.Run("full bridge", func(t *testing.T) {
		f := newFixture(t, opts, reconcile.Options{BridgeAPI: true})
		bridge := &fakeBridge{
			addErr: errors.New("too many callbacks"),
			callbacks: []bridgeapi.Callback{
				{ID: 0, URL: "http://a/cb"}, {ID: 1, URL: "http://b/cb"}, {ID: 2, URL: "http://c/cb"},
			},
		}
		h := f.addBridge(t, bridge)

		if err := f.s.registerCallback(context.Background(), h); err != nil {
			t.Errorf("registerCallback() error = %v, want nil", err)
		}
		if _, ok := f.store.Get("bridges.hallway.callbacks.2._delete"); !ok {
			t.Error("existing callbacks not mirrored")
		}
	})
}

func TestDeleteCallbackButton(t *testing.T) {
	f := newFixture(t, Options{CallbackHost: "10.0.0.2", CallbackPort: 51989}, reconcile.Options{BridgeAPI: true})
	bridge := &fakeBridge{callbacks: []bridgeapi.Callback{{ID: 0, URL: "http://old/cb"}, {ID: 1, URL: "http://10.0.0.2:51989/nuki-api-bridge"}}}
	h := f.addBridge(t, bridge)
	ctx := context.Background()
	if err := f.s.syncCallbacks(ctx, h, bridge.callbacks); err != nil {
		t.Fatalf("syncCallbacks() error: %v", err)
	}
	f.s.unsub = f.store.Subscribe("bridges.*", f.s.handleBridgeChange)

	if err := f.store.Command(ctx, "bridges.hallway.callbacks.0._delete", true); err != nil {
		t.Fatalf("Command() error: %v", err)
	}
	f.s.wg.Wait()

	if len(bridge.removed) != 1 || bridge.removed[0] != 0 {
		t.Fatalf("removed = %v", bridge.removed)
	}
	// the remaining callback is renumbered by the bridge
	if f.val(t, "bridges.hallway.callbacks.0.url") != "http://10.0.0.2:51989/nuki-api-bridge" {
		t.Error("callback nodes not refreshed")
	}
	if _, ok := f.store.Get("bridges.hallway.callbacks.1"); ok {
		t.Error("stale callback node kept")
	}
	b, _ := f.registry.Bridge(h.key)
	if len(b.Callbacks) != 1 {
		t.Errorf("registry callbacks = %v", b.Callbacks)
	}
}

func TestBridgeActionButtons(t *testing.T) {
	f := newFixture(t, Options{}, reconcile.Options{BridgeAPI: true})
	bridge := &fakeBridge{info: map[string]any{}}
	h := f.addBridge(t, bridge)
	ctx := context.Background()
	if err := f.s.refreshInfo(ctx, h); err != nil {
		t.Fatalf("refreshInfo() error: %v", err)
	}
	f.s.unsub = f.store.Subscribe("bridges.*", f.s.handleBridgeChange)

	_ = f.store.Command(ctx, "bridges.hallway.actions.reboot", true)
	_ = f.store.Command(ctx, "bridges.hallway.actions.clearLog", false)
	f.s.wg.Wait()

	if bridge.rebooted != 1 || bridge.clearedLog != 0 {
		t.Errorf("rebooted = %d, cleared = %d", bridge.rebooted, bridge.clearedLog)
	}
	if v, _ := f.store.Get("bridges.hallway.actions.reboot"); v.Val != false || !v.Ack {
		t.Errorf("reboot button not reset: %+v", v)
	}
}

func TestPollWeb(t *testing.T) {
	f := newFixture(t, Options{WebInterval: time.Minute, SyncUsers: true, SyncLogs: true}, reconcile.Options{WebAPI: true})
	logs := make([]map[string]any, 300)
	for i := range logs {
		logs[i] = map[string]any{"action": float64(1), "date": "2026-03-01T12:00:00.000Z"}
	}
	web := &fakeWeb{
		smartlocks: []map[string]any{{
			"smartlockId": float64(169552957), "type": float64(0), "name": "Front Door",
			"state": map[string]any{"state": float64(1), "batteryCritical": false},
		}},
		logs:          logs,
		users:         []map[string]any{{"name": "Alice Example", "type": float64(0)}},
		notifications: []map[string]any{{"notificationId": float64(7), "language": "en", "secret": "s3cret"}},
	}
	archive := &archiveRecorder{calls: map[string]int{}}
	f.s.SetWeb(web)
	f.s.SetArchiver(archive)

	f.s.PollWeb(context.Background())

	if f.val(t, "info.webApiSync") != true {
		t.Error("webApiSync not set")
	}
	if f.val(t, "smartlocks.front_door.state.locked") != true {
		t.Error("web device not discovered")
	}
	if _, ok := f.store.Get("smartlocks.front_door.logs"); !ok {
		t.Error("logs not stored")
	}
	if _, ok := f.store.Get("smartlocks.front_door.users.alice_example"); !ok {
		t.Error("users not stored")
	}
	if f.val(t, "info.notifications.7.language") != "en" {
		t.Error("notification not stored")
	}
	if _, ok := f.store.Get("info.notifications.7.secret"); ok {
		t.Error("notification secret stored")
	}
	if archive.calls["0a1b2c3d"] != 300 {
		t.Errorf("archived = %v", archive.calls)
	}
}

func TestStop_InFlightPollCompletes(t *testing.T) {
	f := newFixture(t, Options{WebInterval: time.Hour}, reconcile.Options{WebAPI: true})
	f.s.SetWeb(&fakeWeb{
		latency: 200 * time.Millisecond,
		smartlocks: []map[string]any{{
			"smartlockId": float64(169552957), "type": float64(0), "name": "Front Door",
			"state": map[string]any{"state": float64(1)},
		}},
	})
	if err := f.s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	f.s.Stop()

	// Stop waited for the poll, which finished with its results applied
	if f.val(t, "smartlocks.front_door.state.locked") != true {
		t.Error("poll in flight at Stop was not applied")
	}
}

func TestHandleCallback(t *testing.T) {
	f := newFixture(t, Options{WebInterval: time.Minute, AdditionalWebCall: true}, reconcile.Options{BridgeAPI: true, WebAPI: true})
	web := &fakeWeb{}
	f.s.SetWeb(web)
	var requested []time.Duration
	fired := make(chan time.Time, 1)
	f.s.after = func(d time.Duration) <-chan time.Time {
		requested = append(requested, d)
		fired <- time.Now()
		return fired
	}
	ctx := context.Background()
	deviceType := 0
	_, _, err := f.registry.CreateOrGet(ctx, nuki.IdentityFromNumeric(169552957), &deviceType, "Front Door")
	if err != nil {
		t.Fatalf("CreateOrGet() error: %v", err)
	}

	if err := f.s.HandleCallback(ctx, map[string]any{"nukiId": float64(169552957), "deviceType": float64(0), "state": float64(3)}); err != nil {
		t.Fatalf("HandleCallback() error: %v", err)
	}
	f.s.wg.Wait()

	if f.val(t, "info.bridgeApiCallback") != true {
		t.Error("bridgeApiCallback not set")
	}
	if !device.ValuesEqual(f.val(t, "smartlocks.front_door.state.lockState"), 3) {
		t.Errorf("lockState = %v", f.val(t, "smartlocks.front_door.state.lockState"))
	}
	if len(requested) != 1 || requested[0] != defaultAdditionalDelay {
		t.Errorf("additional web call delays = %v", requested)
	}
	if web.polls != 1 {
		t.Errorf("web polls = %d, want 1", web.polls)
	}
}
