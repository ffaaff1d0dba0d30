package reconcile

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/events"
	"github.com/nerrad567/nuki-gateway/internal/state"
)

// memRepo is an in-memory device and bridge repository.
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
	if _, ok := m.records[rec.HexID()]; ok {
		return device.ErrDeviceExists
	}
	m.records[rec.HexID()] = *rec.DeepCopy()
	return nil
}

func (m *memRepo) Update(_ context.Context, rec *device.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.HexID()] = *rec.DeepCopy()
	return nil
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

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *eventRecorder) Publish(_ context.Context, ev events.Event) error {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
	return nil
}

func (e *eventRecorder) count(t events.Type) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	rec      *Reconciler
	registry *device.Registry
	store    *state.Tree
	events   *eventRecorder
	clock    *time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	repo := newMemRepo()
	reg := device.NewRegistry(repo, repo)
	store := state.NewTree(nil)
	r := New(reg, store, opts)
	rec := &eventRecorder{}
	r.SetSink(rec)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{rec: r, registry: reg, store: store, events: rec, clock: &clock}
	r.now = func() time.Time { return *f.clock }
	return f
}

func (f *fixture) val(t *testing.T, path string) any {
	t.Helper()
	v, ok := f.store.Get(path)
	if !ok {
		t.Fatalf("node %s not found", path)
	}
	return v.Val
}

// decode mimics a JSON payload so numbers arrive as float64.
func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestApply_Discovery(t *testing.T) {
	f := newFixture(t, Options{BridgeAPI: true})
	ctx := context.Background()

	payload := decode(t, `{"nukiHexId":"0a1b2c3d","name":"Front Door","deviceType":0,"state":{"state":1}}`)
	if err := f.rec.ApplyBridgeDevice(ctx, "", payload); err != nil {
		t.Fatalf("ApplyBridgeDevice() error: %v", err)
	}

	rec, err := f.registry.Resolve("0a1b2c3d")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if rec.Path != "smartlocks.front_door" {
		t.Errorf("Path = %q, want smartlocks.front_door", rec.Path)
	}
	if rec.Identity.NumericID != 0x0a1b2c3d {
		t.Errorf("NumericID = %d", rec.Identity.NumericID)
	}
	if got := f.val(t, "smartlocks.front_door.state.locked"); got != true {
		t.Errorf("locked = %v, want true", got)
	}
	if got := f.val(t, "smartlocks.front_door.state.lockState"); got != float64(1) {
		t.Errorf("lockState = %v", got)
	}
	if got := f.val(t, "smartlocks.front_door.state.lockStateName"); got != "LOCKED" {
		t.Errorf("lockStateName = %v", got)
	}
	if got := f.val(t, "smartlocks.front_door.hex"); got != "0a1b2c3d" {
		t.Errorf("hex = %v", got)
	}
	action, _ := f.store.Get("smartlocks.front_door._ACTION")
	if action.Val != float64(0) || !action.Meta.Writable {
		t.Errorf("_ACTION = %+v", action)
	}
	if _, ok := f.store.Get("smartlocks.front_door._ACTION.UNLOCK"); !ok {
		t.Error("UNLOCK button missing")
	}
	if _, ok := f.store.Get("smartlocks.front_door._ACTION.NO_ACTION"); ok {
		t.Error("NO_ACTION button must not exist")
	}
	if f.events.count(events.TypeDeviceDiscovered) != 1 {
		t.Error("discovery event not emitted")
	}
}

func TestApply_DropsIncompletePayloads(t *testing.T) {
	f := newFixture(t, Options{BridgeAPI: true})
	ctx := context.Background()

	tests := []string{
		`{"name":"No ID","deviceType":0}`,
		`{"nukiHexId":"0a1b2c3d","deviceType":0}`,
		`{"nukiId":1,"nukiHexId":"00000002","name":"Mismatch","deviceType":0}`,
		`{"nukiHexId":"zzzz","name":"Bad","deviceType":0}`,
		`{"nukiHexId":"0000000a","name":"Odd","deviceType":9}`,
	}
	for _, tt := range tests {
		if err := f.rec.ApplyBridgeDevice(ctx, "", decode(t, tt)); err != nil {
			t.Errorf("payload %s returned error %v", tt, err)
		}
	}
	if n := f.registry.Count(); n != 0 {
		t.Errorf("registry has %d devices, want 0", n)
	}
}

func TestApply_Idempotent(t *testing.T) {
	f := newFixture(t, Options{BridgeAPI: true})
	ctx := context.Background()
	raw := `{"nukiId":169552957,"name":"Back Door","deviceType":4,"lastKnownState":{"state":3,"doorsensorState":2,"batteryCritical":false,"timestamp":"2026-03-01T11:00:00+00:00"}}`

	if err := f.rec.ApplyBridgeDevice(ctx, "123", decode(t, raw)); err != nil {
		t.Fatal(err)
	}
	first, _ := f.registry.Resolve("0a1b2c3d")
	firstChange := f.val(t, "smartlocks.back_door.state.lastStateUpdate")

	*f.clock = f.clock.Add(time.Minute)
	updatesBefore := f.events.count(events.TypeStateUpdate)
	if err := f.rec.ApplyBridgeDevice(ctx, "123", decode(t, raw)); err != nil {
		t.Fatal(err)
	}
	second, _ := f.registry.Resolve("0a1b2c3d")

	if f.events.count(events.TypeStateUpdate) != updatesBefore {
		t.Error("second application emitted a state update")
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) || len(second.Fields) != len(first.Fields) {
		t.Error("second application changed the record")
	}
	if got := f.val(t, "smartlocks.back_door.state.lastStateUpdate"); got != firstChange {
		t.Errorf("lastStateUpdate bumped: %v -> %v", firstChange, got)
	}
	if got := f.val(t, "smartlocks.back_door.state.closed"); got != true {
		t.Errorf("closed = %v, want true", got)
	}
	if got := f.val(t, "smartlocks.back_door.state.doorState"); got != float64(2) {
		t.Errorf("doorState = %v", got)
	}
	if got := f.val(t, "smartlocks.back_door.bridgeId"); got != float64(123) {
		t.Errorf("bridgeId = %v", got)
	}
	if second.BridgeID != "123" {
		t.Errorf("record BridgeID = %q", second.BridgeID)
	}
}

func TestApply_LastStateUpdateIsEdgeTriggered(t *testing.T) {
	f := newFixture(t, Options{BridgeAPI: true})
	ctx := context.Background()
	apply := func(lockState int, battery bool) {
		t.Helper()
		p := map[string]any{"nukiHexId": "0a1b2c3d", "name": "Front Door", "deviceType": float64(0),
			"state": map[string]any{"state": float64(lockState), "batteryCritical": battery}}
		if err := f.rec.ApplyBridgeDevice(ctx, "", p); err != nil {
			t.Fatal(err)
		}
	}

	apply(1, false)
	t0 := f.val(t, "smartlocks.front_door.state.lastStateUpdate")

	*f.clock = f.clock.Add(time.Minute)
	apply(1, true)
	if got := f.val(t, "smartlocks.front_door.state.lastStateUpdate"); got != t0 {
		t.Errorf("level change bumped lastStateUpdate")
	}

	*f.clock = f.clock.Add(time.Minute)
	apply(3, true)
	if got := f.val(t, "smartlocks.front_door.state.lastStateUpdate"); got != float64(f.clock.UnixMilli()) {
		t.Errorf("lastStateUpdate = %v, want %d", got, f.clock.UnixMilli())
	}
	if got := f.val(t, "smartlocks.front_door.state.locked"); got != false {
		t.Errorf("locked = %v after unlock", got)
	}
	rec, _ := f.registry.Resolve("0a1b2c3d")
	if rec.LastStateChange == nil || !rec.LastStateChange.Equal(*f.clock) {
		t.Errorf("LastStateChange = %v", rec.LastStateChange)
	}
}

func TestApply_ConcurrentSourcesRecordOneChange(t *testing.T) {
	f := newFixture(t, Options{BridgeAPI: true})
	ctx := context.Background()
	if err := f.rec.ApplyBridgeDevice(ctx, "", decode(t, `{"nukiId":169552957,"name":"Front Door","deviceType":0,"lastKnownState":{"state":1}}`)); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	writes := 0
	unsub := f.store.Subscribe("smartlocks.front_door.state.lastStateUpdate", func(context.Context, state.Change) {
		mu.Lock()
		writes++
		mu.Unlock()
	})
	defer unsub()

	// a callback and a bridge poll report each transition at the same time
	const transitions = 20
	for i := 0; i < transitions; i++ {
		lockState := 3
		if i%2 == 1 {
			lockState = 1
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			body := map[string]any{"nukiId": float64(169552957), "deviceType": float64(0), "state": float64(lockState)}
			if err := f.rec.ApplyCallback(ctx, body); err != nil {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			raw := map[string]any{"nukiId": float64(169552957), "name": "Front Door", "deviceType": float64(0),
				"lastKnownState": map[string]any{"state": float64(lockState)}}
			if err := f.rec.ApplyBridgeDevice(ctx, "", raw); err != nil {
				t.Error(err)
			}
		}()
		wg.Wait()
	}

	mu.Lock()
	defer mu.Unlock()
	if writes != transitions {
		t.Errorf("lastStateUpdate written %d times for %d transitions", writes, transitions)
	}
}
func TestApply_BridgeWinsOverWeb(t *testing.T) {
	f := newFixture(t, Options{BridgeAPI: true, WebAPI: true})
	ctx := context.Background()

	bridge := decode(t, `{"nukiId":169552957,"name":"Front Door","deviceType":0,"lastKnownState":{"state":1,"mode":2}}`)
	if err := f.rec.ApplyBridgeDevice(ctx, "", bridge); err != nil {
		t.Fatal(err)
	}
	// smartlockId 0x00a1b2c3d for type 0
	web := decode(t, `{"smartlockId":169552957,"type":0,"name":"Front Door","state":{"state":3,"mode":4,"batteryCharging":true},"config":{"ledEnabled":true}}`)
	if err := f.rec.ApplyWebSmartlock(ctx, web); err != nil {
		t.Fatal(err)
	}

	if got := f.val(t, "smartlocks.front_door.state.lockState"); got != float64(1) {
		t.Errorf("lockState = %v, want bridge value 1", got)
	}
	if got := f.val(t, "smartlocks.front_door.state.mode"); got != float64(2) {
		t.Errorf("mode = %v, want bridge value 2", got)
	}
	if got := f.val(t, "smartlocks.front_door.state.batteryCharging"); got != true {
		t.Errorf("batteryCharging = %v", got)
	}
	if got := f.val(t, "smartlocks.front_door.state.lastDataUpdate"); got != "2026-03-01T12:00:00+00:00" {
		t.Errorf("lastDataUpdate = %v", got)
	}
	if _, ok := f.store.Get("smartlocks.front_door.config.ledEnabled"); ok {
		t.Error("config synced without SyncConfig")
	}
}

func TestApply_WebConfigSync(t *testing.T) {
	f := newFixture(t, Options{WebAPI: true, SyncConfig: true})
	ctx := context.Background()

	web := decode(t, `{"smartlockId":8759487553,"type":2,"name":"Intercom","state":{"state":1,"mode":2},"config":{"latitude":52.5,"ledEnabled":1},"openerAdvancedConfig":{"rtoTimeout":20}}`)
	if err := f.rec.ApplyWebSmartlock(ctx, web); err != nil {
		t.Fatal(err)
	}

	rec, err := f.registry.Resolve("0a1b2c41")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if rec.Path != "openers.intercom" {
		t.Errorf("Path = %q", rec.Path)
	}
	lat, _ := f.store.Get("openers.intercom.config.gpsLatitude")
	if lat.Val != 52.5 || !lat.Meta.Writable {
		t.Errorf("gpsLatitude = %+v", lat)
	}
	if got := f.val(t, "openers.intercom.config.ledEnabled"); got != true {
		t.Errorf("ledEnabled = %v", got)
	}
	if rec.Config["latitude"] != 52.5 || rec.OpenerAdvancedConfig["rtoTimeout"] != float64(20) {
		t.Errorf("config blocks = %v / %v", rec.Config, rec.OpenerAdvancedConfig)
	}
	if _, ok := f.store.Get("openers.intercom.state.locked"); ok {
		t.Error("opener must not get locked")
	}
	if got := f.val(t, "openers.intercom.state.lockStateName"); got != "ONLINE" {
		t.Errorf("lockStateName = %v", got)
	}
}

func TestApply_ContinuousModeRemap(t *testing.T) {
	f := newFixture(t, Options{BridgeAPI: true})
	ctx := context.Background()

	p := decode(t, `{"nukiId":1,"name":"Opener","deviceType":2,"lastKnownState":{"state":1,"mode":3}}`)
	if err := f.rec.ApplyBridgeDevice(ctx, "", p); err != nil {
		t.Fatal(err)
	}
	if got := f.val(t, "openers.opener.state.lockState"); got != float64(3) {
		t.Errorf("lockState = %v, want 3", got)
	}
	rec, _ := f.registry.Resolve("00000001")
	if rec.LockState == nil || *rec.LockState != 3 {
		t.Errorf("record lock state = %v", rec.LockState)
	}

	// a callback with top-level mode only
	cb := decode(t, `{"nukiId":1,"deviceType":2,"state":1,"mode":3,"ringactionState":true}`)
	if err := f.rec.ApplyCallback(ctx, cb); err != nil {
		t.Fatal(err)
	}
	if got := f.val(t, "openers.opener.state.lockState"); got != float64(3) {
		t.Errorf("lockState after callback = %v, want 3", got)
	}
	if got := f.val(t, "openers.opener.state.ringState"); got != true {
		t.Errorf("ringState = %v", got)
	}
}

func TestApplyCallback(t *testing.T) {
	f := newFixture(t, Options{BridgeAPI: true})
	ctx := context.Background()
	_ = f.rec.ApplyBridgeDevice(ctx, "", decode(t, `{"nukiId":5,"name":"Garage","deviceType":0,"lastKnownState":{"state":1}}`))

	body := decode(t, `{"nukiId":5,"deviceType":0,"state":3,"stateName":"unlocked","batteryCritical":true,"doorsensorState":3,"doorsensorStateName":"door opened"}`)
	if err := f.rec.ApplyCallback(ctx, body); err != nil {
		t.Fatal(err)
	}
	checks := map[string]any{
		"smartlocks.garage.state.lockState":       float64(3),
		"smartlocks.garage.state.lockStateName":   "UNLOCKED",
		"smartlocks.garage.state.locked":          false,
		"smartlocks.garage.state.batteryCritical": true,
		"smartlocks.garage.state.closed":          false,
		"smartlocks.garage.state.lastDataUpdate":  "2026-03-01T12:00:00+00:00",
	}
	for p, want := range checks {
		if got := f.val(t, p); got != want {
			t.Errorf("%s = %v, want %v", p, got, want)
		}
	}
	if _, ok := f.store.Get("smartlocks.garage.state.nukiId"); ok {
		t.Error("nukiId leaked into state")
	}

	// unknown device via callback is dropped
	if err := f.rec.ApplyCallback(ctx, decode(t, `{"nukiId":77,"state":1}`)); err != nil {
		t.Fatal(err)
	}
	if f.registry.Count() != 1 {
		t.Errorf("callback created a device")
	}
}

func TestApply_FieldFailuresAreIsolated(t *testing.T) {
	f := newFixture(t, Options{BridgeAPI: true})
	p := decode(t, `{"nukiId":9,"name":"Shed","deviceType":0,"lastKnownState":{"state":1,"batteryCritical":"sometimes","bad key":1,"keypad":{"codes":[1,2,3]}}}`)
	if err := f.rec.ApplyBridgeDevice(context.Background(), "", p); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.store.Get("smartlocks.shed.state.batteryCritical"); ok {
		t.Error("unparseable boolean stored")
	}
	if got := f.val(t, "smartlocks.shed.state.locked"); got != true {
		t.Errorf("locked = %v", got)
	}
	if got := f.val(t, "smartlocks.shed.state.keypad.codes"); got != "1,2,3" {
		t.Errorf("array flattening = %v", got)
	}
}

func TestApplyBridgeInfo(t *testing.T) {
	f := newFixture(t, Options{BridgeAPI: true})
	ctx := context.Background()
	b, err := f.registry.RegisterBridge(ctx, device.Bridge{Name: "Hallway", Host: "10.0.0.5", Port: 8080})
	if err != nil {
		t.Fatal(err)
	}

	info := decode(t, `{"bridgeType":1,"ids":{"hardwareId":12345,"serverId":98765},"versions":{"firmwareVersion":"2.14.0"},"uptime":60,"currentTime":"2026-03-01T12:00:00Z","serverConnected":true,"scanResults":[{"nukiId":1,"name":"Front Door","rssi":-60}]}`)
	got, err := f.rec.ApplyBridgeInfo(ctx, b, info)
	if err != nil {
		t.Fatalf("ApplyBridgeInfo() error: %v", err)
	}
	if got.ID != "98765" {
		t.Errorf("ID = %q", got.ID)
	}
	stored, _ := f.registry.Bridge("98765")
	if stored == nil || stored.Key != b.Key {
		t.Errorf("backfilled bridge not found by ID")
	}

	checks := map[string]any{
		"bridges.hallway.bridgeId":     float64(98765),
		"bridges.hallway.hardwareId":   float64(12345),
		"bridges.hallway.bridgeIp":     "10.0.0.5",
		"bridges.hallway.bridgePort":   float64(8080),
		"bridges.hallway.versFirmware": "2.14.0",
		"bridges.hallway._connected":   true,
		"bridges.hallway.refreshed":    "2026-03-01T12:00:00Z",
	}
	for p, want := range checks {
		if v := f.val(t, p); v != want {
			t.Errorf("%s = %v, want %v", p, v, want)
		}
	}
	for _, a := range BridgeActions {
		node, ok := f.store.Get("bridges.hallway.actions." + a)
		if !ok || node.Val != false || !node.Meta.Writable {
			t.Errorf("action %s = %+v", a, node)
		}
	}
	if n := f.events.count(events.TypeBridgeInfo); n != 1 {
		t.Errorf("bridge info events = %d", n)
	}
	if _, err := f.rec.ApplyBridgeInfo(ctx, got, info); err != nil {
		t.Fatal(err)
	}
	if n := f.events.count(events.TypeBridgeInfo); n != 1 {
		t.Errorf("unchanged info emitted another event")
	}
}

func TestApplyLogsUsersNotifications(t *testing.T) {
	f := newFixture(t, Options{WebAPI: true})
	ctx := context.Background()
	_ = f.rec.ApplyWebSmartlock(ctx, decode(t, `{"smartlockId":169552957,"type":0,"name":"Front Door","state":{"state":1}}`))

	logs := make([]any, 300)
	for i := range logs {
		logs[i] = map[string]any{"action": float64(1), "i": float64(i)}
	}
	if err := f.rec.ApplyLogs(ctx, "0a1b2c3d", logs); err != nil {
		t.Fatal(err)
	}
	var stored []any
	if err := json.Unmarshal([]byte(f.val(t, "smartlocks.front_door.logs").(string)), &stored); err != nil {
		t.Fatal(err)
	}
	if len(stored) != MaxStoredLogs {
		t.Errorf("stored %d logs, want %d", len(stored), MaxStoredLogs)
	}

	users := []map[string]any{
		decode(t, `{"name":"Jane Doe","enabled":true,"type":0,"creationDate":"2025-01-01T00:00:00Z"}`),
		decode(t, `{"enabled":false}`),
	}
	if err := f.rec.ApplyUsers(ctx, "0a1b2c3d", users); err != nil {
		t.Fatal(err)
	}
	if got := f.val(t, "smartlocks.front_door.users.jane_doe.enabled"); got != true {
		t.Errorf("user enabled = %v", got)
	}
	if got := f.val(t, "smartlocks.front_door.users.jane_doe.dateCreated"); got != "2025-01-01T00:00:00Z" {
		t.Errorf("dateCreated = %v", got)
	}
	if got := f.val(t, "smartlocks.front_door.users.unknown.enabled"); got != false {
		t.Errorf("unnamed user = %v", got)
	}
	if err := f.rec.ApplyUsers(ctx, "ffffffff", users); err == nil {
		t.Error("users for unknown device accepted")
	}

	notes := []map[string]any{decode(t, `{"notificationId":"abc-1","status":1,"os":2,"secret":"s3cret","settings":[{"triggerEvents":["lock","unlock"]}]}`)}
	if err := f.rec.ApplyNotifications(ctx, notes); err != nil {
		t.Fatal(err)
	}
	if got := f.val(t, "info.notifications.abc_1.status"); got != float64(1) {
		t.Errorf("status = %v", got)
	}
	if got := f.val(t, "info.notifications.abc_1.settings"); got != `[{"triggerEvents":["lock","unlock"]}]` {
		t.Errorf("settings = %v", got)
	}
	if _, ok := f.store.Get("info.notifications.abc_1.secret"); ok {
		t.Error("secret stored")
	}
}

func TestConfigBlock(t *testing.T) {
	tests := []struct {
		in, block, key string
		ok             bool
	}{
		{"config.gpsLatitude", "config", "latitude", true},
		{"config.ledEnabled", "config", "ledEnabled", true},
		{"advancedConfig.lngTimeout", "advancedConfig", "lngTimeout", true},
		{"openerAdvancedConfig.soundLevel", "openerAdvancedConfig", "soundLevel", true},
		{"state.locked", "", "", false},
	}
	for _, tt := range tests {
		block, key, ok := ConfigBlock(tt.in)
		if block != tt.block || key != tt.key || ok != tt.ok {
			t.Errorf("ConfigBlock(%q) = %q, %q, %v", tt.in, block, key, ok)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 13, 4, 5, 0, time.FixedZone("CET", 3600))
	if got := FormatTimestamp(ts); got != "2026-03-01T12:04:05+00:00" {
		t.Errorf("FormatTimestamp() = %q", got)
	}
}
