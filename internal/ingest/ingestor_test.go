package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fieldmesh/fieldcore/internal/alert"
	"github.com/fieldmesh/fieldcore/internal/command"
	"github.com/fieldmesh/fieldcore/internal/device"
)

// memoryRepo is an in-memory device.Repository.
// Set saveErr to simulate persistence failure.
type memoryRepo struct {
	mu      sync.Mutex
	states  map[string]device.State
	saveErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{states: make(map[string]device.State)}
}

func (m *memoryRepo) GetByID(_ context.Context, id string) (*device.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return s.DeepCopy(), nil
}

func (m *memoryRepo) List(_ context.Context) ([]device.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.State, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, *s.DeepCopy())
	}
	return out, nil
}

func (m *memoryRepo) Save(_ context.Context, state *device.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.states[state.ID] = *state.DeepCopy()
	return nil
}

func (m *memoryRepo) MarkOffline(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if s, ok := m.states[id]; ok {
			s.Online = false
			m.states[id] = s
		}
	}
	return nil
}

// spyEvaluator records evaluated readings.
type spyEvaluator struct {
	mu    sync.Mutex
	calls []map[string]float64
}

func (s *spyEvaluator) Evaluate(_ context.Context, _ string, values map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, values)
	return nil
}

// spySeries records and optionally fails sample writes.
type spySeries struct {
	mu      sync.Mutex
	samples int
	vitals  int
	fail    bool
}

func (s *spySeries) WriteSample(string, map[string]float64, time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("influx down")
	}
	s.samples++
	return nil
}

func (s *spySeries) WriteVitals(string, int64, int64, int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("influx down")
	}
	s.vitals++
	return nil
}

// spySink records alerts.
type spySink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (s *spySink) Record(_ context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

// spyResponder records correlation attempts.
type spyResponder struct {
	mu    sync.Mutex
	calls []string
}

func (s *spyResponder) OnResponse(deviceID, name string, _ map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, deviceID+"/"+name)
	return true
}

// spySystem records handled system commands.
type spySystem struct {
	mu   sync.Mutex
	cmds []command.SystemCommand
}

func (s *spySystem) Handle(_ context.Context, cmd command.SystemCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return nil
}

// spyBroadcaster records broadcast channels.
type spyBroadcaster struct {
	mu       sync.Mutex
	channels []string
}

func (s *spyBroadcaster) Broadcast(channel string, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, channel)
}

func (s *spyBroadcaster) has(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.channels {
		if c == channel {
			return true
		}
	}
	return false
}

type testFixture struct {
	ingestor    *Ingestor
	repo        *memoryRepo
	tracker     *device.Tracker
	evaluator   *spyEvaluator
	series      *spySeries
	sink        *spySink
	responder   *spyResponder
	system      *spySystem
	broadcaster *spyBroadcaster
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	repo := newMemoryRepo()
	f := &testFixture{
		repo:        repo,
		tracker:     device.NewTracker(repo, 5*time.Minute),
		evaluator:   &spyEvaluator{},
		series:      &spySeries{},
		sink:        &spySink{},
		responder:   &spyResponder{},
		system:      &spySystem{},
		broadcaster: &spyBroadcaster{},
	}
	f.ingestor = NewIngestor(IngestorDeps{
		Tracker:     f.tracker,
		Evaluator:   f.evaluator,
		Series:      f.series,
		Alerts:      f.sink,
		Responder:   f.responder,
		System:      f.system,
		Broadcaster: f.broadcaster,
	})
	return f
}

func TestHandleDataFullPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ingestor.HandleData(ctx, "GREENHOUSE-A1", []byte(`{"temperature": 21.5, "humidity": 64}`))

	state, ok := f.tracker.Get("GREENHOUSE-A1")
	if !ok || !state.Online {
		t.Fatal("device should be online after a reading")
	}
	if state.LastSample["temperature"] != 21.5 {
		t.Errorf("LastSample = %v", state.LastSample)
	}
	if f.series.samples != 1 {
		t.Errorf("series writes = %d, want 1", f.series.samples)
	}
	if len(f.evaluator.calls) != 1 {
		t.Errorf("evaluations = %d, want 1", len(f.evaluator.calls))
	}
	if !f.broadcaster.has("device.data") {
		t.Error("device.data should be broadcast")
	}
}

func TestHandleDataSeriesFailureDoesNotBlockEvaluation(t *testing.T) {
	f := newFixture(t)
	f.series.fail = true

	f.ingestor.HandleData(context.Background(), "dev-1", []byte(`{"temperature": 35}`))

	if len(f.evaluator.calls) != 1 {
		t.Errorf("evaluations = %d, want 1 despite series failure", len(f.evaluator.calls))
	}
	if _, ok := f.tracker.Get("dev-1"); !ok {
		t.Error("presence should update despite series failure")
	}
}

func TestHandleDataMalformedDropped(t *testing.T) {
	f := newFixture(t)

	f.ingestor.HandleData(context.Background(), "dev-1", []byte(`{nope`))

	if _, ok := f.tracker.Get("dev-1"); ok {
		t.Error("malformed reading should not register a device")
	}
	if len(f.evaluator.calls) != 0 {
		t.Error("malformed reading should not be evaluated")
	}
}

func TestHandleHeartbeat(t *testing.T) {
	f := newFixture(t)

	f.ingestor.HandleHeartbeat(context.Background(), "dev-1",
		[]byte(`{"uptime": 3600, "free_heap": 49152, "wifi_rssi": -67, "version": "2.1.0"}`))

	state, ok := f.tracker.Get("dev-1")
	if !ok {
		t.Fatal("heartbeat should register the device")
	}
	if state.Uptime != 3600 || state.FirmwareVersion != "2.1.0" {
		t.Errorf("state = %+v", state)
	}
	if f.series.vitals != 1 {
		t.Errorf("vitals writes = %d, want 1", f.series.vitals)
	}
	if !f.broadcaster.has("device.heartbeat") {
		t.Error("device.heartbeat should be broadcast")
	}
}

func TestHandleEventError(t *testing.T) {
	f := newFixture(t)

	f.ingestor.HandleEvent(context.Background(), "dev-1",
		[]byte(`{"event": "error", "message": "sensor read failed", "code": "E_SENSOR"}`))

	state, _ := f.tracker.Get("dev-1")
	if state.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", state.ErrorCount)
	}
	if state.LastError == nil || state.LastError.Code != "E_SENSOR" {
		t.Errorf("LastError = %+v", state.LastError)
	}
	if len(f.sink.alerts) != 0 {
		t.Error("error events update history, they do not raise alerts")
	}
}

func TestHandleEventMotionRaisesAlert(t *testing.T) {
	f := newFixture(t)

	// Firmware shape: event name under "event", flat extra fields.
	f.ingestor.HandleEvent(context.Background(), "dev-1",
		[]byte(`{"event": "motion_detected", "device_id": "dev-1", "timestamp": 1755259200}`))

	if len(f.sink.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(f.sink.alerts))
	}
	a := f.sink.alerts[0]
	if a.Type != alert.TypeDeviceEvent || a.Data["event_type"] != "motion_detected" {
		t.Errorf("alert = %+v", a)
	}
}

func TestHandleResponseCorrelatesAndRecordsErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ingestor.HandleResponse(ctx, "dev-1", []byte(`{"command": "restart", "status": "ok"}`))
	if len(f.responder.calls) != 1 || f.responder.calls[0] != "dev-1/restart" {
		t.Errorf("responder calls = %v", f.responder.calls)
	}

	f.ingestor.HandleResponse(ctx, "dev-1",
		[]byte(`{"command": "update_firmware", "status": "error", "error": "flash full"}`))

	state, _ := f.tracker.Get("dev-1")
	if state.ErrorCount != 1 || state.LastError == nil || state.LastError.Message != "flash full" {
		t.Errorf("error history = count %d, %+v", state.ErrorCount, state.LastError)
	}
}

func TestHandleGatewayStatus(t *testing.T) {
	f := newFixture(t)

	f.ingestor.HandleGatewayStatus(context.Background(), "gw-north",
		[]byte(`{"status": "healthy", "connected_devices": 12, "uptime": 86400}`))

	state, ok := f.tracker.Get("gw-north")
	if !ok || state.Kind != device.KindGateway {
		t.Errorf("gateway state = %+v", state)
	}
	if !f.broadcaster.has("gateway.status") {
		t.Error("gateway.status should be broadcast")
	}
}

func TestHandleSystemCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ingestor.HandleSystemCommand(ctx, []byte(`{"command": "scan_devices"}`))
	if len(f.system.cmds) != 1 || f.system.cmds[0].Command != "scan_devices" {
		t.Errorf("system commands = %v", f.system.cmds)
	}

	// Malformed is dropped without reaching the handler.
	f.ingestor.HandleSystemCommand(ctx, []byte(`{`))
	if len(f.system.cmds) != 1 {
		t.Error("malformed system command should be dropped")
	}
}

func TestHandleHeartbeatPersistenceFailureKeepsSiblings(t *testing.T) {
	f := newFixture(t)
	f.repo.saveErr = errors.New("disk full")

	f.ingestor.HandleHeartbeat(context.Background(), "dev-1",
		[]byte(`{"uptime": 120, "free_heap": 30000, "wifi_rssi": -70}`))

	// The cached view stays current and the sibling effects still run.
	state, ok := f.tracker.Get("dev-1")
	if !ok || !state.Online || state.Uptime != 120 {
		t.Errorf("state = %+v, want vitals cached despite persistence failure", state)
	}
	if f.series.vitals != 1 {
		t.Errorf("vitals writes = %d, want 1", f.series.vitals)
	}
	if !f.broadcaster.has("device.heartbeat") {
		t.Error("device.heartbeat should be broadcast")
	}
}
