package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeRepo is an in-memory Repository for tracker tests.
// Set saveErr to simulate persistence failure.
type fakeRepo struct {
	mu      sync.Mutex
	states  map[string]State
	saveErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{states: make(map[string]State)}
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return state.DeepCopy(), nil
}

func (f *fakeRepo) List(_ context.Context) ([]State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]State, 0, len(f.states))
	for _, s := range f.states {
		out = append(out, *s.DeepCopy())
	}
	return out, nil
}

func (f *fakeRepo) Save(_ context.Context, state *State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.states[state.ID] = *state.DeepCopy()
	return nil
}

func (f *fakeRepo) MarkOffline(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if s, ok := f.states[id]; ok {
			s.Online = false
			f.states[id] = s
		}
	}
	return nil
}

// newTestTracker returns a tracker with a controllable clock.
func newTestTracker(t *testing.T, freshness time.Duration) (*Tracker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(newFakeRepo(), freshness)
	tracker.now = func() time.Time { return now }
	return tracker, &now
}

func TestTouchRegistersUnknownDevice(t *testing.T) {
	tracker, _ := newTestTracker(t, 5*time.Minute)
	ctx := context.Background()

	cameOnline, err := tracker.Touch(ctx, "GREENHOUSE-A1", KindDevice)
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if !cameOnline {
		t.Error("first contact should report an online transition")
	}

	state, ok := tracker.Get("GREENHOUSE-A1")
	if !ok {
		t.Fatal("device should be registered after first contact")
	}
	if !state.Online || state.Kind != KindDevice {
		t.Errorf("state = %+v, want online device", state)
	}
	if state.RetryAttempts != -1 {
		t.Errorf("RetryAttempts = %d, want -1 (dispatcher default)", state.RetryAttempts)
	}
}

func TestTouchMonotonicLastSeen(t *testing.T) {
	tracker, now := newTestTracker(t, 5*time.Minute)
	ctx := context.Background()

	base := *now
	if _, err := tracker.Touch(ctx, "dev-1", KindDevice); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	// Clock goes backwards (delayed message replay); LastSeen must not.
	*now = base.Add(-30 * time.Second)
	if _, err := tracker.Touch(ctx, "dev-1", KindDevice); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	state, _ := tracker.Get("dev-1")
	if !state.LastSeen.Equal(base) {
		t.Errorf("LastSeen = %v, want %v (no backwards movement)", state.LastSeen, base)
	}
}

func TestOnlineTransitionResetsErrors(t *testing.T) {
	tracker, now := newTestTracker(t, 5*time.Minute)
	ctx := context.Background()

	if _, err := tracker.Touch(ctx, "dev-1", KindDevice); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := tracker.RecordError(ctx, "dev-1", "sensor failed", "E_SENSOR"); err != nil {
		t.Fatalf("RecordError: %v", err)
	}

	// Device goes silent past the freshness window and is swept offline.
	*now = now.Add(6 * time.Minute)
	ids, err := tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(ids) != 1 || ids[0] != "dev-1" {
		t.Fatalf("Sweep = %v, want [dev-1]", ids)
	}

	// Second sweep is a no-op.
	ids, err = tracker.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("second Sweep = %v, want empty", ids)
	}

	// Device comes back; error history resets with the online transition.
	cameOnline, err := tracker.Touch(ctx, "dev-1", KindDevice)
	if err != nil {
		t.Fatalf("Touch after offline: %v", err)
	}
	if !cameOnline {
		t.Error("Touch after offline should report a transition")
	}
	state, _ := tracker.Get("dev-1")
	if state.ErrorCount != 0 || state.LastError != nil {
		t.Errorf("errors not reset: count=%d lastErr=%+v", state.ErrorCount, state.LastError)
	}
}

func TestFreshnessWindowBoundary(t *testing.T) {
	tracker, now := newTestTracker(t, 5*time.Minute)
	ctx := context.Background()

	if _, err := tracker.Touch(ctx, "dev-1", KindDevice); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	// 200 seconds of silence: still inside the window.
	*now = now.Add(200 * time.Second)
	if stale := tracker.FindOffline(); len(stale) != 0 {
		t.Errorf("FindOffline at 200s = %v, want none", stale)
	}

	// 301 seconds: past the window.
	*now = now.Add(101 * time.Second)
	stale := tracker.FindOffline()
	if len(stale) != 1 || stale[0] != "dev-1" {
		t.Errorf("FindOffline at 301s = %v, want [dev-1]", stale)
	}
}

func TestApplyHeartbeatIdempotent(t *testing.T) {
	tracker, _ := newTestTracker(t, 5*time.Minute)
	ctx := context.Background()

	vitals := Vitals{Uptime: 3600, FreeMemory: 49152, WifiSignal: -67, FirmwareVersion: "2.1.0"}
	for i := 0; i < 3; i++ {
		if _, err := tracker.ApplyHeartbeat(ctx, "dev-1", vitals); err != nil {
			t.Fatalf("ApplyHeartbeat %d: %v", i, err)
		}
	}

	state, _ := tracker.Get("dev-1")
	if state.Uptime != 3600 || state.FreeMemory != 49152 || state.WifiSignal != -67 {
		t.Errorf("vitals = %+v", state)
	}
	if state.FirmwareVersion != "2.1.0" {
		t.Errorf("FirmwareVersion = %q, want 2.1.0", state.FirmwareVersion)
	}

	// A heartbeat without a version keeps the previous one.
	if _, err := tracker.ApplyHeartbeat(ctx, "dev-1", Vitals{Uptime: 3700}); err != nil {
		t.Fatalf("ApplyHeartbeat: %v", err)
	}
	state, _ = tracker.Get("dev-1")
	if state.FirmwareVersion != "2.1.0" {
		t.Errorf("FirmwareVersion after empty update = %q, want 2.1.0", state.FirmwareVersion)
	}
}

func TestSetSampleUnknownDevice(t *testing.T) {
	tracker, _ := newTestTracker(t, 5*time.Minute)

	err := tracker.SetSample(context.Background(), "ghost", map[string]float64{"x": 1})
	if err == nil {
		t.Error("SetSample on unknown device should fail")
	}
}

func TestConcurrentTouches(t *testing.T) {
	tracker := NewTracker(newFakeRepo(), 5*time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := tracker.Touch(ctx, "dev-1", KindDevice); err != nil {
					t.Errorf("Touch: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	state, ok := tracker.Get("dev-1")
	if !ok || !state.Online {
		t.Error("device should be online after concurrent touches")
	}
}

func TestPolicy(t *testing.T) {
	tracker, _ := newTestTracker(t, 5*time.Minute)
	ctx := context.Background()

	// Unknown device: full defaults.
	policy := tracker.Policy("ghost")
	if policy.AckTimeout != 0 || policy.RetryAttempts != -1 {
		t.Errorf("unknown device policy = %+v", policy)
	}

	if _, err := tracker.Touch(ctx, "dev-1", KindDevice); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	policy = tracker.Policy("dev-1")
	if policy.AckTimeout != 0 || policy.RetryAttempts != -1 {
		t.Errorf("fresh device policy = %+v, want defaults", policy)
	}
}

func TestLoadFromRepository(t *testing.T) {
	repo := newFakeRepo()
	repo.states["dev-1"] = State{ID: "dev-1", Online: true, Kind: KindDevice}
	repo.states["gw-1"] = State{ID: "gw-1", Kind: KindGateway}

	tracker := NewTracker(repo, 5*time.Minute)
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	devices := tracker.List()
	if len(devices) != 2 {
		t.Fatalf("List = %d devices, want 2", len(devices))
	}
	if devices[0].ID != "dev-1" || devices[1].ID != "gw-1" {
		t.Errorf("List order = %s, %s", devices[0].ID, devices[1].ID)
	}
}

func TestRunNonPositiveInterval(t *testing.T) {
	tracker, _ := newTestTracker(t, 5*time.Minute)

	// A disabled sweep must return immediately, not panic in NewTicker.
	done := make(chan struct{})
	go func() {
		tracker.Run(context.Background(), 0, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with zero interval did not return")
	}
}

func TestApplyHeartbeatPersistenceFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.saveErr = errors.New("disk full")
	tracker := NewTracker(repo, 5*time.Minute)
	ctx := context.Background()

	_, err := tracker.ApplyHeartbeat(ctx, "dev-1", Vitals{Uptime: 120, FreeMemory: 30000, WifiSignal: -70})
	if err == nil {
		t.Fatal("expected the persistence error to surface")
	}

	// Failing to persist must not keep the vitals out of the cache.
	state, ok := tracker.Get("dev-1")
	if !ok {
		t.Fatal("device should be cached despite persistence failure")
	}
	if !state.Online || state.Uptime != 120 || state.WifiSignal != -70 {
		t.Errorf("state = %+v, want vitals applied", state)
	}
}
