package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Tracker.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Tracker maintains authoritative presence and health state for all
// devices. State lives in memory and is written through to a Repository.
//
// Unknown devices are registered on first contact. LastSeen only moves
// forward, so replayed or delayed messages cannot mask current silence.
//
// All public methods are thread-safe.
type Tracker struct {
	repo      Repository
	freshness time.Duration

	cache map[string]*State
	mu    sync.Mutex

	logger Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewTracker creates a presence tracker.
//
// freshness is the window within which a device that has been heard from
// counts as online.
func NewTracker(repo Repository, freshness time.Duration) *Tracker {
	return &Tracker{
		repo:      repo,
		freshness: freshness,
		cache:     make(map[string]*State),
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// Load populates the in-memory state from the repository.
// This should be called once on application startup.
func (t *Tracker) Load(ctx context.Context) error {
	devices, err := t.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cache = make(map[string]*State, len(devices))
	for i := range devices {
		d := devices[i]
		t.cache[d.ID] = d.DeepCopy()
	}

	t.logger.Info("device state loaded", "count", len(devices))
	return nil
}

// Touch records evidence that a device is alive.
//
// It advances LastSeen (monotonically), registers unknown devices, and
// flips offline devices back online. The online transition resets the
// error history, matching the device having recovered.
//
// Returns true when this message caused an offline-to-online transition.
func (t *Tracker) Touch(ctx context.Context, id string, kind Kind) (bool, error) {
	now := t.now()

	t.mu.Lock()
	state, ok := t.cache[id]
	if !ok {
		state = &State{
			ID:            id,
			Kind:          kind,
			RetryAttempts: -1,
		}
		t.cache[id] = state
	}

	cameOnline := !state.Online
	state.Online = true
	if now.After(state.LastSeen) {
		state.LastSeen = now
	}
	if cameOnline {
		state.ErrorCount = 0
		state.LastError = nil
	}
	snapshot := state.DeepCopy()
	t.mu.Unlock()

	if err := t.repo.Save(ctx, snapshot); err != nil {
		return cameOnline, fmt.Errorf("persisting device %s: %w", id, err)
	}

	if cameOnline {
		t.logger.Info("device online", "device_id", id, "kind", string(kind))
	}
	return cameOnline, nil
}

// ApplyHeartbeat records the vitals from a device heartbeat.
// Repeated identical heartbeats are harmless; the operation is idempotent
// apart from advancing LastSeen.
func (t *Tracker) ApplyHeartbeat(ctx context.Context, id string, vitals Vitals) (bool, error) {
	cameOnline, err := t.Touch(ctx, id, KindDevice)
	if err != nil {
		// The cache entry exists even when Touch's persistence failed;
		// vitals still apply and the save below rewrites the same row.
		t.logger.Warn("presence persistence failed, applying vitals anyway",
			"device_id", id, "error", err)
	}

	t.mu.Lock()
	state := t.cache[id]
	state.Uptime = vitals.Uptime
	state.FreeMemory = vitals.FreeMemory
	state.WifiSignal = vitals.WifiSignal
	if vitals.FirmwareVersion != "" {
		state.FirmwareVersion = vitals.FirmwareVersion
	}
	snapshot := state.DeepCopy()
	t.mu.Unlock()

	if err := t.repo.Save(ctx, snapshot); err != nil {
		return cameOnline, fmt.Errorf("persisting heartbeat for %s: %w", id, err)
	}
	return cameOnline, nil
}

// SetSample stores the latest telemetry values for a device.
func (t *Tracker) SetSample(ctx context.Context, id string, values map[string]float64) error {
	t.mu.Lock()
	state, ok := t.cache[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	state.LastSample = make(map[string]float64, len(values))
	for k, v := range values {
		state.LastSample[k] = v
	}
	snapshot := state.DeepCopy()
	t.mu.Unlock()

	if err := t.repo.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("persisting sample for %s: %w", id, err)
	}
	return nil
}

// RecordError increments a device's error count and stores the error detail.
func (t *Tracker) RecordError(ctx context.Context, id, message, code string) error {
	t.mu.Lock()
	state, ok := t.cache[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	state.ErrorCount++
	state.LastError = &LastError{
		Message:   message,
		Code:      code,
		Timestamp: t.now().UTC(),
	}
	snapshot := state.DeepCopy()
	t.mu.Unlock()

	if err := t.repo.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("persisting error for %s: %w", id, err)
	}
	return nil
}

// Get returns a copy of one device's state.
func (t *Tracker) Get(id string) (*State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.cache[id]
	if !ok {
		return nil, false
	}
	return state.DeepCopy(), true
}

// List returns copies of all device states, ordered by identifier.
func (t *Tracker) List() []State {
	t.mu.Lock()
	defer t.mu.Unlock()

	devices := make([]State, 0, len(t.cache))
	for _, state := range t.cache {
		devices = append(devices, *state.DeepCopy())
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// Policy returns the command delivery overrides for a device.
// Unknown devices get the zero policy (dispatcher defaults apply).
func (t *Tracker) Policy(id string) CommandPolicy {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.cache[id]
	if !ok {
		return CommandPolicy{RetryAttempts: -1}
	}
	return state.Policy()
}

// FindOffline returns the devices currently marked online whose LastSeen
// has fallen outside the freshness window.
//
// This is the authoritative presence check: it answers from state at call
// time rather than relying on a background loop having run.
func (t *Tracker) FindOffline() []string {
	cutoff := t.now().Add(-t.freshness)

	t.mu.Lock()
	defer t.mu.Unlock()

	var stale []string
	for id, state := range t.cache {
		if state.Online && state.LastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

// Sweep marks every stale device offline and returns the IDs that
// transitioned. Devices already offline are untouched, so repeated sweeps
// are idempotent.
func (t *Tracker) Sweep(ctx context.Context) ([]string, error) {
	stale := t.FindOffline()
	if len(stale) == 0 {
		return nil, nil
	}

	t.mu.Lock()
	for _, id := range stale {
		if state, ok := t.cache[id]; ok {
			state.Online = false
		}
	}
	t.mu.Unlock()

	if err := t.repo.MarkOffline(ctx, stale); err != nil {
		return stale, fmt.Errorf("persisting offline sweep: %w", err)
	}

	for _, id := range stale {
		t.logger.Warn("device offline", "device_id", id)
	}
	return stale, nil
}

// Run executes the offline sweep on the given interval until ctx is
// cancelled. onOffline is invoked once per newly-offline device.
// A non-positive interval disables the sweep; FindOffline remains
// available for pull-based checks.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, onOffline func(id string)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := t.Sweep(ctx)
			if err != nil {
				t.logger.Error("offline sweep failed", "error", err)
			}
			if onOffline != nil {
				for _, id := range ids {
					onOffline(id)
				}
			}
		}
	}
}
