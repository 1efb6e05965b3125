package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldmesh/fieldcore/internal/device"
	"github.com/fieldmesh/fieldcore/internal/infrastructure/mqtt"
)

// Publisher sends a payload to an MQTT topic.
// Satisfied by the mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// PolicySource resolves per-device command delivery overrides.
// Satisfied by the device.Tracker.
type PolicySource interface {
	Policy(id string) device.CommandPolicy
}

// Logger defines the logging interface used by the Dispatcher.
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

// commandSource identifies this service in outbound command payloads.
const commandSource = "fieldcore"

// pending is one in-flight command.
type pending struct {
	id       string
	deviceID string
	name     string
	payload  []byte
	sentAt   time.Time

	attempts    int
	maxRetries  int
	ackTimeout  time.Duration
	timer       *time.Timer
	done        chan Result
	resolvedVia State
}

// Dispatcher tracks in-flight device commands and their acknowledgments.
//
// All public methods are thread-safe.
type Dispatcher struct {
	pub      Publisher
	policies PolicySource
	topics   mqtt.Topics
	logger   Logger

	defaultAckTimeout time.Duration
	defaultRetries    int

	// pending is keyed by deviceID + "/" + command name; responses carry
	// no command ID, so device and name are the correlation key.
	pending map[string]*pending
	mu      sync.Mutex

	closed bool
}

// NewDispatcher creates a command dispatcher.
//
// ackTimeout and retries are the defaults applied to devices without
// per-device overrides.
func NewDispatcher(pub Publisher, policies PolicySource, ackTimeout time.Duration, retries int) *Dispatcher {
	return &Dispatcher{
		pub:               pub,
		policies:          policies,
		logger:            noopLogger{},
		defaultAckTimeout: ackTimeout,
		defaultRetries:    retries,
		pending:           make(map[string]*pending),
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Send publishes a command to a device and tracks it until acknowledged.
//
// The payload carries the command name, any parameters, a timestamp and
// the source service. Delivery is QoS 2. If a command with the same name
// is already pending for the device, it resolves as cancelled and the new
// command supersedes it.
func (d *Dispatcher) Send(ctx context.Context, deviceID, name string, params map[string]any) (*PendingCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	body := map[string]any{
		"id":        id,
		"command":   name,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"source":    commandSource,
	}
	if len(params) > 0 {
		body["params"] = params
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling command: %w", err)
	}

	topic := d.topics.DeviceCommands(deviceID)
	if err := d.pub.Publish(topic, payload, 2, false); err != nil {
		return nil, fmt.Errorf("publishing command %s to %s: %w", name, deviceID, err)
	}

	policy := d.policies.Policy(deviceID)
	ackTimeout := policy.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = d.defaultAckTimeout
	}
	retries := policy.RetryAttempts
	if retries < 0 {
		retries = d.defaultRetries
	}

	p := &pending{
		id:         id,
		deviceID:   deviceID,
		name:       name,
		payload:    payload,
		sentAt:     time.Now(),
		maxRetries: retries,
		ackTimeout: ackTimeout,
		done:       make(chan Result, 1),
	}

	key := pendingKey(deviceID, name)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrCancelled
	}
	if old, ok := d.pending[key]; ok {
		d.resolveLocked(old, Result{State: StateCancelled, Err: ErrCancelled})
	}
	d.pending[key] = p
	p.timer = time.AfterFunc(ackTimeout, func() { d.handleTimeout(key, p) })
	d.mu.Unlock()

	d.logger.Debug("command sent",
		"device_id", deviceID, "command", name, "command_id", id, "ack_timeout", ackTimeout)

	return &PendingCommand{
		ID:       id,
		DeviceID: deviceID,
		Name:     name,
		SentAt:   p.sentAt,
		Done:     p.done,
	}, nil
}

// SendAndWait sends a command and blocks until it resolves or ctx expires.
func (d *Dispatcher) SendAndWait(ctx context.Context, deviceID, name string, params map[string]any) (Result, error) {
	pc, err := d.Send(ctx, deviceID, name, params)
	if err != nil {
		return Result{}, err
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case result := <-pc.Done:
		return result, result.Err
	}
}

// OnResponse correlates a device response with its pending command.
//
// Returns true when a pending command was acknowledged; false means the
// response did not match anything in flight and was ignored.
func (d *Dispatcher) OnResponse(deviceID, name string, response map[string]any) bool {
	key := pendingKey(deviceID, name)

	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok {
		d.mu.Unlock()
		return false
	}
	d.resolveLocked(p, Result{State: StateAcked, Response: response})
	d.mu.Unlock()

	d.logger.Debug("command acknowledged",
		"device_id", deviceID, "command", name, "command_id", p.id, "attempts", p.attempts)
	return true
}

// CancelDevice fails every pending command for a device.
// Called when the device goes offline. Returns the number cancelled.
func (d *Dispatcher) CancelDevice(deviceID string) int {
	d.mu.Lock()
	var cancelled int
	for _, p := range d.pending {
		if p.deviceID == deviceID {
			d.resolveLocked(p, Result{State: StateCancelled, Err: ErrCancelled})
			cancelled++
		}
	}
	d.mu.Unlock()

	if cancelled > 0 {
		d.logger.Info("pending commands cancelled", "device_id", deviceID, "count", cancelled)
	}
	return cancelled
}

// PendingCount returns the number of commands currently in flight.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close cancels all in-flight commands and rejects new sends.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	for _, p := range d.pending {
		d.resolveLocked(p, Result{State: StateCancelled, Err: ErrCancelled})
	}
}

// handleTimeout runs when a command's ack timer fires. It republishes
// while retries remain, otherwise resolves the command as timed out.
func (d *Dispatcher) handleTimeout(key string, p *pending) {
	d.mu.Lock()
	current, ok := d.pending[key]
	if !ok || current != p {
		// Already resolved or superseded.
		d.mu.Unlock()
		return
	}

	if p.attempts < p.maxRetries {
		p.attempts++
		p.timer = time.AfterFunc(p.ackTimeout, func() { d.handleTimeout(key, p) })
		d.mu.Unlock()

		d.logger.Warn("command unacknowledged, retrying",
			"device_id", p.deviceID, "command", p.name, "attempt", p.attempts, "max_retries", p.maxRetries)

		topic := d.topics.DeviceCommands(p.deviceID)
		if err := d.pub.Publish(topic, p.payload, 2, false); err != nil {
			d.logger.Error("command retry publish failed",
				"device_id", p.deviceID, "command", p.name, "error", err)
		}
		return
	}

	d.resolveLocked(p, Result{State: StateTimedOut, Err: ErrAckTimeout})
	d.mu.Unlock()

	d.logger.Error("command failed, no acknowledgment",
		"device_id", p.deviceID, "command", p.name, "attempts", p.attempts)
}

// resolveLocked finishes a command. Caller must hold d.mu.
func (d *Dispatcher) resolveLocked(p *pending, result Result) {
	key := pendingKey(p.deviceID, p.name)
	if current, ok := d.pending[key]; ok && current == p {
		delete(d.pending, key)
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.resolvedVia != "" {
		return
	}
	p.resolvedVia = result.State
	p.done <- result
}

func pendingKey(deviceID, name string) string {
	return deviceID + "/" + name
}
