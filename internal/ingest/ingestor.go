package ingest

import (
	"context"
	"time"

	"github.com/fieldmesh/fieldcore/internal/alert"
	"github.com/fieldmesh/fieldcore/internal/command"
	"github.com/fieldmesh/fieldcore/internal/device"
)

// TimeSeriesWriter persists telemetry history.
// Satisfied by the influxdb.Client; nil-able, history is optional.
type TimeSeriesWriter interface {
	WriteSample(deviceID string, values map[string]float64, timestamp time.Time) error
	WriteVitals(deviceID string, uptime int64, freeMemory int64, wifiSignal int) error
}

// Evaluator runs alarm rules against a reading.
// Satisfied by the alarm.Evaluator.
type Evaluator interface {
	Evaluate(ctx context.Context, deviceID string, values map[string]float64) error
}

// Responder correlates device responses with pending commands.
// Satisfied by the command.Dispatcher.
type Responder interface {
	OnResponse(deviceID, name string, response map[string]any) bool
}

// SystemCommands executes operator system commands.
// Satisfied by the command.SystemHandler.
type SystemCommands interface {
	Handle(ctx context.Context, cmd command.SystemCommand) error
}

// Broadcaster pushes live updates to WebSocket subscribers.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger defines the logging interface used by the pipeline.
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

// Ingestor holds the handlers for each inbound message class.
//
// Handlers run on per-device queue workers; each handler processes one
// decoded message end to end. Side effects are independent: telemetry
// persistence failing does not skip alarm evaluation, and vice versa.
type Ingestor struct {
	tracker     *device.Tracker
	evaluator   Evaluator
	series      TimeSeriesWriter
	alerts      alert.Sink
	responder   Responder
	system      SystemCommands
	broadcaster Broadcaster
	logger      Logger
}

// IngestorDeps collects the collaborators an Ingestor drives.
// Series and Broadcaster may be nil; the rest are required.
type IngestorDeps struct {
	Tracker     *device.Tracker
	Evaluator   Evaluator
	Series      TimeSeriesWriter
	Alerts      alert.Sink
	Responder   Responder
	System      SystemCommands
	Broadcaster Broadcaster
	Logger      Logger
}

// NewIngestor creates the message handlers.
func NewIngestor(deps IngestorDeps) *Ingestor {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Ingestor{
		tracker:     deps.Tracker,
		evaluator:   deps.Evaluator,
		series:      deps.Series,
		alerts:      deps.Alerts,
		responder:   deps.Responder,
		system:      deps.System,
		broadcaster: deps.Broadcaster,
		logger:      logger,
	}
}

// HandleData processes one telemetry reading.
func (i *Ingestor) HandleData(ctx context.Context, deviceID string, payload []byte) {
	reading, err := ParseReading(payload)
	if err != nil {
		i.logger.Warn("dropping malformed reading", "device_id", deviceID, "error", err)
		return
	}

	if _, err := i.tracker.Touch(ctx, deviceID, device.KindDevice); err != nil {
		i.logger.Error("presence update failed", "device_id", deviceID, "error", err)
	}

	if len(reading.Values) == 0 {
		i.logger.Debug("reading carried no numeric fields", "device_id", deviceID)
		return
	}

	if err := i.tracker.SetSample(ctx, deviceID, reading.Values); err != nil {
		i.logger.Error("storing sample failed", "device_id", deviceID, "error", err)
	}

	// History is best-effort: a down time-series store must not block
	// alarm evaluation.
	if i.series != nil {
		if err := i.series.WriteSample(deviceID, reading.Values, reading.Timestamp); err != nil {
			i.logger.Warn("telemetry history write failed", "device_id", deviceID, "error", err)
		}
	}

	if err := i.evaluator.Evaluate(ctx, deviceID, reading.Values); err != nil {
		i.logger.Error("alarm evaluation failed", "device_id", deviceID, "error", err)
	}

	i.broadcast("device.data", map[string]any{
		"device_id": deviceID,
		"values":    reading.Values,
		"timestamp": reading.Timestamp,
	})
}

// HandleHeartbeat processes one device heartbeat.
func (i *Ingestor) HandleHeartbeat(ctx context.Context, deviceID string, payload []byte) {
	vitals, err := ParseHeartbeat(payload)
	if err != nil {
		i.logger.Warn("dropping malformed heartbeat", "device_id", deviceID, "error", err)
		return
	}

	// Persistence failure does not stop the sibling effects: the cached
	// vitals are current, so history and the broadcast still go out.
	if _, err := i.tracker.ApplyHeartbeat(ctx, deviceID, vitals); err != nil {
		i.logger.Error("heartbeat update failed", "device_id", deviceID, "error", err)
	}

	if i.series != nil {
		if err := i.series.WriteVitals(deviceID, vitals.Uptime, vitals.FreeMemory, vitals.WifiSignal); err != nil {
			i.logger.Warn("vitals history write failed", "device_id", deviceID, "error", err)
		}
	}

	i.broadcast("device.heartbeat", map[string]any{
		"device_id": deviceID,
		"vitals":    vitals,
	})
}

// HandleEvent processes one device event.
//
// Alertable events (motion, device-side alarms, tamper) are recorded as
// alerts. Error events feed the device's error history.
func (i *Ingestor) HandleEvent(ctx context.Context, deviceID string, payload []byte) {
	ev, err := ParseEvent(payload)
	if err != nil {
		i.logger.Warn("dropping malformed event", "device_id", deviceID, "error", err)
		return
	}

	if _, err := i.tracker.Touch(ctx, deviceID, device.KindDevice); err != nil {
		i.logger.Error("presence update failed", "device_id", deviceID, "error", err)
	}

	switch ev.Type {
	case "error":
		code, _ := ev.Data["code"].(string)
		if err := i.tracker.RecordError(ctx, deviceID, ev.Message, code); err != nil {
			i.logger.Error("recording device error failed", "device_id", deviceID, "error", err)
		}
	case "motion_detected", "alarm_triggered", "tamper":
		a := alert.Alert{
			DeviceID: deviceID,
			Type:     alert.TypeDeviceEvent,
			Message:  ev.Message,
			Severity: eventSeverity(ev.Type),
			Data:     map[string]any{"event_type": ev.Type},
		}
		for k, v := range ev.Data {
			a.Data[k] = v
		}
		if err := i.alerts.Record(ctx, a); err != nil {
			i.logger.Error("recording event alert failed", "device_id", deviceID, "error", err)
		}
	}

	i.broadcast("device.event", map[string]any{
		"device_id": deviceID,
		"type":      ev.Type,
		"message":   ev.Message,
		"data":      ev.Data,
	})
}

// HandleResponse processes one command acknowledgment.
func (i *Ingestor) HandleResponse(ctx context.Context, deviceID string, payload []byte) {
	resp, err := ParseResponse(payload)
	if err != nil {
		i.logger.Warn("dropping malformed response", "device_id", deviceID, "error", err)
		return
	}

	if _, err := i.tracker.Touch(ctx, deviceID, device.KindDevice); err != nil {
		i.logger.Error("presence update failed", "device_id", deviceID, "error", err)
	}

	response := map[string]any{"status": resp.Status}
	if resp.Error != "" {
		response["error"] = resp.Error
	}
	for k, v := range resp.Data {
		response[k] = v
	}

	if !i.responder.OnResponse(deviceID, resp.Command, response) {
		i.logger.Debug("response matched no pending command",
			"device_id", deviceID, "command", resp.Command)
	}

	if resp.Status == "error" {
		if err := i.tracker.RecordError(ctx, deviceID, resp.Error, resp.Command); err != nil {
			i.logger.Error("recording command error failed", "device_id", deviceID, "error", err)
		}
	}
}

// HandleGatewayStatus processes one gateway health payload.
func (i *Ingestor) HandleGatewayStatus(ctx context.Context, gatewayID string, payload []byte) {
	gs, err := ParseGatewayStatus(payload)
	if err != nil {
		i.logger.Warn("dropping malformed gateway status", "gateway_id", gatewayID, "error", err)
		return
	}

	if _, err := i.tracker.Touch(ctx, gatewayID, device.KindGateway); err != nil {
		i.logger.Error("presence update failed", "gateway_id", gatewayID, "error", err)
	}

	i.broadcast("gateway.status", map[string]any{
		"gateway_id":        gatewayID,
		"status":            gs.Status,
		"connected_devices": gs.ConnectedDevices,
		"uptime":            gs.Uptime,
	})
}

// HandleSystemCommand processes one operator system command.
func (i *Ingestor) HandleSystemCommand(ctx context.Context, payload []byte) {
	cmd, err := ParseSystemCommand(payload)
	if err != nil {
		i.logger.Warn("dropping malformed system command", "error", err)
		return
	}

	if err := i.system.Handle(ctx, cmd); err != nil {
		i.logger.Warn("system command rejected", "command", cmd.Command, "error", err)
	}
}

func (i *Ingestor) broadcast(channel string, payload any) {
	if i.broadcaster != nil {
		i.broadcaster.Broadcast(channel, payload)
	}
}

// eventSeverity maps event types to alert severities.
func eventSeverity(eventType string) string {
	switch eventType {
	case "alarm_triggered", "tamper":
		return "high"
	default:
		return "medium"
	}
}
