package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldmesh/fieldcore/internal/infrastructure/mqtt"
)

// SystemCommand is an operator command arriving on system/commands.
// The wire payload is {command, target, data}.
type SystemCommand struct {
	Command string         `json:"command"`
	Target  string         `json:"target,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// System command names.
const (
	SysRestartDevice  = "restart_device"
	SysUpdateFirmware = "update_firmware"
	SysFactoryReset   = "factory_reset"
	SysScanDevices    = "scan_devices"
)

// SystemHandler translates operator system commands into device commands
// or gateway fan-out publishes.
type SystemHandler struct {
	dispatcher *Dispatcher
	pub        Publisher
	logger     Logger
}

// NewSystemHandler creates a system command handler.
func NewSystemHandler(dispatcher *Dispatcher, pub Publisher) *SystemHandler {
	return &SystemHandler{
		dispatcher: dispatcher,
		pub:        pub,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the handler.
func (h *SystemHandler) SetLogger(logger Logger) {
	h.logger = logger
}

// Handle executes one system command.
//
// Device-targeted commands (restart, firmware update, factory reset) are
// dispatched through the acknowledged command path. scan_devices fans out
// to all gateways on gateway/commands. Unknown commands are an error the
// caller logs and drops; they never crash ingest.
func (h *SystemHandler) Handle(ctx context.Context, cmd SystemCommand) error {
	switch cmd.Command {
	case SysRestartDevice:
		return h.sendToTarget(ctx, cmd, "restart", nil)

	case SysUpdateFirmware:
		url, _ := cmd.Data["url"].(string)
		if url == "" {
			return fmt.Errorf("update_firmware requires a url parameter")
		}
		return h.sendToTarget(ctx, cmd, "update_firmware", map[string]any{"url": url})

	case SysFactoryReset:
		return h.sendToTarget(ctx, cmd, "factory_reset", nil)

	case SysScanDevices:
		return h.scanDevices()

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

// sendToTarget dispatches an acknowledged command to the target device.
func (h *SystemHandler) sendToTarget(ctx context.Context, cmd SystemCommand, name string, params map[string]any) error {
	if cmd.Target == "" {
		return fmt.Errorf("%w: %s", ErrMissingTarget, cmd.Command)
	}

	pc, err := h.dispatcher.Send(ctx, cmd.Target, name, params)
	if err != nil {
		return fmt.Errorf("dispatching %s to %s: %w", name, cmd.Target, err)
	}

	h.logger.Info("system command dispatched",
		"command", cmd.Command, "target", cmd.Target, "command_id", pc.ID)
	return nil
}

// scanDevices publishes a discovery request to all gateways.
func (h *SystemHandler) scanDevices() error {
	payload, err := json.Marshal(map[string]any{
		"command":   SysScanDevices,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"source":    commandSource,
	})
	if err != nil {
		return fmt.Errorf("marshalling scan command: %w", err)
	}

	if err := h.pub.Publish(mqtt.TopicGatewayCommands, payload, 2, false); err != nil {
		return fmt.Errorf("publishing scan command: %w", err)
	}

	h.logger.Info("device scan requested")
	return nil
}
