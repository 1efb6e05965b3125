package mqtt

import "fmt"

// Topic constants for the fieldcore transport contract.
//
// Inbound topics are device-rooted: devices/{deviceID}/{channel} and
// gateway/{gatewayID}/status. The device or gateway identifier is always
// the second path segment. System topics carry core status and operator
// commands.
const (
	// TopicSystemCommands carries operator-issued system commands (QoS 2).
	TopicSystemCommands = "system/commands"

	// TopicSystemStatus carries the core's retained online/offline status.
	TopicSystemStatus = "system/status"

	// TopicSystemLastWill is registered as the LWT at connect time. The
	// broker publishes the retained offline payload here on ungraceful loss.
	TopicSystemLastWill = "system/gateway/lastwill"

	// TopicGatewayCommands carries fan-out commands for all gateways
	// (e.g. scan_devices).
	TopicGatewayCommands = "gateway/commands"
)

// Topics provides builders for fieldcore MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommands("GREENHOUSE-A1")
//	// Returns: "devices/GREENHOUSE-A1/commands"
type Topics struct{}

// DeviceCommands returns the outbound command topic for a device.
//
// Example: devices/GREENHOUSE-A1/commands
func (Topics) DeviceCommands(deviceID string) string {
	return fmt.Sprintf("devices/%s/commands", deviceID)
}

// DeviceData returns a pattern matching telemetry readings from all devices.
//
// Pattern: devices/+/data
func (Topics) DeviceData() string {
	return "devices/+/data"
}

// DeviceHeartbeat returns a pattern matching heartbeats from all devices.
//
// Pattern: devices/+/heartbeat
func (Topics) DeviceHeartbeat() string {
	return "devices/+/heartbeat"
}

// DeviceEvents returns a pattern matching events from all devices.
//
// Pattern: devices/+/events
func (Topics) DeviceEvents() string {
	return "devices/+/events"
}

// DeviceResponse returns a pattern matching command responses from all devices.
//
// Pattern: devices/+/response
func (Topics) DeviceResponse() string {
	return "devices/+/response"
}

// GatewayStatus returns a pattern matching health payloads from all gateways.
//
// Pattern: gateway/+/status
func (Topics) GatewayStatus() string {
	return "gateway/+/status"
}
