package ingest

import (
	"fmt"
	"strings"
)

// Route classifies an inbound topic.
type Route int

// Inbound routes.
const (
	RouteUnknown Route = iota
	RouteData
	RouteHeartbeat
	RouteEvents
	RouteResponse
	RouteGatewayStatus
	RouteSystemCommand
)

// String returns the route name for logging.
func (r Route) String() string {
	switch r {
	case RouteData:
		return "data"
	case RouteHeartbeat:
		return "heartbeat"
	case RouteEvents:
		return "events"
	case RouteResponse:
		return "response"
	case RouteGatewayStatus:
		return "gateway_status"
	case RouteSystemCommand:
		return "system_command"
	default:
		return "unknown"
	}
}

// ClassifyTopic maps a concrete inbound topic to its route and extracts
// the device or gateway identifier (always the second path segment).
//
// Recognised shapes:
//
//	devices/{id}/data
//	devices/{id}/heartbeat
//	devices/{id}/events
//	devices/{id}/response
//	gateway/{id}/status
//	system/commands
func ClassifyTopic(topic string) (Route, string, error) {
	if topic == "system/commands" {
		return RouteSystemCommand, "", nil
	}

	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return RouteUnknown, "", fmt.Errorf("%w: %q", ErrUnroutableTopic, topic)
	}

	switch {
	case parts[0] == "devices" && parts[2] == "data":
		return RouteData, parts[1], nil
	case parts[0] == "devices" && parts[2] == "heartbeat":
		return RouteHeartbeat, parts[1], nil
	case parts[0] == "devices" && parts[2] == "events":
		return RouteEvents, parts[1], nil
	case parts[0] == "devices" && parts[2] == "response":
		return RouteResponse, parts[1], nil
	case parts[0] == "gateway" && parts[2] == "status":
		return RouteGatewayStatus, parts[1], nil
	default:
		return RouteUnknown, "", fmt.Errorf("%w: %q", ErrUnroutableTopic, topic)
	}
}
