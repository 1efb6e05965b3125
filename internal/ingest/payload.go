package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldmesh/fieldcore/internal/command"
	"github.com/fieldmesh/fieldcore/internal/device"
)

// Reading is a decoded telemetry payload.
//
// Devices publish flat JSON objects; every numeric field is a telemetry
// value, everything else (minus the timestamp) is carried in Extra.
type Reading struct {
	Timestamp time.Time
	Values    map[string]float64
	Extra     map[string]any
}

// Event is a decoded device event payload.
//
// Firmware publishes flat objects with the event name under "event"
// ({"event": "motion_detected", "device_id": ..., "timestamp": ...});
// every field beyond the name and message lands in Data.
type Event struct {
	Type    string
	Message string
	Data    map[string]any
}

// Response is a decoded command acknowledgment payload.
type Response struct {
	Command string         `json:"command"`
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// GatewayStatus is a decoded gateway health payload.
type GatewayStatus struct {
	Status           string `json:"status"`
	ConnectedDevices int    `json:"connected_devices"`
	Uptime           int64  `json:"uptime"`
}

// ParseReading decodes a telemetry payload.
//
// The timestamp field may be unix milliseconds or RFC3339; a missing or
// unparseable timestamp falls back to the receive time. Devices with
// drifting clocks still get their samples recorded.
func ParseReading(data []byte) (*Reading, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	r := &Reading{
		Timestamp: time.Now().UTC(),
		Values:    make(map[string]float64),
	}

	for key, val := range raw {
		if key == "timestamp" {
			if ts, ok := parseTimestamp(val); ok {
				r.Timestamp = ts
			}
			continue
		}
		if num, ok := val.(float64); ok {
			r.Values[key] = num
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]any)
		}
		r.Extra[key] = val
	}

	return r, nil
}

// ParseHeartbeat decodes a heartbeat payload into device vitals.
func ParseHeartbeat(data []byte) (device.Vitals, error) {
	var vitals device.Vitals
	if err := json.Unmarshal(data, &vitals); err != nil {
		return device.Vitals{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return vitals, nil
}

// ParseEvent decodes a device event payload.
//
// The event name lives under "event"; "type" is accepted as a fallback
// for older firmware. Remaining fields, flat or nested under "data", are
// collected into Data.
func ParseEvent(data []byte) (*Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	ev := &Event{}
	if s, ok := raw["event"].(string); ok {
		ev.Type = s
	} else if s, ok := raw["type"].(string); ok {
		ev.Type = s
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: event without name", ErrMalformedPayload)
	}
	if s, ok := raw["message"].(string); ok {
		ev.Message = s
	}

	for key, val := range raw {
		switch key {
		case "event", "type", "message":
			continue
		case "data":
			if nested, ok := val.(map[string]any); ok {
				for k, v := range nested {
					ev.setData(k, v)
				}
				continue
			}
		}
		ev.setData(key, val)
	}

	return ev, nil
}

func (e *Event) setData(key string, val any) {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = val
}

// ParseResponse decodes a command acknowledgment payload.
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if resp.Command == "" {
		return nil, fmt.Errorf("%w: response without command", ErrMalformedPayload)
	}
	return &resp, nil
}

// ParseGatewayStatus decodes a gateway health payload.
func ParseGatewayStatus(data []byte) (*GatewayStatus, error) {
	var gs GatewayStatus
	if err := json.Unmarshal(data, &gs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return &gs, nil
}

// ParseSystemCommand decodes an operator system command.
func ParseSystemCommand(data []byte) (command.SystemCommand, error) {
	var cmd command.SystemCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return command.SystemCommand{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if cmd.Command == "" {
		return command.SystemCommand{}, fmt.Errorf("%w: system command without command", ErrMalformedPayload)
	}
	return cmd, nil
}

// parseTimestamp accepts unix milliseconds or RFC3339.
func parseTimestamp(val any) (time.Time, bool) {
	switch v := val.(type) {
	case float64:
		if v <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(v)).UTC(), true
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
