package ingest

import (
	"errors"
	"testing"
)

func TestClassifyTopic(t *testing.T) {
	tests := []struct {
		topic    string
		route    Route
		deviceID string
		wantErr  bool
	}{
		{"devices/GREENHOUSE-A1/data", RouteData, "GREENHOUSE-A1", false},
		{"devices/sensor-01/heartbeat", RouteHeartbeat, "sensor-01", false},
		{"devices/sensor-01/events", RouteEvents, "sensor-01", false},
		{"devices/sensor-01/response", RouteResponse, "sensor-01", false},
		{"gateway/gw-north/status", RouteGatewayStatus, "gw-north", false},
		{"system/commands", RouteSystemCommand, "", false},
		{"devices/sensor-01/unknown", RouteUnknown, "", true},
		{"devices//data", RouteUnknown, "", true},
		{"devices/sensor-01", RouteUnknown, "", true},
		{"devices/a/b/c/data", RouteUnknown, "", true},
		{"other/sensor-01/data", RouteUnknown, "", true},
		{"", RouteUnknown, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			route, id, err := ClassifyTopic(tt.topic)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ClassifyTopic(%q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrUnroutableTopic) {
					t.Errorf("error should wrap ErrUnroutableTopic, got %v", err)
				}
				return
			}
			if route != tt.route || id != tt.deviceID {
				t.Errorf("ClassifyTopic(%q) = %v, %q, want %v, %q",
					tt.topic, route, id, tt.route, tt.deviceID)
			}
		})
	}
}
