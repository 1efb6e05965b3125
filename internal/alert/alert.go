package alert

import (
	"context"
	"time"
)

// Alert is a single operational alert.
type Alert struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"device_id"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Severity  string         `json:"severity"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Alert types.
const (
	TypeThresholdExceeded = "threshold_exceeded"
	TypeDeviceEvent       = "device_event"
	TypeDeviceOffline     = "device_offline"
)

// Sink accepts alerts for delivery.
//
// Implementations must be safe for concurrent use; the ingest pipeline
// records alerts from multiple device workers.
type Sink interface {
	Record(ctx context.Context, a Alert) error
}
