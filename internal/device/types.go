package device

import "time"

// Kind distinguishes field devices from gateways.
type Kind string

// Device kinds.
const (
	KindDevice  Kind = "device"
	KindGateway Kind = "gateway"
)

// LastError captures the most recent error reported by or about a device.
type LastError struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Vitals are the health indicators a device reports in its heartbeat.
type Vitals struct {
	Uptime          int64  `json:"uptime"`    // seconds since device boot
	FreeMemory      int64  `json:"free_heap"` // bytes
	WifiSignal      int    `json:"wifi_rssi"` // dBm
	FirmwareVersion string `json:"version"`
}

// CommandPolicy holds per-device command delivery overrides.
//
// Zero values mean "use the dispatcher default": AckTimeout of 0 and
// RetryAttempts below 0 both defer to configuration.
type CommandPolicy struct {
	AckTimeout    time.Duration
	RetryAttempts int
}

// State is the complete tracked state of one device.
type State struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Kind            Kind               `json:"kind"`
	Online          bool               `json:"online"`
	LastSeen        time.Time          `json:"last_seen"` // zero = never heard from
	LastSample      map[string]float64 `json:"last_sample,omitempty"`
	Uptime          int64              `json:"uptime"`
	FreeMemory      int64              `json:"free_memory"`
	WifiSignal      int                `json:"wifi_signal"`
	FirmwareVersion string             `json:"firmware_version"`
	ErrorCount      int                `json:"error_count"`
	LastError       *LastError         `json:"last_error,omitempty"`

	// AckTimeoutMS and RetryAttempts override the dispatcher defaults for
	// this device. 0 and -1 respectively mean "use the default".
	AckTimeoutMS  int `json:"ack_timeout_ms"`
	RetryAttempts int `json:"retry_attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Policy returns the device's command delivery overrides.
func (s *State) Policy() CommandPolicy {
	return CommandPolicy{
		AckTimeout:    time.Duration(s.AckTimeoutMS) * time.Millisecond,
		RetryAttempts: s.RetryAttempts,
	}
}

// DeepCopy returns an independent copy of the state.
// Callers can safely modify the result without affecting tracker internals.
func (s *State) DeepCopy() *State {
	out := *s
	if s.LastSample != nil {
		out.LastSample = make(map[string]float64, len(s.LastSample))
		for k, v := range s.LastSample {
			out.LastSample[k] = v
		}
	}
	if s.LastError != nil {
		le := *s.LastError
		out.LastError = &le
	}
	return &out
}
