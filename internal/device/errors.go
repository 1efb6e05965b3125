package device

import "errors"

// Sentinel errors for device operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound indicates the requested device does not exist.
	ErrDeviceNotFound = errors.New("device: not found")
)
