package command

import "errors"

// Sentinel errors for command delivery.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAckTimeout indicates the device never acknowledged the command
	// within the retry budget.
	ErrAckTimeout = errors.New("command: acknowledgment timed out")

	// ErrCancelled indicates the command was cancelled before the device
	// acknowledged it (device offline or superseded by a newer command).
	ErrCancelled = errors.New("command: cancelled")

	// ErrUnknownCommand indicates a system command that fieldcore does
	// not recognise.
	ErrUnknownCommand = errors.New("command: unknown system command")

	// ErrMissingTarget indicates a system command without a target device.
	ErrMissingTarget = errors.New("command: missing target device")
)
