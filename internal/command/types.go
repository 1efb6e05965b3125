package command

import "time"

// State is the lifecycle state of an in-flight command.
type State string

// Command states.
const (
	StateSent      State = "sent"
	StateAcked     State = "acked"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// Result is the terminal outcome of a command.
type Result struct {
	State State

	// Response carries the device's acknowledgment payload when
	// State is StateAcked.
	Response map[string]any

	// Err is set for StateTimedOut (ErrAckTimeout) and StateCancelled
	// (ErrCancelled).
	Err error
}

// PendingCommand is the caller's handle on an in-flight command.
//
// Done yields exactly one Result when the command reaches a terminal
// state. The channel is buffered, so the dispatcher never blocks on a
// caller that walked away.
type PendingCommand struct {
	ID       string
	DeviceID string
	Name     string
	SentAt   time.Time
	Done     <-chan Result
}
