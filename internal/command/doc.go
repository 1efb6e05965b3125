// Package command delivers acknowledged commands to field devices.
//
// # Purpose
//
// Commands go out on devices/{id}/commands at QoS 2 and the device is
// expected to acknowledge on devices/{id}/response. The Dispatcher tracks
// every in-flight command, correlates responses back to it, retries
// unacknowledged sends and reports a terminal result on a Done channel.
//
// # Delivery Semantics
//
//   - Each command gets an acknowledgment timer (per-device override or
//     configured default).
//   - An unacknowledged command is republished up to the retry limit,
//     then fails with ErrAckTimeout.
//   - Responses are correlated by device and command name; a response for
//     an unknown command is ignored.
//   - A new command to the same device with the same name supersedes the
//     previous one, which resolves as cancelled.
//   - When a device goes offline, CancelDevice fails its pending commands
//     immediately instead of letting them time out.
//
// # System Commands
//
// Operator commands arriving on system/commands are translated by the
// SystemHandler into device commands or gateway fan-out publishes.
package command
