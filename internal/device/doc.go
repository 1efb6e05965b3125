// Package device tracks the identity and presence of field devices.
//
// # Purpose
//
// Every inbound MQTT message is evidence that a device is alive. This
// package turns that evidence into authoritative per-device state:
//
//   - Presence: online/offline with a freshness window. A device is online
//     if it has been heard from within the window; silence beyond the
//     window means offline.
//   - Vitals: uptime, free memory, WiFi signal and firmware version from
//     heartbeats.
//   - Last telemetry sample and error history.
//
// # Architecture
//
// The Tracker holds all device state in memory and writes through to a
// SQLite-backed Repository, so state survives restarts and queries never
// race the ingest path. First contact from an unknown device registers it
// automatically.
//
// Offline detection is pull-based: FindOffline answers from current state
// at call time, and the optional Sweep loop periodically persists offline
// transitions and notifies listeners.
//
// # Thread Safety
//
// All Tracker methods are safe for concurrent use. LastSeen is monotonic;
// out-of-order messages never move it backwards.
package device
