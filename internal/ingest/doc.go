// Package ingest is the inbound MQTT pipeline.
//
// # Purpose
//
// Everything devices publish flows through here: telemetry readings,
// heartbeats, events, command responses, gateway health and operator
// system commands. The pipeline classifies each message by topic, decodes
// the payload, and drives the rest of the system: presence tracking,
// telemetry persistence, alarm evaluation, command correlation and
// WebSocket fanout.
//
// # Ordering and Isolation
//
// Messages are processed on per-device queues: one bounded queue and one
// worker goroutine per device, created lazily on first contact. Messages
// from the same device are handled in arrival order, while a slow or
// chatty device cannot stall any other device. When a device's queue is
// full its oldest unprocessed backlog wins and the new message is
// dropped with a log line.
//
// # Failure Containment
//
// A malformed payload is logged and dropped; it never takes the pipeline
// down. Telemetry persistence is best-effort: a failing time-series store
// does not stop presence tracking or alarm evaluation for that reading.
package ingest
