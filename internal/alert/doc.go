// Package alert records and distributes operational alerts.
//
// Alerts originate from threshold alarm rules and from device-reported
// events (motion, tamper, device-side alarms). Every alert is persisted
// to SQLite for history and fanned out to live listeners over WebSocket.
//
// The Sink interface decouples producers from delivery: the alarm
// evaluator and the ingest pipeline only know they hand alerts to a Sink.
package alert
