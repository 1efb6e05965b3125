// Package alarm evaluates threshold rules against device telemetry.
//
// # Purpose
//
// Operators attach rules to devices: a parameter, a comparison operator,
// a threshold and a severity. Every telemetry reading is evaluated
// against the device's enabled rules, and each breach raises an alert
// through the alert package.
//
// # Cooldown
//
// A rule that keeps firing would flood operators, so every rule carries a
// cooldown (default 5 minutes). The cooldown is enforced atomically in
// SQLite: ClaimTrigger performs a compare-and-set on last_triggered, so
// concurrent evaluations of the same rule produce exactly one alert per
// cooldown period regardless of how many workers race.
//
// # Evaluation Semantics
//
// Rules whose parameter is absent from a reading are skipped, not
// treated as breached. Disabled rules never fire.
package alarm
