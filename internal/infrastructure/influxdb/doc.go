// Package influxdb provides time-series storage for fieldcore telemetry.
//
// It wraps the official influxdb-client-go v2 library with fieldcore-specific
// patterns for connection management, sample writing, and health monitoring.
//
// # Purpose
//
// Every numeric field of a device telemetry reading is written as a point in
// the device_samples measurement, tagged by device and field name. SQLite
// remains the system of record for current state; InfluxDB holds history.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // storage is optional, the core runs without it
//	}
//	defer client.Close()
//
//	client.WriteSample("GREENHOUSE-A1", map[string]float64{"temperature": 21.5}, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors surface via the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
