package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSample writes the numeric fields of a telemetry reading to InfluxDB.
//
// Each field becomes one point in the device_samples measurement, tagged
// with the device identifier and field name. The device's reported
// timestamp is preserved so late or buffered readings land in the right
// place in the series.
//
// The write is non-blocking; points are batched and sent asynchronously.
// A nil error only means the point was accepted for batching.
//
// Parameters:
//   - deviceID: Device identifier (e.g., "GREENHOUSE-A1")
//   - values: Numeric telemetry fields (e.g., temperature, humidity)
//   - timestamp: The device's reported reading time
func (c *Client) WriteSample(deviceID string, values map[string]float64, timestamp time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	for field, value := range values {
		point := write.NewPoint(
			"device_samples",
			map[string]string{
				"device_id": deviceID,
				"field":     field,
			},
			map[string]interface{}{
				"value": value,
			},
			timestamp,
		)
		c.writeAPI.WritePoint(point)
	}

	return nil
}

// WriteVitals writes device health indicators from a heartbeat.
//
// Heartbeat vitals are low-frequency operational metrics (memory, signal
// strength, uptime) kept in a separate measurement from telemetry samples.
func (c *Client) WriteVitals(deviceID string, uptime int64, freeMemory int64, wifiSignal int) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := write.NewPoint(
		"device_vitals",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"uptime_seconds": uptime,
			"free_memory":    freeMemory,
			"wifi_signal":    wifiSignal,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)

	return nil
}
