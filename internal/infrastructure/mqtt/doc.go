// Package mqtt provides MQTT client connectivity for fieldcore.
//
// This package manages:
//   - Connection to the broker with automatic reconnect at a fixed interval
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the transport between field devices (sensors, actuators,
// gateways) and the core. Devices publish telemetry and heartbeats;
// the core publishes commands and its own retained status.
//
//	Field Devices / Gateways ↔ MQTT Broker ↔ fieldcore
//
// # Failure Behaviour
//
//   - While disconnected, Publish fails fast with ErrNotConnected;
//     messages are never queued silently.
//   - Subscriptions are tracked and restored automatically on reconnect.
//   - The broker publishes the registered last-will (retained offline
//     status) if the core disconnects ungracefully.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, version)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.DeviceData(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	topic := mqtt.Topics{}.DeviceCommands("GREENHOUSE-A1")
//	client.Publish(topic, []byte(`{"command":"restart"}`), 2, false)
package mqtt
