package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/fieldmesh/fieldcore/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// serviceName identifies this service in status payloads.
	serviceName = "fieldcore"
)

// statusPayload is the JSON body published to the system status topic and
// registered as the last will.
type statusPayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// buildClientOptions creates paho MQTT options from fieldcore config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - A unique client identity (configured prefix + random suffix)
//   - Authentication credentials (if provided)
//   - Auto-reconnect at a fixed retry interval
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
	opts.AddBroker(brokerURL)

	// Unique client identity: duplicate IDs cause the broker to drop the
	// older session, so a random suffix keeps restarts and parallel test
	// runs from evicting each other.
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.Broker.ClientID, uuid.NewString()[:8]))

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	// Fixed-interval reconnect: retry at the configured cadence, bounded
	// to the same value rather than backing off exponentially.
	retryInterval := time.Duration(cfg.Reconnect.Interval) * time.Second
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(retryInterval)
	opts.SetMaxReconnectInterval(retryInterval)

	opts.SetConnectTimeout(time.Duration(cfg.ConnectTimeout) * time.Second)
	opts.SetKeepAlive(time.Duration(cfg.Keepalive) * time.Second)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The LWT message is published by the broker if the client disconnects
// unexpectedly (crash, network failure, etc.), so late subscribers always
// see an authoritative offline status.
//
// Topic: system/gateway/lastwill
// QoS: 1, Retained: true
func configureLWT(opts *pahomqtt.ClientOptions, version string) {
	opts.SetBinaryWill(TopicSystemLastWill, buildStatusPayload("offline", version, "unexpected_disconnect"), 1, true)
}

// buildStatusPayload creates the JSON payload for system status messages.
func buildStatusPayload(status, version, reason string) []byte {
	payload, _ := json.Marshal(statusPayload{ //nolint:errcheck // struct of strings cannot fail to marshal
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   serviceName,
		Version:   version,
		Reason:    reason,
	})
	return payload
}
