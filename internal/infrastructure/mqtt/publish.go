package mqtt

import (
	"fmt"
	"strings"
)

// maxPayloadSize is the maximum allowed payload size (1MB).
// Device firmware rejects larger messages, so reject them up front.
const maxPayloadSize = 1024 * 1024

// Publish sends a message to the specified MQTT topic.
//
// The message is published with the given QoS level and retain flag.
// This method blocks until the broker acknowledges the message or the
// publish timeout expires.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (acknowledged)
//   - 2: Exactly once (four-way handshake, used for commands)
//
// Parameters:
//   - topic: Target topic (e.g., "devices/sensor-01/commands")
//   - payload: Message payload (typically JSON)
//   - qos: Quality of service level (0, 1, or 2)
//   - retained: If true, broker stores message for new subscribers
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidQoS, ErrInvalidTopic, or ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	// Fail fast when disconnected rather than queueing; callers decide
	// whether a dropped publish matters.
	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot publish to %s", ErrNotConnected, topic)
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout publishing to %s", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	return nil
}

// validateTopic checks that a publish topic is well formed.
//
// Publish topics must be non-empty, must not contain wildcards
// (+ and # are only valid in subscription filters), and must not
// contain null characters.
func validateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: null character in topic", ErrInvalidTopic)
	}
	return nil
}
