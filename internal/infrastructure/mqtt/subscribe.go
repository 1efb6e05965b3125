package mqtt

import (
	"fmt"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe registers a handler for messages on the specified topic.
//
// The subscription is tracked internally and automatically restored
// if the connection is lost and re-established.
//
// Topic Patterns:
//   - Exact: "devices/sensor-01/data"
//   - Single-level wildcard: "devices/+/data"
//   - Multi-level wildcard: "devices/#"
//
// Parameters:
//   - topic: Topic filter (may contain wildcards)
//   - qos: Requested quality of service level
//   - handler: Callback invoked for each received message
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidQoS, or ErrSubscribeFailed
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validateFilter(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot subscribe to %s", ErrNotConnected, topic)
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout subscribing to %s", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		granted: grantedQoS(token, topic, qos),
		handler: handler,
	}
	c.subMu.Unlock()

	return nil
}

// qosGranter is the part of paho's SubscribeToken that reports the
// broker's granted QoS per topic filter.
type qosGranter interface {
	Result() map[string]byte
}

// grantedQoS extracts the broker-granted QoS for a filter from a
// subscribe token. Tokens without a result (or without an entry for the
// filter) fall back to the requested level.
func grantedQoS(token pahomqtt.Token, topic string, requested byte) byte {
	if g, ok := token.(qosGranter); ok {
		if q, found := g.Result()[topic]; found {
			return q
		}
	}
	return requested
}

// Unsubscribe removes a subscription and stops tracking it.
//
// Parameters:
//   - topic: The exact topic filter used in the original Subscribe call
//
// Returns:
//   - error: ErrNotConnected or ErrUnsubscribeFailed
func (c *Client) Unsubscribe(topic string) error {
	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot unsubscribe from %s", ErrNotConnected, topic)
	}

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout unsubscribing from %s", ErrUnsubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	return nil
}

// SubscriptionCount returns the number of active tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether the given topic filter is currently tracked.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}

// validateFilter checks that a subscription topic filter is well formed.
//
// Wildcards are allowed but must occupy a whole level: "devices/+/data"
// is valid, "devices/se+/data" is not. The multi-level wildcard # must
// be the final level.
func validateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty topic filter", ErrInvalidTopic)
	}
	if strings.ContainsRune(filter, 0) {
		return fmt.Errorf("%w: null character in topic filter", ErrInvalidTopic)
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: + must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "#") {
			if level != "#" || i != len(levels)-1 {
				return fmt.Errorf("%w: # must be the final level in %q", ErrInvalidTopic, filter)
			}
		}
	}
	return nil
}
