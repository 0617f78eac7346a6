package mqtt

import (
	"fmt"
)

// Subscribe subscribes to a topic filter. Messages arrive through the
// OnMessage callback.
//
// Filters can include MQTT wildcards:
//   - + (single-level): "sensors/+/temperature"
//   - # (multi-level): "sensors/#"
//
// Subscriptions are restored on every reconnection, including the switch
// to the legacy protocol.
//
// Returns:
//   - int: The engine's message identifier, -1 on error
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Subscribe(topic string, qos byte) (int, error) {
	if err := validateTopicFilter(topic); err != nil {
		return -1, err
	}
	if qos > maxQoS {
		return -1, ErrInvalidQoS
	}

	engine, err := c.liveEngine()
	if err != nil {
		return -1, err
	}

	id, err := engine.Subscribe(topic, qos)
	if err != nil {
		return -1, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	// Track subscription for reconnection restoration
	c.subMu.Lock()
	c.subscriptions[topic] = qos
	c.subMu.Unlock()

	return id, nil
}

// Unsubscribe removes a subscription.
//
// Any messages in flight may still be delivered.
//
// Returns:
//   - int: The engine's message identifier, -1 on error
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Unsubscribe(topic string) (int, error) {
	if err := validateTopicFilter(topic); err != nil {
		return -1, err
	}

	engine, err := c.liveEngine()
	if err != nil {
		return -1, err
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	id, err := engine.Unsubscribe(topic)
	if err != nil {
		return -1, fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return id, nil
}

// restoreSubscriptions re-subscribes to all tracked filters after a connect.
func (c *Client) restoreSubscriptions(engine Engine) {
	if engine == nil {
		return
	}

	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, qos := range c.subscriptions {
		if _, err := engine.Subscribe(topic, qos); err != nil {
			c.getLogger().Warn("MQTT subscription restore failed",
				"topic", topic,
				"error", err,
			)
		}
	}
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the given filter.
//
// Note: This checks only the exact filter string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
