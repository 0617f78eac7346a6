package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// maxQoS is the highest MQTT Quality of Service level.
const maxQoS = 2

// Publish sends a message through the live engine.
//
// The message is handed to the engine and the call returns without waiting
// for the broker. Acknowledgements are logged at debug level.
//
// Parameters:
//   - topic: The topic to publish to (no wildcards)
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - int: The engine's message identifier, -1 on error
//   - error: ErrNotConnected without a live session, or a wrapped
//     ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) (int, error) {
	if err := validateTopicName(topic); err != nil {
		return -1, err
	}
	if qos > maxQoS {
		return -1, ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return -1, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	engine, err := c.liveEngine()
	if err != nil {
		return -1, err
	}

	id, err := engine.Publish(topic, payload, qos, retained)
	if err != nil {
		return -1, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return id, nil
}

// PublishString is a convenience method that publishes a string payload.
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) (int, error) {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// liveEngine returns the engine of the current session.
func (c *Client) liveEngine() (Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if !c.state.Connected() || c.engine == nil {
		return nil, ErrNotConnected
	}
	return c.engine, nil
}
