package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidClientID is returned by Connect for an empty client identifier.
	// No engine interaction takes place.
	ErrInvalidClientID = errors.New("mqtt: client ID cannot be empty")

	// ErrEngineInit is wrapped when the engine rejects its configuration
	// (bad certificate material, unsupported protocol, malformed address).
	ErrEngineInit = errors.New("mqtt: engine initialisation failed")

	// ErrEngineStart is wrapped when a configured engine cannot be started.
	ErrEngineStart = errors.New("mqtt: engine start failed")

	// ErrTransport is wrapped by engines for TCP, TLS and WebSocket failures
	// reported after start.
	ErrTransport = errors.New("mqtt: transport error")

	// ErrConnectionFailed is returned when every protocol attempt failed.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrClosed is returned by operations on a client after Close.
	ErrClosed = errors.New("mqtt: client closed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidProtocol is returned for protocol levels other than 3, 4 and 5,
	// or when the legacy level is not lower than the preferred one.
	ErrInvalidProtocol = errors.New("mqtt: invalid protocol version")
)
