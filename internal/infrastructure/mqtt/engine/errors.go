package engine

import "errors"

// Configuration errors returned by Factory.NewEngine.
var (
	// ErrUnsupportedProtocol is returned for protocol levels no engine speaks.
	ErrUnsupportedProtocol = errors.New("engine: unsupported protocol version")

	// ErrMissingClientID is returned when the configuration has no client id.
	ErrMissingClientID = errors.New("engine: client ID is required")

	// ErrInvalidCACert is returned when the CA PEM contains no certificate.
	ErrInvalidCACert = errors.New("engine: invalid CA certificate")

	// ErrInvalidClientCert is returned when the client certificate or key
	// cannot be loaded, or only one of them is set.
	ErrInvalidClientCert = errors.New("engine: invalid client certificate")

	// ErrEngineStopped is returned by operations on a stopped engine.
	ErrEngineStopped = errors.New("engine: stopped")

	// ErrNotReady is returned by operations before the session is accepted.
	ErrNotReady = errors.New("engine: session not established")
)
