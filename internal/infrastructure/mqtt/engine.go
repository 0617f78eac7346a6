package mqtt

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// ProtocolVersion is the MQTT protocol level sent in CONNECT.
type ProtocolVersion byte

// Supported protocol levels.
const (
	ProtocolV31  ProtocolVersion = 3
	ProtocolV311 ProtocolVersion = 4
	ProtocolV5   ProtocolVersion = 5
)

// String returns the human-readable protocol name.
func (v ProtocolVersion) String() string {
	switch v {
	case ProtocolV31:
		return "3.1"
	case ProtocolV311:
		return "3.1.1"
	case ProtocolV5:
		return "5"
	default:
		return "unknown(" + strconv.Itoa(int(v)) + ")"
	}
}

// Valid reports whether v is a protocol level an engine can speak.
func (v ProtocolVersion) Valid() bool {
	return v >= ProtocolV31 && v <= ProtocolV5
}

// EngineConfig is the read-only snapshot an engine is built from.
//
// URI is set when the transport needs a single locator (WebSocket, or an
// explicit path); otherwise the engine uses Host and Port directly.
type EngineConfig struct {
	URI       string
	Host      string
	Port      uint16
	Secure    bool
	WebSocket bool
	Path      string

	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	Protocol  ProtocolVersion

	// PEM material, passed through opaquely.
	CACert     []byte
	ClientCert []byte
	ClientKey  []byte
	Insecure   bool
}

// Address returns the URI if set, otherwise host:port. Used for logging.
func (c EngineConfig) Address() string {
	if c.URI != "" {
		return c.URI
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// Engine is an MQTT implementation that performs network I/O and framing.
//
// Start must not block on the network: it launches the connection and
// reports the outcome through the EventSink given to the factory. After Stop
// returns the engine must not deliver further events.
type Engine interface {
	Start() error
	Stop()
	Publish(topic string, payload []byte, qos byte, retained bool) (int, error)
	Subscribe(topic string, qos byte) (int, error)
	Unsubscribe(topic string) (int, error)
}

// EngineFactory builds an engine for one connection attempt.
// An error means the engine rejected the configuration.
type EngineFactory interface {
	NewEngine(cfg EngineConfig, sink EventSink) (Engine, error)
}

// EngineFactoryFunc adapts a function to EngineFactory.
type EngineFactoryFunc func(cfg EngineConfig, sink EventSink) (Engine, error)

// NewEngine implements EngineFactory.
func (f EngineFactoryFunc) NewEngine(cfg EngineConfig, sink EventSink) (Engine, error) {
	return f(cfg, sink)
}

// EventSink receives engine notifications. Post may block while the
// client's dispatch queue is full.
type EventSink interface {
	Post(ev Event)
}

// EventKind identifies an engine notification.
type EventKind int

// Engine notifications.
const (
	// EventConnected reports an accepted CONNECT.
	EventConnected EventKind = iota + 1

	// EventConnectFailed reports that the session never came up
	// (dial error, TLS failure, CONNACK refusal).
	EventConnectFailed

	// EventDisconnected reports the loss of an established session.
	EventDisconnected

	// EventMessage carries an inbound PUBLISH.
	EventMessage

	// EventPublished, EventSubscribed and EventUnsubscribed acknowledge
	// outbound operations. Diagnostic only.
	EventPublished
	EventSubscribed
	EventUnsubscribed

	// EventError is a diagnostic transport notification.
	EventError
)

var eventNames = map[EventKind]string{
	EventConnected:     "connected",
	EventConnectFailed: "connect_failed",
	EventDisconnected:  "disconnected",
	EventMessage:       "message",
	EventPublished:     "published",
	EventSubscribed:    "subscribed",
	EventUnsubscribed:  "unsubscribed",
	EventError:         "error",
}

// String returns the event name.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a notification from an engine.
type Event struct {
	Kind           EventKind
	Topic          string
	Payload        []byte
	MessageID      int
	SessionPresent bool
	Err            error

	generation uint64
}
