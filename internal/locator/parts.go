package locator

import "strings"

// Default broker ports.
const (
	// DefaultPort is used by mqtt:// and ws:// when no port is given.
	DefaultPort uint16 = 1883

	// DefaultSecurePort is used by mqtts:// and wss:// when no port is given.
	DefaultSecurePort uint16 = 8883

	// DefaultPath is the WebSocket path used when none is given.
	DefaultPath = "/"
)

// Scheme identifies the transport and security mode of a broker connection.
type Scheme int

// Supported schemes.
const (
	SchemePlain Scheme = iota
	SchemeSecure
	SchemeWebSocket
	SchemeWebSocketSecure
)

// SchemeFor returns the scheme matching the given transport flags.
func SchemeFor(secure, websocket bool) Scheme {
	switch {
	case secure && websocket:
		return SchemeWebSocketSecure
	case websocket:
		return SchemeWebSocket
	case secure:
		return SchemeSecure
	default:
		return SchemePlain
	}
}

// lookupScheme maps scheme text to a Scheme, ignoring case.
func lookupScheme(s string) (Scheme, bool) {
	switch strings.ToLower(s) {
	case "mqtt":
		return SchemePlain, true
	case "mqtts":
		return SchemeSecure, true
	case "ws":
		return SchemeWebSocket, true
	case "wss":
		return SchemeWebSocketSecure, true
	default:
		return 0, false
	}
}

// String returns the URI scheme text.
func (s Scheme) String() string {
	switch s {
	case SchemeSecure:
		return "mqtts"
	case SchemeWebSocket:
		return "ws"
	case SchemeWebSocketSecure:
		return "wss"
	default:
		return "mqtt"
	}
}

// Secure reports whether the scheme runs over TLS.
func (s Scheme) Secure() bool {
	return s == SchemeSecure || s == SchemeWebSocketSecure
}

// WebSocket reports whether the scheme tunnels MQTT over WebSocket.
func (s Scheme) WebSocket() bool {
	return s == SchemeWebSocket || s == SchemeWebSocketSecure
}

// DefaultPort returns the port used when a locator omits one.
func (s Scheme) DefaultPort() uint16 {
	if s.Secure() {
		return DefaultSecurePort
	}
	return DefaultPort
}

// Parts is a parsed broker locator.
//
// A Parts value returned by Parse always has a non-empty Host and a
// non-zero Port.
type Parts struct {
	Scheme Scheme
	Host   string
	Port   uint16
	Path   string
}

// Equal reports whether two locators address the same endpoint.
// Path only takes part in the comparison for WebSocket schemes, since it is
// ignored by the plain socket transports.
func (p Parts) Equal(o Parts) bool {
	if p.Scheme != o.Scheme || p.Host != o.Host || p.Port != o.Port {
		return false
	}
	if !p.Scheme.WebSocket() {
		return true
	}
	return normalizePath(p.Path) == normalizePath(o.Path)
}

// String returns the locator in its canonical form.
func (p Parts) String() string {
	return Build(p)
}

func normalizePath(path string) string {
	if path == "" {
		return DefaultPath
	}
	return path
}
