package engine

import (
	"fmt"
	"net"
	"strconv"

	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttlink/internal/locator"
)

// resolveParts turns an engine configuration into a locator with an
// explicit port. A URI, when present, takes precedence over the discrete
// fields.
func resolveParts(cfg mqtt.EngineConfig) (locator.Parts, error) {
	if cfg.URI != "" {
		parts, err := locator.Parse(cfg.URI)
		if err != nil {
			return locator.Parts{}, err
		}
		if parts.Scheme.WebSocket() && parts.Path == "" {
			parts.Path = locator.DefaultPath
		}
		return parts, nil
	}

	if cfg.Host == "" {
		return locator.Parts{}, fmt.Errorf("%w: %w", locator.ErrInvalidLocator, locator.ErrEmptyHost)
	}

	parts := locator.Parts{
		Scheme: locator.SchemeFor(cfg.Secure, cfg.WebSocket),
		Host:   cfg.Host,
		Port:   cfg.Port,
	}
	if parts.Port == 0 {
		parts.Port = parts.Scheme.DefaultPort()
	}
	if cfg.WebSocket {
		parts.Path = cfg.Path
		if parts.Path == "" {
			parts.Path = locator.DefaultPath
		}
	}
	return parts, nil
}

// hostPort returns host:port, bracketing IPv6 hosts.
func hostPort(p locator.Parts) string {
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

// dialURL returns a broker URL with an explicit port, using the scheme
// names paho.mqtt.golang dials.
func dialURL(p locator.Parts) string {
	switch p.Scheme {
	case locator.SchemeSecure:
		return "ssl://" + hostPort(p)
	case locator.SchemeWebSocket:
		return "ws://" + hostPort(p) + p.Path
	case locator.SchemeWebSocketSecure:
		return "wss://" + hostPort(p) + p.Path
	default:
		return "tcp://" + hostPort(p)
	}
}

// webSocketURL returns the URL for a WebSocket handshake.
func webSocketURL(p locator.Parts) string {
	scheme := "ws"
	if p.Scheme.Secure() {
		scheme = "wss"
	}
	return scheme + "://" + hostPort(p) + p.Path
}
