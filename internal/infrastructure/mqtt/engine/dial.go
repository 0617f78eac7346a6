package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/coder/websocket"

	"github.com/nerrad567/mqttlink/internal/locator"
)

// maxWebSocketMessage bounds a single inbound WebSocket frame.
const maxWebSocketMessage = 16 << 20

// mqttSubprotocol is the WebSocket subprotocol brokers expect.
const mqttSubprotocol = "mqtt"

// dial opens the transport for p. dialCtx bounds the handshake; connCtx
// bounds the lifetime of a WebSocket connection.
func dial(dialCtx, connCtx context.Context, p locator.Parts, tlsCfg *tls.Config) (net.Conn, error) {
	switch p.Scheme {
	case locator.SchemeWebSocket, locator.SchemeWebSocketSecure:
		return dialWebSocket(dialCtx, connCtx, p, tlsCfg)
	case locator.SchemeSecure:
		d := &tls.Dialer{Config: tlsCfg}
		return d.DialContext(dialCtx, "tcp", hostPort(p))
	default:
		var d net.Dialer
		return d.DialContext(dialCtx, "tcp", hostPort(p))
	}
}

func dialWebSocket(dialCtx, connCtx context.Context, p locator.Parts, tlsCfg *tls.Config) (net.Conn, error) {
	opts := &websocket.DialOptions{
		Subprotocols: []string{mqttSubprotocol},
	}
	if tlsCfg != nil {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		}
	}

	u := webSocketURL(p)
	c, resp, err := websocket.Dial(dialCtx, u, opts)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket handshake with %s: %w", u, err)
	}
	c.SetReadLimit(maxWebSocketMessage)

	return websocket.NetConn(connCtx, c, websocket.MessageBinary), nil
}
