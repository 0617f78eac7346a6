//go:build integration

package engine_test

import (
	"bytes"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt/engine"
)

// Integration tests run against an embedded mochi broker.
// Run with: go test -tags integration ./internal/infrastructure/mqtt/engine/

// legacyOnlyHook makes the broker behave like one that only speaks 3.1.1.
type legacyOnlyHook struct {
	mochi.HookBase
}

func (h *legacyOnlyHook) ID() string {
	return "legacy-only"
}

func (h *legacyOnlyHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mochi.OnConnectAuthenticate,
		mochi.OnACLCheck,
	}, []byte{b})
}

func (h *legacyOnlyHook) OnConnectAuthenticate(_ *mochi.Client, pk packets.Packet) bool {
	return pk.ProtocolVersion != 5
}

func (h *legacyOnlyHook) OnACLCheck(_ *mochi.Client, _ string, _ bool) bool {
	return true
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

type brokerOptions struct {
	legacyOnly bool
	websocket  bool
}

// startBroker runs an embedded broker and returns its port.
func startBroker(t *testing.T, opts brokerOptions) int {
	t.Helper()

	server := mochi.New(&mochi.Options{
		InlineClient: false,
		Logger:       slog.New(slog.DiscardHandler),
	})
	if opts.legacyOnly {
		require.NoError(t, server.AddHook(new(legacyOnlyHook), nil))
	} else {
		require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	}

	port := freePort(t)
	addr := "127.0.0.1:" + strconv.Itoa(port)
	var listener listeners.Listener
	if opts.websocket {
		listener = listeners.NewWebsocket(listeners.Config{ID: "ws", Address: addr})
	} else {
		listener = listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})
	}
	require.NoError(t, server.AddListener(listener))

	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(func() { _ = server.Close() })

	// Give the listener a moment to accept
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	return port
}

type observed struct {
	mu          sync.Mutex
	connects    []mqtt.ConnectionInfo
	disconnects int
	messages    map[string]string
}

func observe(c *mqtt.Client) *observed {
	o := &observed{messages: make(map[string]string)}
	c.OnConnect(func(info mqtt.ConnectionInfo) {
		o.mu.Lock()
		o.connects = append(o.connects, info)
		o.mu.Unlock()
	})
	c.OnDisconnect(func(error) {
		o.mu.Lock()
		o.disconnects++
		o.mu.Unlock()
	})
	c.OnMessage(func(topic string, payload []byte) {
		o.mu.Lock()
		o.messages[topic] = string(payload)
		o.mu.Unlock()
	})
	return o
}

func (o *observed) connectCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.connects)
}

func (o *observed) firstConnect() mqtt.ConnectionInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connects[0]
}

func (o *observed) disconnectCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.disconnects
}

func (o *observed) message(topic string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.messages[topic]
	return m, ok
}

func newClient(t *testing.T) (*mqtt.Client, *observed) {
	t.Helper()
	c, err := mqtt.NewClient(engine.NewFactory(engine.WithConnectTimeout(3 * time.Second)))
	require.NoError(t, err)
	c.SetFallbackBackoff(50 * time.Millisecond)
	o := observe(c)
	t.Cleanup(func() { _ = c.Close() })
	return c, o
}

// =============================================================================
// Negotiation Tests
// =============================================================================

func TestIntegration_PreferredProtocol(t *testing.T) {
	port := startBroker(t, brokerOptions{})
	c, o := newClient(t)
	c.SetServer("127.0.0.1", uint16(port))
	c.SetProtocolFallback(true)

	require.NoError(t, c.Connect("it-preferred"))
	require.Eventually(t, func() bool { return o.connectCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	info := o.firstConnect()
	assert.Equal(t, mqtt.ProtocolV5, info.Protocol)
	assert.False(t, info.Fallback)
	assert.Equal(t, mqtt.StateConnected, c.State())

	_, err := c.Subscribe("it/preferred/#", 1)
	require.NoError(t, err)
	// SUBACK is asynchronous; retry the publish until the message loops back
	require.Eventually(t, func() bool {
		_, _ = c.Publish("it/preferred/value", []byte("42"), 1, false)
		got, ok := o.message("it/preferred/value")
		return ok && got == "42"
	}, 5*time.Second, 100*time.Millisecond)

	id, err := c.Publish("it/preferred/fire-and-forget", []byte("1"), 0, false)
	require.NoError(t, err)
	assert.Zero(t, id, "QoS 0 publishes carry no message id")
}

func TestIntegration_FallbackToLegacy(t *testing.T) {
	port := startBroker(t, brokerOptions{legacyOnly: true})
	c, o := newClient(t)
	c.SetServer("127.0.0.1", uint16(port))
	c.SetProtocolFallback(true)

	require.NoError(t, c.Connect("it-fallback"))
	require.Eventually(t, func() bool { return o.connectCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	info := o.firstConnect()
	assert.Equal(t, mqtt.ProtocolV311, info.Protocol)
	assert.True(t, info.Fallback)
	assert.Equal(t, mqtt.StateConnectedViaFallback, c.State())
	assert.True(t, c.UsingFallback())
	assert.Zero(t, o.disconnectCount())

	_, err := c.Subscribe("it/legacy/+", 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, _ = c.Publish("it/legacy/temp", []byte("19.5"), 0, false)
		got, ok := o.message("it/legacy/temp")
		return ok && got == "19.5"
	}, 5*time.Second, 100*time.Millisecond)
}

func TestIntegration_NoFallbackWhenDisabled(t *testing.T) {
	port := startBroker(t, brokerOptions{legacyOnly: true})
	c, o := newClient(t)
	c.SetServer("127.0.0.1", uint16(port))
	c.SetProtocolFallback(false)

	require.NoError(t, c.Connect("it-no-fallback"))
	require.Eventually(t, func() bool { return o.disconnectCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, mqtt.StateDisconnected, c.State())
	assert.Zero(t, o.connectCount())
}

func TestIntegration_WebSocket(t *testing.T) {
	port := startBroker(t, brokerOptions{websocket: true})
	c, o := newClient(t)
	require.NoError(t, c.Begin("ws://127.0.0.1:"+strconv.Itoa(port)+"/"))

	require.NoError(t, c.Connect("it-websocket"))
	require.Eventually(t, func() bool { return o.connectCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, mqtt.ProtocolV5, o.firstConnect().Protocol)
	assert.Contains(t, o.firstConnect().URI, "ws://127.0.0.1:")
}

func TestIntegration_UnreachableBroker(t *testing.T) {
	port := freePort(t)
	c, o := newClient(t)
	c.SetServer("127.0.0.1", uint16(port))
	c.SetProtocolFallback(true)

	require.NoError(t, c.Connect("it-unreachable"))
	require.Eventually(t, func() bool { return o.disconnectCount() == 1 }, 10*time.Second, 20*time.Millisecond)

	assert.Equal(t, mqtt.StateDisconnected, c.State())
	assert.Zero(t, o.connectCount())
}
