//go:build integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: go test -tags integration ./cmd/mqttlink/

// refuseV5Hook makes the broker accept only MQTT 3.x clients.
type refuseV5Hook struct {
	mochi.HookBase
}

func (h *refuseV5Hook) ID() string { return "refuse-v5" }

func (h *refuseV5Hook) Provides(b byte) bool {
	return bytes.Contains([]byte{mochi.OnConnectAuthenticate, mochi.OnACLCheck}, []byte{b})
}

func (h *refuseV5Hook) OnConnectAuthenticate(_ *mochi.Client, pk packets.Packet) bool {
	return pk.ProtocolVersion != 5
}

func (h *refuseV5Hook) OnACLCheck(_ *mochi.Client, _ string, _ bool) bool { return true }

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestRun_FallsBackAgainstLegacyBroker(t *testing.T) {
	broker := mochi.New(&mochi.Options{Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, broker.AddHook(new(refuseV5Hook), nil))
	brokerPort := freePort(t)
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: "127.0.0.1:" + strconv.Itoa(brokerPort),
	})))
	go func() { _ = broker.Serve() }()
	t.Cleanup(func() { _ = broker.Close() })

	apiPort := freePort(t)
	path := writeConfig(t, fmt.Sprintf(`
broker:
  uri: "mqtt://127.0.0.1:%d"
  client_id: "it-daemon"
negotiation:
  fallback: true
  fallback_backoff: 10ms
subscriptions:
  - topic: "it/#"
    qos: 1
database:
  path: %q
api:
  enabled: true
  host: "127.0.0.1"
  port: %d
logging:
  level: error
  format: text
`, brokerPort, filepath.Join(t.TempDir(), "journal.db"), apiPort))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	base := "http://127.0.0.1:" + strconv.Itoa(apiPort) + "/api/v1"

	var status map[string]any
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		status = nil
		if json.NewDecoder(resp.Body).Decode(&status) != nil {
			return false
		}
		return status["state"] == "connected_via_fallback"
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, true, status["fallback"])
	assert.Equal(t, "3.1.1", status["protocol"])
	assert.Equal(t, "it-daemon", status["client_id"])

	// The journal is written asynchronously.
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/journal?state=connected_via_fallback")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var page struct {
			Total int `json:"total"`
		}
		return json.NewDecoder(resp.Body).Decode(&page) == nil && page.Total == 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
