package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/infrastructure/logging"
	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// =============================================================================
// run
// =============================================================================

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestRun_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
broker:
  uri: "mqtt://127.0.0.1:1883"
database:
  path: ""
logging:
  level: error
  format: text
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path is required")
}

func TestRun_InvalidBrokerURI(t *testing.T) {
	path := writeConfig(t, `
broker:
  uri: "http://broker"
`)

	err := run(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.uri is invalid")
}

// =============================================================================
// Commands
// =============================================================================

func TestConfigPath(t *testing.T) {
	t.Setenv("MQTTLINK_CONFIG", "")
	cmd := newRootCmd()
	assert.Equal(t, defaultConfigPath, configPath(cmd))

	t.Setenv("MQTTLINK_CONFIG", "/etc/mqttlink.yaml")
	assert.Equal(t, "/etc/mqttlink.yaml", configPath(cmd))

	require.NoError(t, cmd.PersistentFlags().Set("config", "/tmp/flag.yaml"))
	assert.Equal(t, "/tmp/flag.yaml", configPath(cmd))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mqttlink "+version)
}

func TestLocatorCommand(t *testing.T) {
	out, err := execute(t, "locator", "WSS://broker.example.com:443/mqtt")
	require.NoError(t, err)

	assert.Contains(t, out, "scheme:    wss")
	assert.Contains(t, out, "host:      broker.example.com")
	assert.Contains(t, out, "port:      443")
	assert.Contains(t, out, "path:      /mqtt")
	assert.Contains(t, out, "canonical: wss://broker.example.com:443/mqtt")
}

func TestLocatorCommand_JSON(t *testing.T) {
	out, err := execute(t, "locator", "--json", "mqtts://[::1]")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "::1", got["host"])
	assert.Equal(t, float64(8883), got["port"])
	assert.Equal(t, true, got["secure"])
	assert.Equal(t, false, got["websocket"])
	assert.Equal(t, "mqtts://[::1]", got["canonical"])
}

func TestLocatorCommand_Invalid(t *testing.T) {
	_, err := execute(t, "locator", "broker:1883")
	require.Error(t, err)

	_, err = execute(t, "locator")
	require.Error(t, err, "missing argument must be rejected")
}

// =============================================================================
// Helpers
// =============================================================================

func TestDefaultClientID(t *testing.T) {
	id := defaultClientID()
	assert.Regexp(t, regexp.MustCompile(`^mqttlink-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, defaultClientID())
}

func TestSession_ReconnectDisabled(t *testing.T) {
	s := &session{ctx: context.Background(), log: logging.Nop()}
	s.scheduleReconnect()
	assert.Nil(t, s.timer)
}

func TestSession_NoReconnectAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &session{ctx: ctx, interval: time.Second, log: logging.Nop()}
	s.scheduleReconnect()
	assert.Nil(t, s.timer)
}

func TestSession_SingleTimer(t *testing.T) {
	s := &session{ctx: context.Background(), interval: time.Hour, log: logging.Nop()}

	s.scheduleReconnect()
	first := s.timer
	require.NotNil(t, first)

	s.scheduleReconnect()
	assert.Same(t, first, s.timer)

	s.stop()
	assert.Nil(t, s.timer)
}

func TestSession_Protocol(t *testing.T) {
	s := &session{
		ctx:  context.Background(),
		subs: []config.SubscriptionConfig{},
		log:  logging.Nop(),
	}
	s.connected(mqtt.ConnectionInfo{Protocol: mqtt.ProtocolV311, Fallback: true})
	assert.Equal(t, mqtt.ProtocolV311, s.protocol())
	assert.True(t, strings.HasPrefix(s.protocol().String(), "3.1"))
}
