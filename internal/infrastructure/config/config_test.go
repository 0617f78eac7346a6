package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "mqttlink.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
broker:
  uri: "wss://broker.example.com:9001/mqtt"
  client_id: "sensor-01"
  keepalive: 15
negotiation:
  fallback: true
  fallback_backoff: 250ms
subscriptions:
  - topic: "sensors/#"
    qos: 1
database:
  path: "/tmp/test.db"
api:
  port: 9090
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.URI != "wss://broker.example.com:9001/mqtt" {
		t.Errorf("Broker.URI = %q", cfg.Broker.URI)
	}
	if cfg.Broker.KeepAlive != 15 {
		t.Errorf("Broker.KeepAlive = %d, want 15", cfg.Broker.KeepAlive)
	}
	if cfg.Negotiation.FallbackBackoff != 250*time.Millisecond {
		t.Errorf("Negotiation.FallbackBackoff = %v, want 250ms", cfg.Negotiation.FallbackBackoff)
	}
	if cfg.Negotiation.PreferredProtocol != 5 || cfg.Negotiation.LegacyProtocol != 4 {
		t.Errorf("protocols = %d/%d, want defaults 5/4",
			cfg.Negotiation.PreferredProtocol, cfg.Negotiation.LegacyProtocol)
	}
	if len(cfg.Subscriptions) != 1 || cfg.Subscriptions[0].Topic != "sensors/#" {
		t.Errorf("Subscriptions = %+v", cfg.Subscriptions)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
broker:
  uri: "http://broker.example.com"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for unknown scheme, got nil")
	}
	if !strings.Contains(err.Error(), "broker.uri") {
		t.Errorf("error %q should mention broker.uri", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "valid locator",
			mutate:  func(c *Config) { c.Broker.URI = "mqtts://broker.example.com" },
			wantErr: false,
		},
		{
			name:    "malformed locator",
			mutate:  func(c *Config) { c.Broker.URI = "broker.example.com" },
			wantErr: true,
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.Broker.Host = "" },
			wantErr: true,
		},
		{
			name:    "invalid broker port",
			mutate:  func(c *Config) { c.Broker.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "negative keepalive",
			mutate:  func(c *Config) { c.Broker.KeepAlive = -1 },
			wantErr: true,
		},
		{
			name:    "client cert without key",
			mutate:  func(c *Config) { c.TLS.ClientCertFile = "/etc/mqttlink/client.pem" },
			wantErr: true,
		},
		{
			name:    "unknown protocol",
			mutate:  func(c *Config) { c.Negotiation.PreferredProtocol = 6 },
			wantErr: true,
		},
		{
			name: "legacy not lower than preferred",
			mutate: func(c *Config) {
				c.Negotiation.PreferredProtocol = 4
				c.Negotiation.LegacyProtocol = 4
			},
			wantErr: true,
		},
		{
			name: "preferred 3.1.1 legacy 3.1",
			mutate: func(c *Config) {
				c.Negotiation.PreferredProtocol = 4
				c.Negotiation.LegacyProtocol = 3
			},
			wantErr: false,
		},
		{
			name:    "negative backoff",
			mutate:  func(c *Config) { c.Negotiation.FallbackBackoff = -time.Second },
			wantErr: true,
		},
		{
			name:    "subscription without topic",
			mutate:  func(c *Config) { c.Subscriptions = []SubscriptionConfig{{QoS: 1}} },
			wantErr: true,
		},
		{
			name:    "subscription with invalid QoS",
			mutate:  func(c *Config) { c.Subscriptions = []SubscriptionConfig{{Topic: "a/b", QoS: 3}} },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name:    "invalid api port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name: "api port ignored when disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("MQTTLINK_BROKER_URI", "mqtts://mqtt.example.com")
	t.Setenv("MQTTLINK_CLIENT_ID", "env-client")
	t.Setenv("MQTTLINK_MQTT_USERNAME", "testuser")
	t.Setenv("MQTTLINK_MQTT_PASSWORD", "testpass")
	t.Setenv("MQTTLINK_DATABASE_PATH", "/custom/path.db")
	t.Setenv("MQTTLINK_API_HOST", "192.168.1.1")
	t.Setenv("MQTTLINK_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Broker.URI != "mqtts://mqtt.example.com" {
		t.Errorf("Broker.URI = %q, want %q", cfg.Broker.URI, "mqtts://mqtt.example.com")
	}

	if cfg.Broker.ClientID != "env-client" {
		t.Errorf("Broker.ClientID = %q, want %q", cfg.Broker.ClientID, "env-client")
	}

	if cfg.Auth.Username != "testuser" {
		t.Errorf("Auth.Username = %q, want %q", cfg.Auth.Username, "testuser")
	}

	if cfg.Auth.Password != "testpass" {
		t.Errorf("Auth.Password = %q, want %q", cfg.Auth.Password, "testpass")
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Broker.Port != 1883 {
		t.Errorf("defaultConfig Broker.Port = %d, want 1883", cfg.Broker.Port)
	}

	if cfg.Broker.KeepAlive != 30 {
		t.Errorf("defaultConfig Broker.KeepAlive = %d, want 30", cfg.Broker.KeepAlive)
	}

	if cfg.Negotiation.FallbackBackoff != time.Second {
		t.Errorf("defaultConfig Negotiation.FallbackBackoff = %v, want 1s", cfg.Negotiation.FallbackBackoff)
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
}

func TestTLSConfig_LoadPEM(t *testing.T) {
	dir := t.TempDir()
	caPath := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(caPath, []byte("ca-from-file"), 0600); err != nil {
		t.Fatalf("failed to write ca file: %v", err)
	}

	tlsCfg := TLSConfig{
		CACertFile: caPath,
		ClientCert: "inline-cert",
		ClientKey:  "inline-key",
		// Inline value wins over the file.
		ClientKeyFile: filepath.Join(dir, "missing.pem"),
	}

	ca, cert, key, err := tlsCfg.LoadPEM()
	if err != nil {
		t.Fatalf("LoadPEM() error = %v", err)
	}
	if string(ca) != "ca-from-file" {
		t.Errorf("ca = %q", ca)
	}
	if string(cert) != "inline-cert" || string(key) != "inline-key" {
		t.Errorf("cert/key = %q/%q", cert, key)
	}

	_, _, _, err = TLSConfig{CACertFile: filepath.Join(dir, "nope.pem")}.LoadPEM()
	if err == nil {
		t.Error("LoadPEM() expected error for missing file")
	}
}
