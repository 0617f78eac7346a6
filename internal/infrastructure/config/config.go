package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/mqttlink/internal/locator"
)

// Config is the root configuration structure for mqttlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker        BrokerConfig         `yaml:"broker"`
	Auth          AuthConfig           `yaml:"auth"`
	TLS           TLSConfig            `yaml:"tls"`
	Negotiation   NegotiationConfig    `yaml:"negotiation"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Database      DatabaseConfig       `yaml:"database"`
	InfluxDB      InfluxDBConfig       `yaml:"influxdb"`
	API           APIConfig            `yaml:"api"`
	Logging       LoggingConfig        `yaml:"logging"`
}

// BrokerConfig contains the broker address and session settings.
//
// URI takes precedence over Host/Port when both are set, mirroring
// the client's Begin/SetServer override order.
type BrokerConfig struct {
	URI       string `yaml:"uri"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Secure    bool   `yaml:"secure"`
	WebSocket bool   `yaml:"websocket"`
	Path      string `yaml:"path"`
	ClientID  string `yaml:"client_id"`
	KeepAlive int    `yaml:"keepalive"`
}

// AuthConfig contains MQTT authentication credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TLSConfig contains PEM material for server verification and mTLS.
// Each blob can be given inline or as a file path; inline wins.
type TLSConfig struct {
	CACert         string `yaml:"ca_cert"`
	CACertFile     string `yaml:"ca_cert_file"`
	ClientCert     string `yaml:"client_cert"`
	ClientCertFile string `yaml:"client_cert_file"`
	ClientKey      string `yaml:"client_key"`
	ClientKeyFile  string `yaml:"client_key_file"`
	Insecure       bool   `yaml:"insecure"`
}

// NegotiationConfig controls protocol selection and fallback.
type NegotiationConfig struct {
	// Fallback enables the legacy protocol retry after a failed or dropped
	// preferred-protocol session.
	Fallback bool `yaml:"fallback"`

	// PreferredProtocol is the MQTT protocol level tried first (3, 4 or 5).
	// Default: 5
	PreferredProtocol int `yaml:"preferred_protocol"`

	// LegacyProtocol is the protocol level used for fallback.
	// Default: 4 (MQTT 3.1.1)
	LegacyProtocol int `yaml:"legacy_protocol"`

	// FallbackBackoff is the pause before the legacy attempt that follows
	// an unexpected disconnect.
	// Default: 1s
	FallbackBackoff time.Duration `yaml:"fallback_backoff"`

	// ReconnectInterval is how long the daemon waits before a fresh Connect
	// once the negotiator gives up. Zero disables reconnecting.
	// Default: 5s
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// SubscriptionConfig is a topic the daemon subscribes to once connected.
type SubscriptionConfig struct {
	Topic string `yaml:"topic"`
	QoS   int    `yaml:"qos"`
}

// DatabaseConfig contains SQLite database settings for the connection journal.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the transition stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTTLINK_SECTION_KEY
// For example: MQTTLINK_BROKER_URI, MQTTLINK_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:      "localhost",
			Port:      1883,
			KeepAlive: 30,
		},
		Negotiation: NegotiationConfig{
			Fallback:          true,
			PreferredProtocol: 5,
			LegacyProtocol:    4,
			FallbackBackoff:   time.Second,
			ReconnectInterval: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/mqttlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Broker
	if v := os.Getenv("MQTTLINK_BROKER_URI"); v != "" {
		cfg.Broker.URI = v
	}
	if v := os.Getenv("MQTTLINK_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("MQTTLINK_CLIENT_ID"); v != "" {
		cfg.Broker.ClientID = v
	}

	// Credentials
	if v := os.Getenv("MQTTLINK_MQTT_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("MQTTLINK_MQTT_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}

	// Database
	if v := os.Getenv("MQTTLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("MQTTLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("MQTTLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent checks
	var errs []string

	// Broker validation
	if c.Broker.URI != "" {
		if _, err := locator.Parse(c.Broker.URI); err != nil {
			errs = append(errs, fmt.Sprintf("broker.uri is invalid: %v", err))
		}
	} else {
		if c.Broker.Host == "" {
			errs = append(errs, "broker.uri or broker.host is required")
		}
		if c.Broker.Port < 1 || c.Broker.Port > 65535 {
			errs = append(errs, "broker.port must be between 1 and 65535")
		}
	}
	if c.Broker.KeepAlive < 0 || c.Broker.KeepAlive > 65535 {
		errs = append(errs, "broker.keepalive must be between 0 and 65535 seconds")
	}

	// TLS validation
	hasCert := c.TLS.ClientCert != "" || c.TLS.ClientCertFile != ""
	hasKey := c.TLS.ClientKey != "" || c.TLS.ClientKeyFile != ""
	if hasCert != hasKey {
		errs = append(errs, "tls.client_cert and tls.client_key must be set together")
	}

	// Negotiation validation
	if !validProtocol(c.Negotiation.PreferredProtocol) {
		errs = append(errs, "negotiation.preferred_protocol must be 3, 4 or 5")
	}
	if !validProtocol(c.Negotiation.LegacyProtocol) {
		errs = append(errs, "negotiation.legacy_protocol must be 3, 4 or 5")
	}
	if c.Negotiation.LegacyProtocol >= c.Negotiation.PreferredProtocol {
		errs = append(errs, "negotiation.legacy_protocol must be lower than negotiation.preferred_protocol")
	}
	if c.Negotiation.FallbackBackoff < 0 {
		errs = append(errs, "negotiation.fallback_backoff cannot be negative")
	}
	if c.Negotiation.ReconnectInterval < 0 {
		errs = append(errs, "negotiation.reconnect_interval cannot be negative")
	}

	// Subscriptions validation
	for i, sub := range c.Subscriptions {
		if sub.Topic == "" {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].topic is required", i))
		}
		if sub.QoS < 0 || sub.QoS > 2 {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].qos must be 0, 1, or 2", i))
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && (c.API.WebSocket.PingInterval < 1 || c.API.WebSocket.PongTimeout < 1) {
		errs = append(errs, "api.websocket.ping_interval and pong_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validProtocol(v int) bool {
	return v >= 3 && v <= 5
}

// LoadPEM returns the CA certificate, client certificate and client key,
// reading from the configured files where no inline value is given.
// Missing entries are returned as nil.
func (t TLSConfig) LoadPEM() (ca, cert, key []byte, err error) {
	if ca, err = pemValue(t.CACert, t.CACertFile); err != nil {
		return nil, nil, nil, fmt.Errorf("reading tls.ca_cert_file: %w", err)
	}
	if cert, err = pemValue(t.ClientCert, t.ClientCertFile); err != nil {
		return nil, nil, nil, fmt.Errorf("reading tls.client_cert_file: %w", err)
	}
	if key, err = pemValue(t.ClientKey, t.ClientKeyFile); err != nil {
		return nil, nil, nil, fmt.Errorf("reading tls.client_key_file: %w", err)
	}
	return ca, cert, key, nil
}

func pemValue(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path) //nolint:gosec // path comes from operator config
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
