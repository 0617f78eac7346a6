package mqtt

import (
	"bytes"
	"fmt"
	"time"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/locator"
)

// Connection defaults.
const (
	// defaultKeepAlive is the keep-alive interval sent in CONNECT.
	defaultKeepAlive = 30 * time.Second

	// defaultFallbackBackoff is the pause before the legacy attempt that
	// follows an unexpected disconnect.
	defaultFallbackBackoff = time.Second

	// maxKeepAlive is the largest keep-alive the CONNECT packet can carry.
	maxKeepAlive = 65535 * time.Second
)

// ConnectionConfig holds everything an engine needs for a connection attempt.
//
// It is owned by a Client and changed only through the Client's setters;
// Client.Config returns a copy.
type ConnectionConfig struct {
	Host      string
	Port      uint16
	Secure    bool
	WebSocket bool
	Path      string

	ClientID string
	Username string
	Password string

	CACert     []byte
	ClientCert []byte
	ClientKey  []byte
	Insecure   bool

	KeepAlive       time.Duration
	Fallback        bool
	Preferred       ProtocolVersion
	Legacy          ProtocolVersion
	FallbackBackoff time.Duration
}

func defaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Port:            locator.DefaultPort,
		KeepAlive:       defaultKeepAlive,
		Preferred:       ProtocolV5,
		Legacy:          ProtocolV311,
		FallbackBackoff: defaultFallbackBackoff,
	}
}

// clone returns a deep copy so callers never share PEM buffers.
func (c ConnectionConfig) clone() ConnectionConfig {
	c.CACert = bytes.Clone(c.CACert)
	c.ClientCert = bytes.Clone(c.ClientCert)
	c.ClientKey = bytes.Clone(c.ClientKey)
	return c
}

// scheme returns the locator scheme for the current transport flags.
func (c ConnectionConfig) scheme() locator.Scheme {
	return locator.SchemeFor(c.Secure, c.WebSocket)
}

// ResolveURI returns the locator the engine should use, or "" when discrete
// host/port fields are enough. A URI is built when WebSocket transport is
// enabled or an explicit path was set; the path is only carried for
// WebSocket, defaulting to "/".
func (c ConnectionConfig) ResolveURI() string {
	if !c.WebSocket && c.Path == "" {
		return ""
	}

	parts := locator.Parts{
		Scheme: c.scheme(),
		Host:   c.Host,
		Port:   c.Port,
	}
	if c.WebSocket {
		parts.Path = c.Path
		if parts.Path == "" {
			parts.Path = locator.DefaultPath
		}
	}
	return locator.Build(parts)
}

// engineConfig snapshots the configuration for one attempt.
func (c ConnectionConfig) engineConfig(protocol ProtocolVersion) EngineConfig {
	return EngineConfig{
		URI:        c.ResolveURI(),
		Host:       c.Host,
		Port:       c.Port,
		Secure:     c.Secure,
		WebSocket:  c.WebSocket,
		Path:       c.Path,
		ClientID:   c.ClientID,
		Username:   c.Username,
		Password:   c.Password,
		KeepAlive:  c.KeepAlive,
		Protocol:   protocol,
		CACert:     bytes.Clone(c.CACert),
		ClientCert: bytes.Clone(c.ClientCert),
		ClientKey:  bytes.Clone(c.ClientKey),
		Insecure:   c.Insecure,
	}
}

// =============================================================================
// Configuration setters
// =============================================================================

// Begin configures the broker address from a locator such as
// "mqtts://broker.example.com:8883" or "ws://broker.example.com/mqtt".
//
// On a parse error the previous address is left unchanged and the error
// (wrapping locator.ErrInvalidLocator) is returned.
func (c *Client) Begin(brokerURI string) error {
	parts, err := locator.Parse(brokerURI)
	if err != nil {
		c.getLogger().Error("invalid broker locator", "error", err)
		return err
	}

	c.mu.Lock()
	c.cfg.Host = parts.Host
	c.cfg.Port = parts.Port
	c.cfg.Secure = parts.Scheme.Secure()
	c.cfg.WebSocket = parts.Scheme.WebSocket()
	if c.cfg.WebSocket {
		c.cfg.Path = parts.Path
	}
	c.mu.Unlock()

	return nil
}

// SetServer configures the broker address directly. Transport flags set by
// an earlier Begin or SetWebSocket are kept.
func (c *Client) SetServer(host string, port uint16) {
	c.mu.Lock()
	c.cfg.Host = host
	c.cfg.Port = port
	c.mu.Unlock()
}

// SetWebSocket enables or disables WebSocket transport.
func (c *Client) SetWebSocket(enable bool) {
	c.mu.Lock()
	c.cfg.WebSocket = enable
	c.mu.Unlock()
}

// SetSecure enables or disables TLS.
func (c *Client) SetSecure(secure bool) {
	c.mu.Lock()
	c.cfg.Secure = secure
	c.mu.Unlock()
}

// SetPath sets the WebSocket path (e.g. "/mqtt").
func (c *Client) SetPath(path string) {
	c.mu.Lock()
	c.cfg.Path = path
	c.mu.Unlock()
}

// SetCredentials sets the username and password sent in CONNECT.
func (c *Client) SetCredentials(username, password string) {
	c.mu.Lock()
	c.cfg.Username = username
	c.cfg.Password = password
	c.mu.Unlock()
}

// SetKeepAlive sets the keep-alive interval. Values are clamped to the
// range the CONNECT packet can carry.
func (c *Client) SetKeepAlive(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if d > maxKeepAlive {
		d = maxKeepAlive
	}
	c.mu.Lock()
	c.cfg.KeepAlive = d
	c.mu.Unlock()
}

// SetCACert sets the PEM-encoded CA certificate used to verify the broker.
func (c *Client) SetCACert(pem []byte) {
	c.mu.Lock()
	c.cfg.CACert = bytes.Clone(pem)
	c.mu.Unlock()
	c.getLogger().Info("CA certificate configured")
}

// SetClientCert sets the PEM-encoded client certificate for mTLS.
func (c *Client) SetClientCert(pem []byte) {
	c.mu.Lock()
	c.cfg.ClientCert = bytes.Clone(pem)
	c.mu.Unlock()
	c.getLogger().Info("client certificate configured for mTLS")
}

// SetClientKey sets the PEM-encoded client private key for mTLS.
func (c *Client) SetClientKey(pem []byte) {
	c.mu.Lock()
	c.cfg.ClientKey = bytes.Clone(pem)
	c.mu.Unlock()
	c.getLogger().Info("client private key configured for mTLS")
}

// SetInsecure disables server certificate verification. Testing only.
func (c *Client) SetInsecure(insecure bool) {
	c.mu.Lock()
	c.cfg.Insecure = insecure
	c.mu.Unlock()
	if insecure {
		c.getLogger().Warn("certificate verification disabled (insecure mode)")
	}
}

// SetProtocolFallback enables the legacy protocol retry.
func (c *Client) SetProtocolFallback(enable bool) {
	c.mu.Lock()
	c.cfg.Fallback = enable
	c.mu.Unlock()
	c.getLogger().Info("protocol fallback configured", "enabled", enable)
}

// SetProtocols sets the preferred and legacy protocol levels.
// The legacy level must be lower than the preferred one.
func (c *Client) SetProtocols(preferred, legacy ProtocolVersion) error {
	if !preferred.Valid() || !legacy.Valid() || legacy >= preferred {
		return fmt.Errorf("%w: preferred %s, legacy %s", ErrInvalidProtocol, preferred, legacy)
	}
	c.mu.Lock()
	c.cfg.Preferred = preferred
	c.cfg.Legacy = legacy
	c.mu.Unlock()
	return nil
}

// SetFallbackBackoff sets the pause before the legacy attempt that follows
// an unexpected disconnect.
func (c *Client) SetFallbackBackoff(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	c.cfg.FallbackBackoff = d
	c.mu.Unlock()
}

// Config returns a copy of the current connection configuration.
func (c *Client) Config() ConnectionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.clone()
}

// ApplyConfig configures the client from the loaded application config.
//
// The locator (broker.uri) wins over broker.host/broker.port. PEM files
// referenced by the tls section are read here.
func (c *Client) ApplyConfig(cfg *config.Config) error {
	if cfg.Broker.URI != "" {
		if err := c.Begin(cfg.Broker.URI); err != nil {
			return fmt.Errorf("applying broker.uri: %w", err)
		}
	} else {
		c.SetServer(cfg.Broker.Host, uint16(cfg.Broker.Port)) //nolint:gosec // range checked by config.Validate
		c.SetSecure(cfg.Broker.Secure)
		c.SetWebSocket(cfg.Broker.WebSocket)
	}
	if cfg.Broker.Path != "" {
		c.SetPath(cfg.Broker.Path)
	}

	c.SetCredentials(cfg.Auth.Username, cfg.Auth.Password)
	c.SetKeepAlive(time.Duration(cfg.Broker.KeepAlive) * time.Second)

	ca, cert, key, err := cfg.TLS.LoadPEM()
	if err != nil {
		return err
	}
	if ca != nil {
		c.SetCACert(ca)
	}
	if cert != nil {
		c.SetClientCert(cert)
	}
	if key != nil {
		c.SetClientKey(key)
	}
	if cfg.TLS.Insecure {
		c.SetInsecure(true)
	}

	if err := c.SetProtocols(
		ProtocolVersion(cfg.Negotiation.PreferredProtocol), //nolint:gosec // range checked by config.Validate
		ProtocolVersion(cfg.Negotiation.LegacyProtocol),    //nolint:gosec // range checked by config.Validate
	); err != nil {
		return err
	}
	c.SetProtocolFallback(cfg.Negotiation.Fallback)
	c.SetFallbackBackoff(cfg.Negotiation.FallbackBackoff)

	return nil
}
