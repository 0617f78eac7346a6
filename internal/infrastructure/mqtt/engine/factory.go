package engine

import (
	"fmt"
	"time"

	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
)

// Default engine timeouts.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Second
)

// Timeouts bounds the network operations of an engine.
type Timeouts struct {
	// Connect covers dialing, the TLS/WebSocket handshake and CONNACK.
	Connect time.Duration

	// Write bounds a single packet write (legacy engine).
	Write time.Duration
}

// Factory builds engines by protocol level. It implements mqtt.EngineFactory.
type Factory struct {
	timeouts Timeouts
}

// Option configures a Factory.
type Option func(*Factory)

// WithConnectTimeout sets how long an attempt may take to reach CONNACK.
func WithConnectTimeout(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.timeouts.Connect = d
		}
	}
}

// WithWriteTimeout sets the per-packet write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.timeouts.Write = d
		}
	}
}

// NewFactory returns a factory with default timeouts.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		timeouts: Timeouts{
			Connect: defaultConnectTimeout,
			Write:   defaultWriteTimeout,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewEngine validates cfg and returns an unstarted engine.
//
// MQTT 5 gets the paho.golang engine; MQTT 3.1 and 3.1.1 get the
// paho.mqtt.golang engine.
func (f *Factory) NewEngine(cfg mqtt.EngineConfig, sink mqtt.EventSink) (mqtt.Engine, error) {
	if cfg.ClientID == "" {
		return nil, ErrMissingClientID
	}

	parts, err := resolveParts(cfg)
	if err != nil {
		return nil, err
	}

	tlsCfg, err := newTLSConfig(cfg, parts.Host, parts.Scheme.Secure())
	if err != nil {
		return nil, err
	}

	switch cfg.Protocol {
	case mqtt.ProtocolV5:
		return newModernEngine(cfg, parts, tlsCfg, sink, f.timeouts), nil
	case mqtt.ProtocolV31, mqtt.ProtocolV311:
		return newLegacyEngine(cfg, parts, tlsCfg, sink, f.timeouts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, cfg.Protocol)
	}
}
