package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Client is an MQTT client that negotiates its protocol level.
//
// It starts an engine with the preferred protocol (MQTT 5 by default) and,
// when fallback is enabled, retries with the legacy protocol (MQTT 3.1.1)
// if the preferred attempt fails or a preferred session drops.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Callbacks run one at a time on the client's dispatch goroutine, in
//     the order the underlying events occurred.
//   - Subscriptions are restored on every (re)connection before the
//     connect callback runs.
type Client struct {
	factory EngineFactory
	bridge  *bridge

	// mu guards the configuration and the negotiation state.
	mu         sync.Mutex
	cfg        ConnectionConfig
	state      State
	protocol   ProtocolVersion
	uri        string
	engine     Engine
	sink       *engineSink
	generation uint64
	closed     bool

	// pending transitions are delivered in order by the dispatch goroutine;
	// retired engines are stopped by whoever releases mu
	pending []queuedTransition
	retired []Engine

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	onMessage    MessageHandler
	onConnect    ConnectHandler
	onDisconnect DisconnectHandler
	onTransition TransitionHandler
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
type MessageHandler func(topic string, payload []byte)

// ConnectHandler is called after every successful (re)connection.
type ConnectHandler func(info ConnectionInfo)

// DisconnectHandler is called once per session end, and once when a
// connect attempt is exhausted. err is nil for a requested disconnect.
type DisconnectHandler func(err error)

// TransitionHandler observes every negotiation state change.
type TransitionHandler func(t Transition)

// NewClient creates an idle client that builds its engines with factory.
//
// Returns:
//   - *Client: Client ready to be configured and connected
//   - error: If factory is nil
func NewClient(factory EngineFactory) (*Client, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil engine factory", ErrEngineInit)
	}

	c := &Client{
		factory:       factory,
		bridge:        newBridge(),
		cfg:           defaultConnectionConfig(),
		subscriptions: make(map[string]byte),
		logger:        slog.New(slog.DiscardHandler),
	}
	go c.bridge.run(c.dispatch, c.flushTransitions)

	return c, nil
}

// Loop exists for callers written against poll-driven clients.
// Engines run their own goroutines, so there is nothing to do.
func (c *Client) Loop() {}

// Close disconnects and stops the dispatch goroutine. Queued callbacks
// are still delivered. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasActive := c.state.Active()
	c.detachEngineLocked()
	if wasActive {
		c.transitionLocked(StateDisconnected, "client closed", nil)
		c.noticeLocked()
	}
	engines := c.takeRetiredLocked()
	c.mu.Unlock()

	stopEngines(engines)
	c.bridge.close()

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected reports whether a session is live on either protocol.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Connected()
}

// State returns the current negotiation state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UsingFallback reports whether the live or pending session uses the
// legacy protocol.
func (c *Client) UsingFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Fallback()
}

// Status is a point-in-time view of the client.
type Status struct {
	State         State  `json:"-"`
	StateName     string `json:"state"`
	Connected     bool   `json:"connected"`
	Fallback      bool   `json:"fallback"`
	Protocol      string `json:"protocol,omitempty"`
	URI           string `json:"uri,omitempty"`
	ClientID      string `json:"client_id,omitempty"`
	Subscriptions int    `json:"subscriptions"`
}

// Status returns a snapshot of the client for status reporting.
func (c *Client) Status() Status {
	c.mu.Lock()
	s := Status{
		State:     c.state,
		StateName: c.state.String(),
		Connected: c.state.Connected(),
		Fallback:  c.state.Fallback(),
		URI:       c.uri,
		ClientID:  c.cfg.ClientID,
	}
	if c.state != StateIdle {
		s.Protocol = c.protocol.String()
	}
	c.mu.Unlock()

	c.subMu.RLock()
	s.Subscriptions = len(c.subscriptions)
	c.subMu.RUnlock()

	return s
}

// =============================================================================
// Callbacks
// =============================================================================

// OnMessage sets the callback for inbound messages on any subscription.
func (c *Client) OnMessage(handler MessageHandler) {
	c.callbackMu.Lock()
	c.onMessage = handler
	c.callbackMu.Unlock()
}

// OnConnect sets a callback to be invoked when a connection is established.
// This is called on initial connect and after every fallback reconnect.
func (c *Client) OnConnect(handler ConnectHandler) {
	c.callbackMu.Lock()
	c.onConnect = handler
	c.callbackMu.Unlock()
}

// OnDisconnect sets a callback to be invoked when a session ends or a
// connect attempt is exhausted.
func (c *Client) OnDisconnect(handler DisconnectHandler) {
	c.callbackMu.Lock()
	c.onDisconnect = handler
	c.callbackMu.Unlock()
}

// OnTransition sets an observer for negotiation state changes.
func (c *Client) OnTransition(handler TransitionHandler) {
	c.callbackMu.Lock()
	c.onTransition = handler
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for connection and handler diagnostics.
// A nil logger discards output.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// safeCall runs a user callback with panic recovery.
func (c *Client) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.getLogger().Error("MQTT callback panic recovered",
				"callback", name,
				"panic", r,
			)
		}
	}()
	fn()
}

func (c *Client) notifyMessage(topic string, payload []byte) {
	c.callbackMu.RLock()
	handler := c.onMessage
	c.callbackMu.RUnlock()
	if handler == nil {
		return
	}
	c.safeCall("message", func() { handler(topic, payload) })
}

func (c *Client) notifyConnect(info ConnectionInfo) {
	c.callbackMu.RLock()
	handler := c.onConnect
	c.callbackMu.RUnlock()
	if handler == nil {
		return
	}
	c.safeCall("connect", func() { handler(info) })
}

func (c *Client) notifyDisconnect(err error) {
	c.callbackMu.RLock()
	handler := c.onDisconnect
	c.callbackMu.RUnlock()
	if handler == nil {
		return
	}
	c.safeCall("disconnect", func() { handler(err) })
}

func (c *Client) notifyTransition(t Transition) {
	c.callbackMu.RLock()
	handler := c.onTransition
	c.callbackMu.RUnlock()
	if handler == nil {
		return
	}
	c.safeCall("transition", func() { handler(t) })
}
