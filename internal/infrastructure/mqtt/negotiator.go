package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Connect starts a connection attempt with the preferred protocol.
//
// The call does not wait for the broker. A nil error means an engine was
// started; the outcome is reported through the connect and disconnect
// callbacks. When the preferred engine cannot be initialised or started and
// fallback is enabled, the legacy protocol is tried before returning.
//
// Calling Connect while connected tears down the current session first.
//
// Returns:
//   - error: ErrInvalidClientID for an empty id, ErrConnectionFailed when no
//     engine could be started, ErrClosed after Close
func (c *Client) Connect(clientID string) error {
	if strings.TrimSpace(clientID) == "" {
		c.getLogger().Error("MQTT connect rejected", "error", ErrInvalidClientID)
		return ErrInvalidClientID
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.cfg.ClientID = clientID
	c.detachEngineLocked()
	err := c.connectLocked()
	engines := c.takeRetiredLocked()
	c.mu.Unlock()

	stopEngines(engines)
	c.bridge.signal()
	return err
}

// Disconnect ends the session. It never triggers the legacy fallback.
// The disconnect callback fires once if a session was live or pending.
func (c *Client) Disconnect() {
	c.mu.Lock()
	wasActive := c.state.Active()
	c.detachEngineLocked()
	if wasActive {
		c.transitionLocked(StateDisconnected, "disconnect requested", nil)
		c.noticeLocked()
	}
	engines := c.takeRetiredLocked()
	c.mu.Unlock()

	stopEngines(engines)
	c.bridge.signal()
}

// connectLocked runs the synchronous part of a connect request.
func (c *Client) connectLocked() error {
	preferred, legacy := c.cfg.Preferred, c.cfg.Legacy

	c.beginAttemptLocked(preferred)
	c.transitionLocked(StateAttemptingPreferred, "connect requested", nil)
	perr := c.startLocked(preferred)
	if perr == nil {
		return nil
	}

	c.getLogger().Warn("MQTT preferred protocol engine failed",
		"protocol", preferred.String(),
		"error", perr,
	)
	if !c.cfg.Fallback {
		c.transitionLocked(StateIdle, "preferred protocol failed", perr)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, perr)
	}

	c.beginAttemptLocked(legacy)
	c.transitionLocked(StateAttemptingFallback, "preferred protocol failed", perr)
	lerr := c.startLocked(legacy)
	if lerr == nil {
		return nil
	}

	c.getLogger().Error("MQTT legacy protocol engine failed",
		"protocol", legacy.String(),
		"error", lerr,
	)
	c.transitionLocked(StateIdle, "legacy protocol failed", lerr)
	return fmt.Errorf("%w: %s: %w; %s: %w", ErrConnectionFailed, preferred, perr, legacy, lerr)
}

// beginAttemptLocked records the protocol and address of a new attempt.
func (c *Client) beginAttemptLocked(protocol ProtocolVersion) {
	c.protocol = protocol
	c.uri = c.cfg.engineConfig(protocol).Address()
}

// startLocked builds and starts an engine for protocol.
func (c *Client) startLocked(protocol ProtocolVersion) error {
	ecfg := c.cfg.engineConfig(protocol)

	c.generation++
	sink := c.bridge.sink(c.generation)
	engine, err := c.factory.NewEngine(ecfg, sink)
	if err != nil {
		sink.retire()
		return fmt.Errorf("%w: %w", ErrEngineInit, err)
	}
	if err := engine.Start(); err != nil {
		sink.retire()
		engine.Stop()
		return fmt.Errorf("%w: %w", ErrEngineStart, err)
	}

	c.engine = engine
	c.sink = sink
	c.getLogger().Info("MQTT engine started",
		"uri", ecfg.Address(),
		"client_id", ecfg.ClientID,
		"protocol", protocol.String(),
		"keepalive", ecfg.KeepAlive.String(),
		"auth", ecfg.Username != "",
	)
	return nil
}

// detachEngineLocked retires the current engine so its events are dropped.
// The engine itself is stopped by the caller after releasing mu.
func (c *Client) detachEngineLocked() {
	if c.sink != nil {
		c.sink.retire()
		c.sink = nil
	}
	if c.engine != nil {
		c.retired = append(c.retired, c.engine)
		c.engine = nil
	}
	c.generation++
}

// queuedTransition is a transition waiting for the dispatch goroutine.
// notice fires the disconnect callback with a nil error after the observer.
type queuedTransition struct {
	Transition
	notice bool
}

// transitionLocked moves to state and queues the observer notification.
func (c *Client) transitionLocked(to State, reason string, err error) {
	from := c.state
	c.state = to
	c.pending = append(c.pending, queuedTransition{Transition: Transition{
		From:     from,
		To:       to,
		Protocol: c.protocol,
		URI:      c.uri,
		Reason:   reason,
		Err:      err,
		At:       time.Now().UTC(),
	}})

	args := []any{
		"from", from.String(),
		"to", to.String(),
		"protocol", c.protocol.String(),
		"reason", reason,
	}
	if err != nil {
		args = append(args, "error", err)
	}
	c.getLogger().Info("MQTT negotiation state changed", args...)
}

// noticeLocked attaches a requested-disconnect notice to the last queued
// transition. Callers run it right after transitioning to StateDisconnected,
// and wake the dispatch goroutine with signal, which never blocks.
func (c *Client) noticeLocked() {
	if n := len(c.pending); n > 0 {
		c.pending[n-1].notice = true
	}
}

// drainLocked takes the queued transitions and retired engines.
// Only the dispatch goroutine delivers transitions, which keeps the
// observer in state order whichever goroutine changed the state.
func (c *Client) drainLocked() ([]queuedTransition, []Engine) {
	transitions := c.pending
	c.pending = nil
	return transitions, c.takeRetiredLocked()
}

func (c *Client) takeRetiredLocked() []Engine {
	engines := c.retired
	c.retired = nil
	return engines
}

// flushTransitions delivers queued transitions on the dispatch goroutine.
func (c *Client) flushTransitions() {
	c.mu.Lock()
	transitions := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.deliverTransitions(transitions)
}

func (c *Client) deliverTransitions(transitions []queuedTransition) {
	for _, t := range transitions {
		c.notifyTransition(t.Transition)
		if t.notice {
			c.notifyDisconnect(nil)
		}
	}
}

func stopEngines(engines []Engine) {
	for _, e := range engines {
		e.Stop()
	}
}

// =============================================================================
// Event dispatch
// =============================================================================

// dispatch handles one event on the dispatch goroutine.
func (c *Client) dispatch(ev Event) {
	switch ev.Kind {
	case EventConnected:
		c.handleConnected(ev)
	case EventConnectFailed:
		c.handleAttemptFailed(ev)
	case EventDisconnected:
		c.handleDisconnected(ev)
	case EventMessage:
		if c.isCurrent(ev.generation) {
			c.notifyMessage(ev.Topic, ev.Payload)
		}
	case EventPublished, EventSubscribed, EventUnsubscribed:
		if ev.Err != nil {
			c.getLogger().Warn("MQTT operation failed",
				"operation", ev.Kind.String(),
				"message_id", ev.MessageID,
				"topic", ev.Topic,
				"error", ev.Err,
			)
			return
		}
		c.getLogger().Debug("MQTT operation acknowledged",
			"operation", ev.Kind.String(),
			"message_id", ev.MessageID,
			"topic", ev.Topic,
		)
	case EventError:
		c.getLogger().Warn("MQTT engine error", "error", ev.Err)
	}
}

func (c *Client) isCurrent(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation == c.generation
}

// handleConnected completes an attempt.
func (c *Client) handleConnected(ev Event) {
	c.mu.Lock()
	if ev.generation != c.generation {
		c.mu.Unlock()
		return
	}

	var fallback bool
	switch c.state {
	case StateAttemptingPreferred:
		c.transitionLocked(StateConnected, "connection accepted", nil)
	case StateAttemptingFallback, StateReconnectingFallback:
		fallback = true
		c.transitionLocked(StateConnectedViaFallback, "connection accepted", nil)
	default:
		state := c.state
		c.mu.Unlock()
		c.getLogger().Warn("MQTT connected event in unexpected state", "state", state.String())
		return
	}

	info := ConnectionInfo{
		Protocol:       c.protocol,
		Fallback:       fallback,
		URI:            c.uri,
		SessionPresent: ev.SessionPresent,
	}
	engine := c.engine
	transitions, engines := c.drainLocked()
	c.mu.Unlock()

	stopEngines(engines)
	c.deliverTransitions(transitions)
	c.restoreSubscriptions(engine)
	c.notifyConnect(info)
}

// handleAttemptFailed handles a failed attempt reported after start.
func (c *Client) handleAttemptFailed(ev Event) {
	c.mu.Lock()
	if ev.generation != c.generation {
		c.mu.Unlock()
		return
	}
	notify, cause := c.failAttemptLocked(ev.Err)
	transitions, engines := c.drainLocked()
	c.mu.Unlock()

	stopEngines(engines)
	c.deliverTransitions(transitions)
	if notify {
		c.notifyDisconnect(cause)
	}
}

// failAttemptLocked advances the state machine after an attempt failed.
// It reports whether the disconnect callback should fire.
func (c *Client) failAttemptLocked(err error) (bool, error) {
	switch c.state {
	case StateAttemptingPreferred:
		c.detachEngineLocked()
		if !c.cfg.Fallback {
			c.transitionLocked(StateDisconnected, "preferred protocol refused", err)
			return true, err
		}

		c.beginAttemptLocked(c.cfg.Legacy)
		c.transitionLocked(StateAttemptingFallback, "preferred protocol refused", err)
		if serr := c.startLocked(c.cfg.Legacy); serr != nil {
			c.transitionLocked(StateDisconnected, "legacy protocol failed", serr)
			return true, errors.Join(err, serr)
		}
		return false, nil

	case StateAttemptingFallback, StateReconnectingFallback:
		c.detachEngineLocked()
		c.transitionLocked(StateDisconnected, "legacy protocol refused", err)
		return true, err

	default:
		return false, nil
	}
}

// handleDisconnected handles the loss of a session.
func (c *Client) handleDisconnected(ev Event) {
	c.mu.Lock()
	if ev.generation != c.generation {
		c.mu.Unlock()
		return
	}

	var (
		notify bool
		cause  = ev.Err
	)
	switch c.state {
	case StateAttemptingPreferred, StateAttemptingFallback, StateReconnectingFallback:
		notify, cause = c.failAttemptLocked(ev.Err)

	case StateConnected:
		c.detachEngineLocked()
		if c.cfg.Fallback {
			c.beginAttemptLocked(c.cfg.Legacy)
			c.transitionLocked(StateReconnectingFallback, "preferred session lost", ev.Err)
			generation, backoff := c.generation, c.cfg.FallbackBackoff
			transitions, engines := c.drainLocked()
			c.mu.Unlock()

			stopEngines(engines)
			c.deliverTransitions(transitions)
			c.reconnectWithFallback(generation, backoff, ev.Err)
			return
		}
		c.transitionLocked(StateDisconnected, "session lost", ev.Err)
		notify = true

	case StateConnectedViaFallback:
		c.detachEngineLocked()
		c.transitionLocked(StateDisconnected, "legacy session lost", ev.Err)
		notify = true
	}

	transitions, engines := c.drainLocked()
	c.mu.Unlock()

	stopEngines(engines)
	c.deliverTransitions(transitions)
	if notify {
		c.notifyDisconnect(cause)
	}
}

// reconnectWithFallback waits out the backoff and starts the legacy engine,
// unless Connect, Disconnect or Close intervened meanwhile. Those calls
// signal the dispatch goroutine, which ends the wait early.
func (c *Client) reconnectWithFallback(generation uint64, backoff time.Duration, cause error) {
	if backoff > 0 {
		timer := time.NewTimer(backoff)
		defer timer.Stop()
	wait:
		for {
			select {
			case <-timer.C:
				break wait
			case <-c.bridge.wake:
				c.flushTransitions()
				if !c.reconnectPending(generation) {
					return
				}
			case <-c.bridge.done:
				return
			}
		}
	}

	c.mu.Lock()
	if !c.reconnectPendingLocked(generation) {
		c.mu.Unlock()
		return
	}

	var notify bool
	err := c.startLocked(c.cfg.Legacy)
	if err != nil {
		c.transitionLocked(StateDisconnected, "legacy reconnect failed", err)
		notify = true
	}
	transitions, engines := c.drainLocked()
	c.mu.Unlock()

	stopEngines(engines)
	c.deliverTransitions(transitions)
	if notify {
		c.notifyDisconnect(errors.Join(cause, err))
	}
}

func (c *Client) reconnectPending(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectPendingLocked(generation)
}

func (c *Client) reconnectPendingLocked(generation uint64) bool {
	return !c.closed && c.generation == generation && c.state == StateReconnectingFallback
}
