package mqtt

import (
	"time"
)

// State is the position of a client in the protocol negotiation state machine.
//
// The zero value is StateIdle.
type State int

// Negotiation states.
const (
	// StateIdle means no connect has been requested, or the last request
	// failed before any engine started.
	StateIdle State = iota

	// StateAttemptingPreferred means the engine was started with the
	// preferred protocol and has not reported an outcome yet.
	StateAttemptingPreferred

	// StateAttemptingFallback means the preferred protocol failed and the
	// engine was started with the legacy protocol.
	StateAttemptingFallback

	// StateConnected is a live session on the preferred protocol.
	StateConnected

	// StateConnectedViaFallback is a live session on the legacy protocol.
	StateConnectedViaFallback

	// StateDisconnected means a session ended (or never came up after a
	// successful start) and no further attempt is pending.
	StateDisconnected

	// StateReconnectingFallback means a preferred-protocol session dropped
	// and a legacy attempt is pending or in flight.
	StateReconnectingFallback
)

var stateNames = [...]string{
	StateIdle:                 "idle",
	StateAttemptingPreferred:  "attempting_preferred",
	StateAttemptingFallback:   "attempting_fallback",
	StateConnected:            "connected",
	StateConnectedViaFallback: "connected_via_fallback",
	StateDisconnected:         "disconnected",
	StateReconnectingFallback: "reconnecting_fallback",
}

// String returns the snake_case state name used in logs and the journal.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Connected reports whether the state is a live session.
func (s State) Connected() bool {
	return s == StateConnected || s == StateConnectedViaFallback
}

// Active reports whether a session is live or being established.
func (s State) Active() bool {
	switch s {
	case StateAttemptingPreferred, StateAttemptingFallback,
		StateConnected, StateConnectedViaFallback, StateReconnectingFallback:
		return true
	default:
		return false
	}
}

// Fallback reports whether the state belongs to a legacy-protocol attempt
// or session.
func (s State) Fallback() bool {
	switch s {
	case StateAttemptingFallback, StateConnectedViaFallback, StateReconnectingFallback:
		return true
	default:
		return false
	}
}

// Transition records one state change of the negotiator.
type Transition struct {
	From     State
	To       State
	Protocol ProtocolVersion
	URI      string
	Reason   string
	Err      error
	At       time.Time
}

// ConnectionInfo is passed to the connect callback.
type ConnectionInfo struct {
	// Protocol is the protocol level the session runs on.
	Protocol ProtocolVersion

	// Fallback is true when the session uses the legacy protocol.
	Fallback bool

	// URI is the broker address the engine connected to.
	URI string

	// SessionPresent mirrors the CONNACK flag.
	SessionPresent bool
}
