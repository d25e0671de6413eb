// Package sessions owns the process-wide registry of live protocol sessions
// and the per-session conversation state machine. A session is created only
// by a successful initialize handshake, dispatches calls while active, and
// releases its push stream on close.
package sessions

import "errors"

var (
	// ErrSessionNotFound indicates the session id is unknown to the registry,
	// either never issued or already removed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAlreadyInitialized indicates a second initialize on a session that
	// already completed its handshake.
	ErrAlreadyInitialized = errors.New("session already initialized")

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotInitialized indicates a dispatch arrived before the handshake
	// completed.
	ErrNotInitialized = errors.New("session not initialized")

	// ErrEventNotFound indicates a resume cursor that does not match any
	// retained message.
	ErrEventNotFound = errors.New("event id not found")

	// ErrStreamSuperseded indicates the push channel was taken over by a
	// newer subscriber. At most one channel is bound per session; the newest
	// wins so a reconnecting client is never locked out by a stale stream.
	ErrStreamSuperseded = errors.New("push stream superseded by a newer subscriber")
)

// State enumerates the session lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessageHandlerFunction receives one ordered session message. Returning an
// error stops the subscription.
type MessageHandlerFunction func(eventID string, data []byte) error
