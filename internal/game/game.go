// Package game defines the pluggable game-kind handlers that interpret a game
// room's opaque state. The room registry stores state as raw JSON and never
// inspects it; a Handler is the only code that does.
package game

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind is returned when no handler is registered for a game kind.
	ErrUnknownKind = errors.New("unknown game kind")
	// ErrRejected wraps every reason a handler gives for refusing an action.
	ErrRejected = errors.New("game action rejected")
)

// Context describes who is acting and who is playing.
type Context struct {
	// Actor is the client id of the member issuing the action.
	Actor string
	// Members lists the room's client ids in join order.
	Members []string
}

// Handler validates an action against the current state and produces the next state.
type Handler interface {
	// Apply returns the new state for the room.
	//
	// Precondition: state is nil before the first successful action.
	// Postcondition: On error, the caller must keep the previous state.
	Apply(ctx Context, state json.RawMessage, action string, data json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx Context, state json.RawMessage, action string, data json.RawMessage) (json.RawMessage, error)

// Apply calls f.
func (f HandlerFunc) Apply(ctx Context, state json.RawMessage, action string, data json.RawMessage) (json.RawMessage, error) {
	return f(ctx, state, action, data)
}

// Reject returns an error wrapping ErrRejected with a client-facing reason.
func Reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// Reason strips the ErrRejected prefix from err for display to a client.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	prefix := ErrRejected.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
