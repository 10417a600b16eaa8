// Package router turns decoded inbound envelopes into registry operations and
// outbound envelopes. Each connection gets its own Conn, a two-state machine:
// unauthenticated until a successful authenticate, authenticated thereafter.
package router

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/roomrelay/internal/game"
	"github.com/cory-johannsen/roomrelay/internal/identity"
	"github.com/cory-johannsen/roomrelay/internal/protocol"
	"github.com/cory-johannsen/roomrelay/internal/room"
	"github.com/cory-johannsen/roomrelay/internal/session"
)

// Disposition tells the session what to do after a frame was handled.
type Disposition int

const (
	// Continue keeps the connection open.
	Continue Disposition = iota
	// Close asks the session to run cleanup and close the transport.
	Close
)

// Router holds the shared services every connection dispatches into.
type Router struct {
	rooms       *room.Registry
	conns       *session.Registry
	ident       identity.Provider
	games       *game.Registry
	defaultKind string
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithClock overrides the time source used for chat timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a Router.
//
// Precondition: every argument must be non-nil; defaultKind names a kind
// registered in games.
func New(rooms *room.Registry, conns *session.Registry, ident identity.Provider, games *game.Registry, defaultKind string, logger *zap.Logger, opts ...Option) *Router {
	r := &Router{
		rooms:       rooms,
		conns:       conns,
		ident:       ident,
		games:       games,
		defaultKind: defaultKind,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// codeFor maps an operation error to its wire error code.
func codeFor(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return protocol.CodeRoomNotFound
	case errors.Is(err, room.ErrRoomFull):
		return protocol.CodeRoomFull
	case errors.Is(err, room.ErrAlreadyInRoom):
		return protocol.CodeAlreadyInRoom
	case errors.Is(err, room.ErrNotInRoom):
		return protocol.CodeNotInRoom
	case errors.Is(err, room.ErrInvalidCapacity):
		return protocol.CodeInvalidCapacity
	case errors.Is(err, room.ErrInvalidRoomKind), errors.Is(err, protocol.ErrMalformed):
		return protocol.CodeProtocolError
	case errors.Is(err, protocol.ErrUnknownType):
		return protocol.CodeUnknownType
	case errors.Is(err, identity.ErrNoProfile), errors.Is(err, identity.ErrUnauthorized):
		return protocol.CodeAuthFailed
	case errors.Is(err, game.ErrUnknownKind), errors.Is(err, game.ErrRejected):
		return protocol.CodeGameError
	default:
		return protocol.CodeInternalError
	}
}

// lookupTimeout bounds an identity lookup when the caller's context has no deadline.
const lookupTimeout = 10 * time.Second

func (r *Router) lookup(ctx context.Context, token string) (identity.Profile, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lookupTimeout)
		defer cancel()
	}
	return r.ident.Lookup(ctx, token)
}
