package session

import (
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

// Handle is the outbound side of one live connection. Close ends the
// connection: its writer flushes what is queued and then hangs up.
type Handle interface {
	Push(data []byte) error
	Close()
}

// Registry maps client identifiers to their delivery handle. It is the only
// path by which data reaches a specific client. All methods are safe for
// concurrent use.
type Registry struct {
	conns  cmap.ConcurrentMap[string, Handle]
	logger *zap.Logger
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger must be non-nil.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		conns:  cmap.New[Handle](),
		logger: logger,
	}
}

// Register installs h for id and returns the handle it replaced, if any. The
// caller decides what happens to the replaced connection.
//
// Precondition: id must be non-empty; h must be non-nil.
func (r *Registry) Register(id string, h Handle) (Handle, bool) {
	var prev Handle
	r.conns.Upsert(id, h, func(exist bool, cur Handle, next Handle) Handle {
		if exist && cur != next {
			prev = cur
		}
		return next
	})
	return prev, prev != nil
}

// Unregister removes the handle for id. No-op if absent.
func (r *Registry) Unregister(id string) {
	r.conns.Remove(id)
}

// UnregisterIf removes the handle for id only while it is still h, so a
// session that was superseded by a reconnect cannot evict its successor.
//
// Postcondition: Returns true if h was the registered handle and was removed.
func (r *Registry) UnregisterIf(id string, h Handle) bool {
	return r.conns.RemoveCb(id, func(_ string, cur Handle, exists bool) bool {
		return exists && cur == h
	})
}

// Owns reports whether h is the handle currently registered for id.
func (r *Registry) Owns(id string, h Handle) bool {
	cur, ok := r.conns.Get(id)
	return ok && cur == h
}

// Has reports whether id has a registered handle.
func (r *Registry) Has(id string) bool {
	return r.conns.Has(id)
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	return r.conns.Count()
}

// Deliver sends data to id. Unknown ids and failed pushes are dropped.
//
// Postcondition: Returns true if data was accepted by the handle's queue.
// A true result is not an acknowledgement that the client received it.
func (r *Registry) Deliver(id string, data []byte) bool {
	h, ok := r.conns.Get(id)
	if !ok {
		r.logger.Debug("dropping delivery to unknown client", zap.String("client_id", id))
		return false
	}
	if err := h.Push(data); err != nil {
		r.logger.Debug("dropping delivery", zap.String("client_id", id), zap.Error(err))
		return false
	}
	return true
}

// DeliverMany applies Deliver to every id. A failure for one recipient does
// not affect the others.
//
// Postcondition: Returns the number of ids whose queue accepted data.
func (r *Registry) DeliverMany(ids []string, data []byte) int {
	n := 0
	for _, id := range ids {
		if r.Deliver(id, data) {
			n++
		}
	}
	return n
}
