// Package admin serves read-only HTTP endpoints for health checks and room
// inspection.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/roomrelay/internal/room"
)

// Rooms is the read side of the room registry.
type Rooms interface {
	List() []room.View
	Snapshot(roomID string) (room.View, bool)
	Stats() room.Stats
}

// Counter reports a live count.
type Counter interface {
	Count() int
}

// CounterFunc adapts a function into a Counter.
type CounterFunc func() int

// Count calls f.
func (f CounterFunc) Count() int { return f() }

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Rooms         int `json:"rooms"`
	Members       int `json:"members"`
	Clients       int `json:"clients"`
	Connections   int `json:"connections"`
	UptimeSeconds int `json:"uptime_seconds"`
}

// Handler serves the admin endpoints.
type Handler struct {
	rooms   Rooms
	clients Counter
	sockets Counter
	logger  *zap.Logger
	started time.Time
}

// NewHandler creates an admin Handler. clients counts authenticated clients;
// sockets counts open connections.
//
// Precondition: all arguments must be non-nil.
func NewHandler(rooms Rooms, clients, sockets Counter, logger *zap.Logger) *Handler {
	return &Handler{
		rooms:   rooms,
		clients: clients,
		sockets: sockets,
		logger:  logger,
		started: time.Now(),
	}
}

// Register mounts the admin routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	wrap := func(fn http.HandlerFunc) http.Handler {
		return h.recoverer(h.logRequests(fn))
	}
	mux.Handle("GET /healthz", wrap(h.health))
	mux.Handle("GET /api/stats", wrap(h.stats))
	mux.Handle("GET /api/rooms", wrap(h.listRooms))
	mux.Handle("GET /api/rooms/{room_id}", wrap(h.roomDetail))
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	s := h.rooms.Stats()
	h.writeJSON(w, http.StatusOK, StatsResponse{
		Rooms:         s.Rooms,
		Members:       s.Members,
		Clients:       h.clients.Count(),
		Connections:   h.sockets.Count(),
		UptimeSeconds: int(time.Since(h.started).Seconds()),
	})
}

func (h *Handler) listRooms(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"rooms": h.rooms.List()})
}

func (h *Handler) roomDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("room_id")
	v, ok := h.rooms.Snapshot(id)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("writing admin response", zap.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handler) logRequests(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		h.logger.Debug("admin request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("admin handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
				)
				h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
