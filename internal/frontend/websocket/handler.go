// Package websocket accepts relay clients over WebSocket and runs one
// Session per connection.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/roomrelay/internal/config"
	"github.com/cory-johannsen/roomrelay/internal/router"
)

// Path is the HTTP path the handler is mounted on.
const Path = "/ws"

// Handler upgrades HTTP requests to WebSocket connections and dispatches
// each connection to a Session.
type Handler struct {
	cfg      config.SessionConfig
	router   *router.Router
	logger   *zap.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	active atomic.Int64
}

// NewHandler creates a WebSocket handler.
//
// Precondition: cfg must be valid; rt and logger must be non-nil.
// Postcondition: Returns a Handler ready to be mounted on an http.ServeMux.
func NewHandler(cfg config.SessionConfig, rt *router.Router, logger *zap.Logger) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		cfg:    cfg,
		router: rt,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// ServeHTTP upgrades the request and runs the session until it ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	start := time.Now()
	id := uuid.NewString()
	logger := h.logger.With(
		zap.String("session_id", id),
		zap.String("remote_addr", r.RemoteAddr),
	)
	logger.Info("client connected")

	h.active.Add(1)
	defer h.active.Add(-1)

	s := NewSession(id, ws, h.cfg, h.router, logger)
	if err := s.Run(h.ctx); err != nil {
		logger.Debug("session ended",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return
	}
	logger.Info("session ended cleanly", zap.Duration("duration", time.Since(start)))
}

// Active returns the number of open WebSocket connections, authenticated or not.
func (h *Handler) Active() int {
	return int(h.active.Load())
}

// Stop refuses new connections, cancels every running session and waits for
// them to finish.
//
// Postcondition: All sessions have exited.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	h.logger.Info("websocket handler stopped")
}
