package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/roomrelay/internal/config"
	"github.com/cory-johannsen/roomrelay/internal/protocol"
	"github.com/cory-johannsen/roomrelay/internal/router"
	"github.com/cory-johannsen/roomrelay/internal/session"
)

// closeGrace bounds the write of the final close frame.
const closeGrace = time.Second

// Session drives one WebSocket connection. The inbound loop is the only
// reader and hands frames to the router in arrival order; the outbound loop
// is the only writer and drains the connection's Outbox.
type Session struct {
	id     string
	ws     *websocket.Conn
	cfg    config.SessionConfig
	out    *session.Outbox
	rc     *router.Conn
	logger *zap.Logger

	// pongs carries ping payloads from the reader to the writer. Only the
	// latest unanswered ping is kept.
	pongs chan []byte

	cleanup sync.Once
}

// NewSession wraps an upgraded connection.
//
// Precondition: id must be non-empty; ws, rt and logger must be non-nil.
func NewSession(id string, ws *websocket.Conn, cfg config.SessionConfig, rt *router.Router, logger *zap.Logger) *Session {
	out := session.NewOutbox(id, cfg.OutboundQueue)
	return &Session{
		id:     id,
		ws:     ws,
		cfg:    cfg,
		out:    out,
		rc:     rt.NewConn(id, out),
		logger: logger,
		pongs:  make(chan []byte, 1),
	}
}

// Run sends the connected greeting and serves the connection until the peer
// disconnects, the client logs out, a write fails or ctx is cancelled.
//
// Postcondition: The socket is closed, the client has left its room and its
// registry entry is removed (unless a newer session replaced it).
func (s *Session) Run(ctx context.Context) error {
	defer s.ws.Close()

	greeting, err := protocol.Encode(protocol.NewConnected(s.id))
	if err != nil {
		return fmt.Errorf("encoding greeting: %w", err)
	}
	if err := s.out.Push(greeting); err != nil {
		return fmt.Errorf("queueing greeting: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.finish()
		return s.readLoop(gctx)
	})
	g.Go(func() error {
		// Closing the socket unblocks a reader parked in ReadMessage.
		defer s.ws.Close()
		return s.writeLoop(gctx)
	})
	return g.Wait()
}

// finish releases the client's room membership and closes the outbox. The
// writer then flushes what is queued and sends a close frame.
func (s *Session) finish() {
	s.cleanup.Do(func() {
		s.rc.Cleanup()
		s.out.Close()
	})
}

func (s *Session) readLoop(ctx context.Context) error {
	s.ws.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	s.ws.SetPingHandler(func(payload string) error {
		select {
		case s.pongs <- []byte(payload):
		default:
		}
		return s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		mt, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return fmt.Errorf("reading frame: %w", err)
			}
			return nil
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if s.rc.HandleFrame(ctx, data) == router.Close {
			return nil
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		// Pending pongs go out ahead of queued envelopes.
		select {
		case payload := <-s.pongs:
			if err := s.writePong(payload); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case payload := <-s.pongs:
			if err := s.writePong(payload); err != nil {
				return err
			}

		case data, ok := <-s.out.Messages():
			if !ok {
				s.writeClose(websocket.CloseNormalClosure, "")
				return nil
			}
			_ = s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("writing frame: %w", err)
			}

		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait)); err != nil {
				return fmt.Errorf("writing ping: %w", err)
			}

		case <-ctx.Done():
			s.writeClose(websocket.CloseGoingAway, "server shutting down")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}

func (s *Session) writePong(payload []byte) error {
	if err := s.ws.WriteControl(websocket.PongMessage, payload, time.Now().Add(s.cfg.WriteWait)); err != nil {
		return fmt.Errorf("writing pong: %w", err)
	}
	return nil
}

func (s *Session) writeClose(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); err != nil {
		s.logger.Debug("writing close frame", zap.Error(err))
	}
}
