// Package testutil provides test helpers: a WebSocket relay client and a
// fake identity provider.
package testutil

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope is a decoded server message with its raw bytes kept for
// type-specific unmarshalling.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the envelope into v or fails the test.
func (e Envelope) Decode(t testing.TB, v any) {
	t.Helper()
	if err := json.Unmarshal(e.Raw, v); err != nil {
		t.Fatalf("decoding %s envelope %s: %v", e.Type, e.Raw, err)
	}
}

// WSClient is a WebSocket relay client for integration testing.
type WSClient struct {
	conn *websocket.Conn
	t    testing.TB
}

// NewWSClient dials url (ws:// or http://) and returns a test client.
//
// Precondition: url must address a listening relay WebSocket endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t testing.TB, url string) *WSClient {
	t.Helper()
	start := time.Now()

	if strings.HasPrefix(url, "http") {
		url = "ws" + strings.TrimPrefix(url, "http")
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("ws client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Send encodes v as JSON and writes it as a text frame.
func (c *WSClient) Send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		c.t.Fatalf("encoding %v: %v", v, err)
	}
	c.SendRaw(string(data))
}

// SendRaw writes text as a single text frame.
func (c *WSClient) SendRaw(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// Read returns the next envelope or fails on timeout.
func (c *WSClient) Read(timeout time.Duration) Envelope {
	c.t.Helper()
	env, err := c.read(timeout)
	if err != nil {
		c.t.Fatalf("reading envelope: %v", err)
	}
	return env
}

// ReadUntil reads envelopes until one of type typ arrives, discarding the rest.
//
// Postcondition: Returns the matching envelope, or fails on timeout.
func (c *WSClient) ReadUntil(typ string, timeout time.Duration) Envelope {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	var seen []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("reading until %q: timed out after %v", typ, seen)
		}
		env, err := c.read(remaining)
		if err != nil {
			c.t.Fatalf("reading until %q: got %v, error: %v", typ, seen, err)
		}
		if env.Type == typ {
			return env
		}
		seen = append(seen, env.Type)
	}
}

// ExpectNone fails the test if an envelope of type typ arrives within wait.
// Other envelopes are discarded.
func (c *WSClient) ExpectNone(typ string, wait time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		env, err := c.read(remaining)
		if err != nil {
			return
		}
		if env.Type == typ {
			c.t.Fatalf("unexpected %s envelope: %s", typ, env.Raw)
		}
	}
}

// ReadClose waits for the server to close the connection and returns the
// close code, or -1 if the connection ended without a close frame.
func (c *WSClient) ReadClose(timeout time.Duration) int {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				return ce.Code
			}
			return -1
		}
	}
}

// PingPong sends a ping control frame followed by an application ping
// envelope, then reads until the application pong arrives. The server answers
// control frames ahead of queued envelopes, so the control pong must already
// have been seen by then.
//
// Postcondition: Returns true if a pong carrying payload arrived first.
func (c *WSClient) PingPong(payload string, timeout time.Duration) bool {
	c.t.Helper()
	got := make(chan string, 1)
	c.conn.SetPongHandler(func(data string) error {
		select {
		case got <- data:
		default:
		}
		return nil
	})
	defer c.conn.SetPongHandler(nil)

	if err := c.conn.WriteControl(websocket.PingMessage, []byte(payload), time.Now().Add(timeout)); err != nil {
		c.t.Fatalf("sending ping: %v", err)
	}
	c.Send(map[string]string{"type": "ping"})
	c.ReadUntil("pong", timeout)

	select {
	case data := <-got:
		return data == payload
	default:
		return false
	}
}

// Close closes the underlying connection without a close handshake.
func (c *WSClient) Close() {
	c.conn.Close()
}

func (c *WSClient) read(timeout time.Duration) (Envelope, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: head.Type, Raw: data}, nil
}
