// Package session provides the connection registry and the per-connection
// ordered delivery queue that feeds each transport writer.
package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrOutboxClosed is returned by Push after Close.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrOutboxFull is returned by Push when the queue is at capacity.
	ErrOutboxFull = errors.New("outbox full")
)

// DefaultOutboxSize is used when NewOutbox is given a non-positive size.
const DefaultOutboxSize = 64

// Outbox is a bounded FIFO of encoded envelopes for one connection.
// Any number of goroutines may Push; exactly one goroutine drains Messages.
type Outbox struct {
	id     string
	queue  chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox for the given connection identifier.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an open Outbox with capacity size (or DefaultOutboxSize).
func NewOutbox(id string, size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		id:    id,
		queue: make(chan []byte, size),
	}
}

// ID returns the identifier the outbox was created for.
func (o *Outbox) ID() string {
	return o.id
}

// Push enqueues data without blocking.
//
// Precondition: data must be a non-nil byte slice.
// Postcondition: data is enqueued behind every previously pushed message, or
// an error wrapping ErrOutboxClosed or ErrOutboxFull is returned.
func (o *Outbox) Push(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("outbox %s: %w", o.id, ErrOutboxClosed)
	}
	select {
	case o.queue <- data:
		return nil
	default:
		return fmt.Errorf("outbox %s: %w", o.id, ErrOutboxFull)
	}
}

// Messages returns the receive side of the queue. It is closed by Close.
func (o *Outbox) Messages() <-chan []byte {
	return o.queue
}

// Len reports the number of queued messages.
func (o *Outbox) Len() int {
	return len(o.queue)
}

// Close marks the outbox closed and closes the queue. Safe to call repeatedly.
//
// Postcondition: Messages drains what remains and then reports closed.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.queue)
	}
}

// IsClosed reports whether Close has been called.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
