package concurrency

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrMailboxClosed is returned by Send after Close, and by Receive once a
	// closed mailbox has been drained.
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrMailboxFull is returned when Send would block (backpressure).
	ErrMailboxFull = errors.New("mailbox is full")
)

// Mailbox is a bounded FIFO with non-blocking Send and context-aware
// Receive. Messages sent before Close are still delivered after it.
type Mailbox[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
}

// NewMailbox creates a mailbox holding up to capacity messages.
// A capacity below 1 selects 100.
func NewMailbox[T any](capacity int) *Mailbox[T] {
	if capacity < 1 {
		capacity = 100
	}
	return &Mailbox[T]{ch: make(chan T, capacity)}
}

// Send enqueues msg without blocking.
func (mb *Mailbox[T]) Send(msg T) error {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return ErrMailboxClosed
	}
	select {
	case mb.ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Receive blocks until a message arrives, the mailbox is closed and empty,
// or ctx is done.
func (mb *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case msg, ok := <-mb.ch:
		if !ok {
			return zero, ErrMailboxClosed
		}
		return msg, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryReceive returns the next message if one is queued.
func (mb *Mailbox[T]) TryReceive() (T, bool, error) {
	var zero T
	select {
	case msg, ok := <-mb.ch:
		if !ok {
			return zero, false, ErrMailboxClosed
		}
		return msg, true, nil
	default:
		return zero, false, nil
	}
}

// Close stops further sends. Closing twice is a no-op.
func (mb *Mailbox[T]) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if !mb.closed {
		mb.closed = true
		close(mb.ch)
	}
}

// Cap returns the mailbox capacity.
func (mb *Mailbox[T]) Cap() int {
	return cap(mb.ch)
}

// Len returns the number of queued messages.
func (mb *Mailbox[T]) Len() int {
	return len(mb.ch)
}

// IsClosed reports whether Close has been called.
func (mb *Mailbox[T]) IsClosed() bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.closed
}
