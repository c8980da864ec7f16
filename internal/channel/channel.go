// Package channel provides a closable queue for fan-out to slow consumers.
package channel

import "sync"

// Receiver provides read access to a queue.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
}

// Sender provides non-blocking write access to a queue.
type Sender[T any] interface {
	TrySend(T) bool
}

// Outbox is a bounded queue with one consumer. Sending never blocks and
// is safe after Close, so producers need no coordination with shutdown.
type Outbox[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

var (
	_ Receiver[int] = (*Outbox[int])(nil)
	_ Sender[int]   = (*Outbox[int])(nil)
)

// NewOutbox creates an outbox holding up to size items.
func NewOutbox[T any](size int) *Outbox[T] {
	return &Outbox[T]{ch: make(chan T, size)}
}

// TrySend queues v. It reports false when the outbox is full or closed.
func (o *Outbox[T]) TrySend(v T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.ch <- v:
		return true
	default:
		return false
	}
}

// Receive returns the receive-only channel. It is closed by Close once
// queued items have been drained.
func (o *Outbox[T]) Receive() <-chan T {
	return o.ch
}

// Len returns the number of queued items.
func (o *Outbox[T]) Len() int {
	return len(o.ch)
}

// Close stops accepting items. Safe to call more than once.
func (o *Outbox[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

// Closed reports whether Close has been called.
func (o *Outbox[T]) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
