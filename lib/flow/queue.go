// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is the queue capacity used when the caller passes a
// non-positive capacity to NewQueue. A few hundred entries absorbs
// normal burstiness without letting a stalled consumer pin unbounded
// memory.
const DefaultCapacity = 256

// ErrClosed is returned by Push after Close, and by Pop once the queue
// is closed and fully drained. It marks clean end-of-stream, as opposed
// to a context cancellation.
var ErrClosed = errors.New("flow: queue closed")

// Queue is a bounded FIFO queue of T with blocking semantics on both
// ends. Safe for concurrent use by multiple producers and consumers,
// though Steward uses it single-producer (the stdout pump) with
// possibly concurrent consumers.
type Queue[T any] struct {
	items  chan T
	closed chan struct{}
	once   sync.Once
}

// NewQueue creates a queue with the given capacity. Non-positive
// capacity selects DefaultCapacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{
		items:  make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Push appends v to the queue. Blocks while the queue is full until a
// consumer drains an entry, ctx is cancelled (returns ctx.Err()), or
// the queue is closed (returns ErrClosed). Entries are never dropped.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	// A closed queue rejects new entries even when a slot is free.
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	select {
	case q.items <- v:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes and returns the oldest entry. Blocks while the queue is
// empty until an entry arrives, ctx is cancelled, or the queue is
// closed and drained (returns ErrClosed).
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	// Buffered entries are delivered even after Close — close means
	// "no more input", not "discard what is queued".
	select {
	case v := <-q.items:
		return v, nil
	default:
	}

	select {
	case v := <-q.items:
		return v, nil
	case <-q.closed:
		// An entry may have landed between the fast path and the
		// close signal winning the select.
		select {
		case v := <-q.items:
			return v, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close marks the queue as end-of-stream. Idempotent. Blocked Push
// calls return ErrClosed; blocked Pop calls drain remaining entries
// and then return ErrClosed.
func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.closed) })
}

// Len returns the number of buffered entries.
func (q *Queue[T]) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.items) }
