// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import "sync"

// DefaultStderrRingBytes is the default capacity of the stderr ring
// buffer: enough to capture a stack trace or the tail of a crash
// report without unbounded growth.
const DefaultStderrRingBytes = 64 * 1024

// Ring is a bounded byte buffer that retains the most recent N bytes
// written. It implements io.Writer and never blocks or fails: older
// bytes are overwritten once the capacity is reached. Safe for
// concurrent use.
type Ring struct {
	mu     sync.Mutex
	buf    []byte
	start  int
	length int
}

// NewRing creates a ring retaining the most recent capacity bytes.
// Non-positive capacity selects DefaultStderrRingBytes.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultStderrRingBytes
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Write appends p, overwriting the oldest bytes when full. Always
// returns len(p), nil.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	written := len(p)
	capacity := len(r.buf)

	// Only the final capacity bytes of an oversized write can survive.
	if len(p) >= capacity {
		copy(r.buf, p[len(p)-capacity:])
		r.start = 0
		r.length = capacity
		return written, nil
	}

	end := (r.start + r.length) % capacity
	first := copy(r.buf[end:], p)
	copy(r.buf, p[first:])

	r.length += len(p)
	if r.length > capacity {
		// Overwrote the oldest bytes; advance the start.
		r.start = (r.start + r.length - capacity) % capacity
		r.length = capacity
	}
	return written, nil
}

// Bytes returns a copy of the retained bytes in write order.
func (r *Ring) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, r.length)
	first := copy(out, r.buf[r.start:min(r.start+r.length, len(r.buf))])
	copy(out[first:], r.buf[:r.length-first])
	return out
}

// Len returns the number of retained bytes.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}
