// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package flow provides a bounded, ordered queue with blocking
// backpressure.
//
// The agent subprocess is often faster or slower than the caller
// consuming its output. Unbounded buffering risks memory exhaustion;
// dropping risks silent data loss. Queue takes the third option:
// bounded blocking with a context escape hatch. A producer pushing
// into a full queue blocks until a consumer drains an entry, the
// producer's context is cancelled, or the queue is closed. Nothing is
// ever dropped or overwritten, and FIFO order is preserved.
//
// Close marks end-of-stream: subsequent Push calls fail, and Pop
// drains the remaining entries before reporting ErrClosed.
package flow
