// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the per-session state machine that ties a
// supervised subprocess to its message streams.
//
// A session moves created → starting → running → terminated, with
// cancelling as an intermediate stop on the way out and failed
// reachable from starting (spawn failure) or running (broken stream).
// One mutex serializes transitions per session; sessions never share
// state, so distinct sessions proceed fully in parallel.
//
// While running, three goroutines serve the session: the stdout pump
// (framer → bounded queue), the stderr drain (inside process.Handle),
// and the exit waiter. Malformed or oversized stdout lines are logged
// and skipped; only stream-level failures (broken pipe, read error)
// take the session down.
//
// Transition events are emitted synchronously to a caller-supplied
// EventSink. The package never starts background dispatch machinery of
// its own; the caller decides how to fan events out.
package session
