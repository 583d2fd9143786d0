// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process spawns and supervises agent subprocesses.
//
// Supervisor owns the full lifecycle of every child process it spawns:
// piped stdin/stdout/stderr, continuous stderr drain into a bounded
// ring buffer, exit observation with signal classification, and
// graceful-then-forceful termination. The Supervisor tracks all live
// handles so its own Shutdown reaps orphans — a process that outlives
// its session never outlives the supervisor.
//
// Stderr is diagnostic-only: it is never parsed as protocol data and
// is drained by an independent goroutine so a chatty stderr can never
// block stdout processing.
//
// The package also provides [Fatal], the standard Steward binary
// entrypoint error handler for errors that occur before the structured
// logger is initialized.
package process
