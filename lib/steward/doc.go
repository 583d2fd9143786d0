// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package steward is the orchestrator: the public entry point that
// creates and looks up sessions, routes checkpoint requests to the
// store, and reaps everything on shutdown.
//
// The Manager owns the id→session map for the life of the process. The
// map's lock is held only for map updates, never across I/O; sessions
// do their own locking and run fully independently. Terminal sessions
// are removed from the map by cleanup triggered from the transition
// sink, so the map only ever holds sessions a caller can still drive.
//
// Checkpointing serializes the session's snapshot with deterministic
// CBOR and stores it content-addressed; per session, each checkpoint
// names the previous one as parent, growing a chain. Restoring
// materializes a brand-new session in the created state from the
// stored snapshot — the original process is never resumed.
package steward
