// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the steward-standard SQLite connection
// pool. The checkpoint index is its primary consumer: a small local
// database mapping content hashes to parent links and session metadata.
//
// It wraps zombiezen.com/go/sqlite with durable defaults: WAL journal
// mode so index reads never block checkpoint writes, NORMAL synchronous
// for process-crash durability, and a busy timeout so concurrent
// sessions checkpointing at once wait for the write lock instead of
// failing with SQLITE_BUSY.
//
// Callers [Pool.Take] a connection, perform work, and [Pool.Put] it
// back. Connections are not safe for concurrent use; each goroutine
// holds its own connection for the duration of its work. The package
// deliberately exposes the zombiezen types directly rather than
// wrapping them: consumers write SQL and use sqlitex helpers for cached
// statements and transactions.
package sqlitepool
