// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package checkpoint implements the content-addressed checkpoint store.
//
// A checkpoint is an immutable snapshot of a session, addressed by the
// BLAKE3 keyed hash of its serialized bytes. Identical snapshots map to
// the same hash, so storing the same state twice writes nothing: the
// store is deduplicating and Put is idempotent. Each checkpoint may
// name a parent, forming a per-session chain back to the first
// checkpoint taken.
//
// Snapshot blobs live as individual files under objects/<hh>/<hex>,
// written atomically (temp file, sync, rename) and compressed with
// whichever algorithm the probe selects. A SQLite index maps each hash
// to its parent link, owning session, and metadata; the blob files
// carry no metadata of their own.
//
// Integrity is verified on every read: [Store.Get] recomputes the hash
// of the decompressed bytes and fails with [*IntegrityError] when the
// blob does not match its address.
package checkpoint
