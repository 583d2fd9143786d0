// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Steward's standard CBOR encoding configuration.
//
// Steward uses two serialization formats with a clear boundary:
//
//   - JSON for the subprocess wire protocol: the agent process speaks
//     newline-delimited JSON on stdin/stdout (lib/jsonl), and CLI
//     output is JSON.
//   - CBOR for persisted state: checkpoint snapshots in the
//     content-addressable store are CBOR.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Same
// logical data always produces identical bytes. This is load-bearing
// for the checkpoint store: content-addressed deduplication is only
// exact when logically identical snapshots serialize identically.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
package codec
