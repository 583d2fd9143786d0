// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 keyed digest of a snapshot's serialized
// bytes. The zero Hash means "no checkpoint" and is used for the
// parent of a chain's first link.
type Hash [32]byte

// snapshotDomainKey is the BLAKE3 key for snapshot hashing. Domain
// separation keeps snapshot hashes from colliding with any other keyed
// BLAKE3 use of the same bytes. The value is the ASCII domain name
// zero-padded to 32 bytes, readable in hex dumps.
var snapshotDomainKey = [32]byte{
	's', 't', 'e', 'w', 'a', 'r', 'd', '.', 'c', 'h', 'e', 'c', 'k', 'p', 'o', 'i',
	'n', 't', '.', 's', 'n', 'a', 'p', 's', 'h', 'o', 't', 0, 0, 0, 0, 0,
}

// HashSnapshot computes the snapshot-domain hash of the given bytes.
// Hashes are always computed on uncompressed bytes so deduplication is
// unaffected by compression choices.
func HashSnapshot(data []byte) Hash {
	hasher, err := blake3.NewKeyed(snapshotDomainKey[:])
	if err != nil {
		// NewKeyed fails only on wrong key length, which the fixed
		// array rules out.
		panic("checkpoint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// IsZero reports whether the hash is the zero value, meaning "no
// checkpoint".
func (h Hash) IsZero() bool { return h == Hash{} }

// String returns the full hex encoding.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// FormatHash returns the canonical hex encoding of a hash, used in the
// index, logs, and CLI output.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing checkpoint hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("checkpoint hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// FormatRef returns the short human-facing reference for a hash: the
// "ckpt-" prefix followed by the first 12 hex characters.
func FormatRef(hash Hash) string {
	return "ckpt-" + hex.EncodeToString(hash[:6])
}
