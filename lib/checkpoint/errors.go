// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import "fmt"

// NotFoundError reports a lookup for a hash the store has never seen.
type NotFoundError struct {
	Hash Hash
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("checkpoint: %s not found", FormatRef(e.Hash))
}

// Kind returns the stable error kind for callers that route on it.
func (e *NotFoundError) Kind() string { return "NotFound" }

// CorruptChainError reports a broken parent chain: a link names a
// parent the store does not hold, or the chain loops back on itself.
type CorruptChainError struct {
	// Hash is the checkpoint whose chain was being walked.
	Hash Hash

	// Missing is the absent ancestor, when the break is a missing link.
	Missing Hash

	// Cycle is true when the walk revisited a hash.
	Cycle bool
}

func (e *CorruptChainError) Error() string {
	if e.Cycle {
		return fmt.Sprintf("checkpoint: chain of %s contains a cycle", FormatRef(e.Hash))
	}
	return fmt.Sprintf("checkpoint: chain of %s references missing ancestor %s",
		FormatRef(e.Hash), FormatRef(e.Missing))
}

// Kind returns the stable error kind for callers that route on it.
func (e *CorruptChainError) Kind() string { return "CorruptChain" }

// IntegrityError reports a blob whose recomputed hash does not match
// its address. The store never retries or repairs; the caller decides
// what to do with a corrupt object.
type IntegrityError struct {
	Expected Hash
	Actual   Hash
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checkpoint: blob for %s hashes to %s",
		FormatRef(e.Expected), FormatRef(e.Actual))
}

// Kind returns the stable error kind for callers that route on it.
func (e *IntegrityError) Kind() string { return "IntegrityError" }
