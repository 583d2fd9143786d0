// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jsonl

import "fmt"

// FrameTooLargeError reports a line that exceeded the configured
// maximum length. The frame's bytes are discarded and the Reader
// resynchronizes at the next newline; subsequent Next calls proceed
// normally.
type FrameTooLargeError struct {
	// Size is the observed line length in bytes at the point the
	// limit was exceeded. For frames abandoned mid-accumulation this
	// is a lower bound.
	Size int

	// Limit is the configured maximum line length.
	Limit int
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("jsonl: frame of %d bytes exceeds limit of %d", e.Size, e.Limit)
}

// Kind returns the stable error kind for callers that route on it.
func (e *FrameTooLargeError) Kind() string { return "FrameTooLarge" }

// DecodeError reports a single malformed JSONL line. The line is
// consumed; framing continues with the next line.
type DecodeError struct {
	// Line is the offending line, truncated to a reasonable length
	// for diagnostics.
	Line []byte

	// Err is the underlying JSON syntax error, if any.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("jsonl: malformed line %q: %v", truncateForDisplay(e.Line), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Kind returns the stable error kind for callers that route on it.
func (e *DecodeError) Kind() string { return "DecodeError" }

// displayLimit bounds how much of a malformed line appears in error
// messages and logs.
const displayLimit = 256

func truncateForDisplay(line []byte) string {
	if len(line) <= displayLimit {
		return string(line)
	}
	return string(line[:displayLimit]) + "..."
}
