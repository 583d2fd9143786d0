// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jsonl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Writer serializes one JSON value per newline-terminated line.
// Safe for concurrent use; each line is written with a single Write
// call so concurrent writers never interleave frames.
type Writer struct {
	mu           sync.Mutex
	destination  io.Writer
	maxLineBytes int
}

// NewWriter creates a Writer to destination. Non-positive maxLineBytes
// selects DefaultMaxLineBytes.
func NewWriter(destination io.Writer, maxLineBytes int) *Writer {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &Writer{
		destination:  destination,
		maxLineBytes: maxLineBytes,
	}
}

// Write serializes v as one JSONL line. The encoded form must not
// contain raw newline bytes (JSON string escaping covers embedded
// newlines in content; a raw newline can only come from a hand-built
// json.RawMessage) and must fit the configured line limit.
func (w *Writer) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonl: encode: %w", err)
	}
	if bytes.IndexByte(data, '\n') >= 0 {
		return fmt.Errorf("jsonl: encoded value contains a raw newline byte")
	}
	if len(data)+1 > w.maxLineBytes {
		return &FrameTooLargeError{Size: len(data) + 1, Limit: w.maxLineBytes}
	}

	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.destination.Write(line); err != nil {
		return fmt.Errorf("jsonl: write: %w", err)
	}
	return nil
}
