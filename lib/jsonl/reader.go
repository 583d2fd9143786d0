// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jsonl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// DefaultMaxLineBytes is the line length limit used when the caller
// does not configure one. Agent output lines can be long (tool results
// carrying file contents), so the default is generous.
const DefaultMaxLineBytes = 1 << 20 // 1 MiB

// TrailingPolicy controls how a final line without a trailing newline
// is handled when the stream closes. A process killed mid-write leaves
// exactly this situation; the policy makes the outcome deterministic.
type TrailingPolicy int

const (
	// TrailingFinalLine treats stream close as an implicit line
	// terminator: the partial final line is parsed as a frame.
	TrailingFinalLine TrailingPolicy = iota

	// TrailingDiscard drops a partial final line at stream close.
	TrailingDiscard
)

// ReaderConfig configures a Reader. The zero value selects
// DefaultMaxLineBytes and TrailingFinalLine.
type ReaderConfig struct {
	// MaxLineBytes is the maximum length of a single line, including
	// neither the newline nor any discarded resync bytes. Non-positive
	// selects DefaultMaxLineBytes.
	MaxLineBytes int

	// Trailing selects the policy for a final unterminated line.
	Trailing TrailingPolicy
}

// readChunkSize is the per-call read size from the underlying stream.
const readChunkSize = 32 * 1024

// Reader frames newline-delimited JSON from a byte stream. Not safe
// for concurrent use; each session owns one Reader pumped by a single
// goroutine.
type Reader struct {
	source  io.Reader
	config  ReaderConfig
	pending []byte
	scratch []byte

	// eof is set once the underlying stream reports io.EOF.
	eof bool

	// readErr holds a sticky non-EOF read error. Once set, Next
	// returns it after the buffered data is exhausted.
	readErr error

	// discarding is set after an oversized frame was reported;
	// input is dropped until the next newline resynchronizes framing.
	discarding bool
}

// NewReader creates a Reader over source.
func NewReader(source io.Reader, config ReaderConfig) *Reader {
	if config.MaxLineBytes <= 0 {
		config.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Reader{
		source:  source,
		config:  config,
		scratch: make([]byte, readChunkSize),
	}
}

// Next returns the next framed JSON value.
//
// Recoverable per-line failures return *FrameTooLargeError or
// *DecodeError; the caller should log and call Next again. io.EOF
// marks clean end of stream. Any other error is a stream-level read
// failure and is sticky.
func (r *Reader) Next() (json.RawMessage, error) {
	for {
		if i := bytes.IndexByte(r.pending, '\n'); i >= 0 {
			line := make([]byte, i)
			copy(line, r.pending[:i])
			r.pending = r.pending[:copy(r.pending, r.pending[i+1:])]

			if r.discarding {
				// Tail of an already-reported oversized frame.
				// Consume silently; framing is now resynchronized.
				r.discarding = false
				continue
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			return r.parseLine(line)
		}

		// No complete line buffered. An over-limit partial frame is
		// reported once, then discarded until the next newline.
		if !r.discarding && len(r.pending) > r.config.MaxLineBytes {
			size := len(r.pending)
			r.pending = r.pending[:0]
			r.discarding = true
			return nil, &FrameTooLargeError{Size: size, Limit: r.config.MaxLineBytes}
		}
		if r.discarding {
			r.pending = r.pending[:0]
		}

		if r.readErr != nil {
			return nil, r.readErr
		}
		if r.eof {
			return r.finishAtEOF()
		}

		n, err := r.source.Read(r.scratch)
		if n > 0 {
			r.pending = append(r.pending, r.scratch[:n]...)
		}
		switch {
		case err == io.EOF:
			r.eof = true
		case err != nil:
			r.readErr = fmt.Errorf("jsonl: read: %w", err)
		}
	}
}

// finishAtEOF handles the buffered remainder once the stream has
// cleanly closed.
func (r *Reader) finishAtEOF() (json.RawMessage, error) {
	if r.discarding || len(r.pending) == 0 {
		r.discarding = false
		return nil, io.EOF
	}

	switch r.config.Trailing {
	case TrailingFinalLine:
		line := make([]byte, len(r.pending))
		copy(line, r.pending)
		r.pending = r.pending[:0]
		if len(bytes.TrimSpace(line)) == 0 {
			return nil, io.EOF
		}
		if len(line) > r.config.MaxLineBytes {
			return nil, &FrameTooLargeError{Size: len(line), Limit: r.config.MaxLineBytes}
		}
		return r.parseLine(line)
	default: // TrailingDiscard
		r.pending = r.pending[:0]
		return nil, io.EOF
	}
}

// parseLine validates one complete line and returns it as a raw JSON
// value, or a *DecodeError / *FrameTooLargeError for that line only.
func (r *Reader) parseLine(line []byte) (json.RawMessage, error) {
	if len(line) > r.config.MaxLineBytes {
		return nil, &FrameTooLargeError{Size: len(line), Limit: r.config.MaxLineBytes}
	}
	if !json.Valid(line) {
		// Re-run the parser to capture the syntax error detail.
		var probe any
		err := json.Unmarshal(line, &probe)
		return nil, &DecodeError{Line: line, Err: err}
	}
	return json.RawMessage(line), nil
}
