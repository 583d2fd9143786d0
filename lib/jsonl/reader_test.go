// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jsonl_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/bureau-foundation/steward/lib/jsonl"
)

func TestNextFramesLines(t *testing.T) {
	input := `{"type":"ack"}` + "\n" + `{"type":"result","code":0}` + "\n"
	reader := jsonl.NewReader(strings.NewReader(input), jsonl.ReaderConfig{})

	first, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(first) != `{"type":"ack"}` {
		t.Errorf("first frame = %s, want ack", first)
	}

	second, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(second) != `{"type":"result","code":0}` {
		t.Errorf("second frame = %s", second)
	}

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next at end = %v, want io.EOF", err)
	}
}

func TestNextHandlesPartialReads(t *testing.T) {
	// OneByteReader forces the worst-case split: every line arrives
	// one byte per Read call.
	input := `{"a":1}` + "\n" + `{"b":2}` + "\n"
	reader := jsonl.NewReader(iotest.OneByteReader(strings.NewReader(input)), jsonl.ReaderConfig{})

	for _, want := range []string{`{"a":1}`, `{"b":2}`} {
		frame, err := reader.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if string(frame) != want {
			t.Errorf("frame = %s, want %s", frame, want)
		}
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next at end = %v, want io.EOF", err)
	}
}

func TestNextSkipsBlankLines(t *testing.T) {
	input := "\n\n" + `{"a":1}` + "\n\n"
	reader := jsonl.NewReader(strings.NewReader(input), jsonl.ReaderConfig{})

	frame, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(frame) != `{"a":1}` {
		t.Errorf("frame = %s", frame)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next at end = %v, want io.EOF", err)
	}
}

func TestDecodeErrorDoesNotAbortStream(t *testing.T) {
	input := `{"ok":1}` + "\n" + `{broken` + "\n" + `{"ok":2}` + "\n"
	reader := jsonl.NewReader(strings.NewReader(input), jsonl.ReaderConfig{})

	if _, err := reader.Next(); err != nil {
		t.Fatalf("first frame: %v", err)
	}

	_, err := reader.Next()
	var decodeErr *jsonl.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Next on malformed line = %v, want *DecodeError", err)
	}
	if !bytes.Contains(decodeErr.Line, []byte("{broken")) {
		t.Errorf("DecodeError.Line = %q, want the offending line", decodeErr.Line)
	}

	frame, err := reader.Next()
	if err != nil {
		t.Fatalf("frame after malformed line: %v", err)
	}
	if string(frame) != `{"ok":2}` {
		t.Errorf("frame = %s, want the line after the bad one", frame)
	}
}

func TestFrameTooLargeResynchronizes(t *testing.T) {
	long := `{"data":"` + strings.Repeat("x", 200) + `"}`
	input := long + "\n" + `{"ok":true}` + "\n"
	reader := jsonl.NewReader(strings.NewReader(input), jsonl.ReaderConfig{MaxLineBytes: 64})

	_, err := reader.Next()
	var tooLarge *jsonl.FrameTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("Next on oversized line = %v, want *FrameTooLargeError", err)
	}
	if tooLarge.Limit != 64 {
		t.Errorf("Limit = %d, want 64", tooLarge.Limit)
	}
	if tooLarge.Size <= 64 {
		t.Errorf("Size = %d, want > 64", tooLarge.Size)
	}

	// Framing resynchronizes on the newline after the oversized frame:
	// the error is reported exactly once and the next frame parses.
	frame, err := reader.Next()
	if err != nil {
		t.Fatalf("frame after oversized line: %v", err)
	}
	if string(frame) != `{"ok":true}` {
		t.Errorf("frame = %s, want the line after the oversized one", frame)
	}
}

func TestFrameTooLargeReportedOnceAcrossPartialReads(t *testing.T) {
	long := `{"data":"` + strings.Repeat("y", 300) + `"}`
	input := long + "\n" + `{"ok":1}` + "\n"
	reader := jsonl.NewReader(iotest.OneByteReader(strings.NewReader(input)), jsonl.ReaderConfig{MaxLineBytes: 32})

	var tooLargeCount, frameCount int
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			break
		}
		var tooLarge *jsonl.FrameTooLargeError
		if errors.As(err, &tooLarge) {
			tooLargeCount++
			continue
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		frameCount++
		if string(frame) != `{"ok":1}` {
			t.Errorf("frame = %s", frame)
		}
	}

	if tooLargeCount != 1 {
		t.Errorf("FrameTooLarge reported %d times, want exactly once", tooLargeCount)
	}
	if frameCount != 1 {
		t.Errorf("parsed %d frames, want 1", frameCount)
	}
}

func TestTrailingFinalLinePolicy(t *testing.T) {
	// Killed mid-write: the final line has no newline.
	input := `{"a":1}` + "\n" + `{"partial":true}`
	reader := jsonl.NewReader(strings.NewReader(input), jsonl.ReaderConfig{Trailing: jsonl.TrailingFinalLine})

	if _, err := reader.Next(); err != nil {
		t.Fatalf("first frame: %v", err)
	}

	frame, err := reader.Next()
	if err != nil {
		t.Fatalf("trailing frame: %v", err)
	}
	if string(frame) != `{"partial":true}` {
		t.Errorf("trailing frame = %s", frame)
	}

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next after trailing frame = %v, want io.EOF", err)
	}
}

func TestTrailingDiscardPolicy(t *testing.T) {
	input := `{"a":1}` + "\n" + `{"partial":true}`
	reader := jsonl.NewReader(strings.NewReader(input), jsonl.ReaderConfig{Trailing: jsonl.TrailingDiscard})

	if _, err := reader.Next(); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next with discard policy = %v, want io.EOF", err)
	}
}

func TestReadErrorDistinguishedFromEOF(t *testing.T) {
	streamErr := fmt.Errorf("broken pipe")
	source := io.MultiReader(
		strings.NewReader(`{"a":1}`+"\n"),
		iotest.ErrReader(streamErr),
	)
	reader := jsonl.NewReader(source, jsonl.ReaderConfig{})

	if _, err := reader.Next(); err != nil {
		t.Fatalf("buffered frame before error: %v", err)
	}

	_, err := reader.Next()
	if err == nil || err == io.EOF {
		t.Fatalf("Next after read error = %v, want wrapped stream error", err)
	}
	if !errors.Is(err, streamErr) {
		t.Errorf("error does not wrap the read error: %v", err)
	}

	// The error is sticky.
	if _, err := reader.Next(); !errors.Is(err, streamErr) {
		t.Errorf("second Next = %v, want the same sticky error", err)
	}
}
