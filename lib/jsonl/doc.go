// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jsonl frames newline-delimited JSON over byte streams.
//
// The agent subprocess speaks one JSON value per newline-terminated
// line on stdin/stdout. Reader consumes a raw byte stream (the
// subprocess's stdout) and yields one parsed value per line, tolerant
// of lines split across partial reads. Writer serializes one value per
// line to a raw byte stream (the subprocess's stdin).
//
// Framing failures are local, never fatal to the stream:
//
//   - A line exceeding the configured maximum length yields a
//     *FrameTooLargeError; the offending bytes are discarded and
//     framing resynchronizes at the next newline.
//   - A line containing malformed JSON yields a *DecodeError for that
//     line only; the next call to Next continues with the following
//     line.
//
// End of stream is reported as io.EOF for a clean close; read errors
// from the underlying stream are returned wrapped, distinguishable
// from EOF. A final line without a trailing newline is handled per
// the configured TrailingPolicy — deterministically either parsed
// (stream close as implicit terminator) or discarded.
package jsonl
