// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// LogWriter appends session messages as JSONL (one JSON object per
// line) to a per-session log file. It is a diagnostic artifact: the
// authoritative history lives in the session and its checkpoints. Safe
// for concurrent use.
type LogWriter struct {
	file    *os.File
	encoder *json.Encoder
	mutex   sync.Mutex
	closed  bool

	inboundCount  int64
	outboundCount int64
}

// NewLogWriter creates (or truncates) the session log at path.
func NewLogWriter(path string) (*LogWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating session log %q: %w", path, err)
	}
	encoder := json.NewEncoder(file)
	encoder.SetEscapeHTML(false)
	return &LogWriter{file: file, encoder: encoder}, nil
}

// Write appends one message as a single JSON line. Each write is
// synced so the log survives a crash of this process; session logs are
// low-throughput, so the fsync cost is acceptable.
func (w *LogWriter) Write(message Message) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return fmt.Errorf("session log is closed")
	}
	if err := w.encoder.Encode(message); err != nil {
		return fmt.Errorf("encoding session log entry: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("syncing session log: %w", err)
	}

	switch message.Direction {
	case Inbound:
		w.inboundCount++
	case Outbound:
		w.outboundCount++
	}
	return nil
}

// Counts returns how many messages have been logged per direction.
func (w *LogWriter) Counts() (inbound, outbound int64) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.inboundCount, w.outboundCount
}

// Close closes the underlying file. Idempotent.
func (w *LogWriter) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
