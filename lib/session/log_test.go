// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/steward/lib/session"
)

func TestLogWriterAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	writer, err := session.NewLogWriter(path)
	if err != nil {
		t.Fatalf("NewLogWriter: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []session.Message{
		{Direction: session.Outbound, Ordinal: 1, Payload: json.RawMessage(`{"q":"hi"}`), Timestamp: now},
		{Direction: session.Inbound, Ordinal: 1, Payload: json.RawMessage(`{"a":"hello"}`), Timestamp: now},
		{Direction: session.Outbound, Ordinal: 2, Payload: json.RawMessage(`{"q":"bye"}`), Timestamp: now},
	}
	for _, entry := range entries {
		if err := writer.Write(entry); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	inbound, outbound := writer.Counts()
	if inbound != 1 || outbound != 2 {
		t.Errorf("Counts = (%d, %d), want (1, 2)", inbound, outbound)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening log: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineCount := 0
	for scanner.Scan() {
		var decoded session.Message
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lineCount+1, err)
		}
		if decoded.Direction != entries[lineCount].Direction || decoded.Ordinal != entries[lineCount].Ordinal {
			t.Errorf("line %d = %+v, want %+v", lineCount+1, decoded, entries[lineCount])
		}
		lineCount++
	}
	if lineCount != len(entries) {
		t.Errorf("log has %d lines, want %d", lineCount, len(entries))
	}

	if err := writer.Write(entries[0]); err == nil {
		t.Error("Write after Close succeeded")
	}
}
