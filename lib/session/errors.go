// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "fmt"

// InvalidStateError reports an operation attempted in the wrong
// lifecycle state. The session itself is unaffected.
type InvalidStateError struct {
	SessionID string
	Operation string
	State     State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("session %s: %s in state %s", e.SessionID, e.Operation, e.State)
}

// Kind returns the stable error kind for callers that route on it.
func (e *InvalidStateError) Kind() string { return "InvalidState" }

// StreamError reports an unrecoverable stream failure: broken pipe,
// unexpected read error mid-stream. The session is forced to failed
// and its process killed; the stderr tail travels with the error for
// diagnosis.
type StreamError struct {
	SessionID  string
	Err        error
	StderrTail []byte
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("session %s: stream: %v", e.SessionID, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Kind returns the stable error kind for callers that route on it.
func (e *StreamError) Kind() string { return "StreamError" }
