// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "fmt"

// State is a session lifecycle state.
type State uint8

const (
	// Created means the session exists but no process has been
	// spawned. Start or the first Send triggers the spawn.
	Created State = iota

	// Starting means the process has been spawned but the stream has
	// not yet been confirmed readable.
	Starting

	// Running means the session accepts Send and delivers Receive.
	Running

	// Cancelling means Cancel has signalled the process; outbound
	// sends are no longer accepted while the exit is awaited.
	Cancelling

	// Terminated means the process has exited (any code) and the
	// inbound buffer has been drained or the drain timeout elapsed.
	Terminated

	// Failed means the session died abnormally: spawn failure or an
	// unrecoverable stream error.
	Failed
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Terminated || s == Failed
}

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Cancelling:
		return "cancelling"
	case Terminated:
		return "terminated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler so states serialize as
// their names in JSON and CBOR.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "created":
		*s = Created
	case "starting":
		*s = Starting
	case "running":
		*s = Running
	case "cancelling":
		*s = Cancelling
	case "terminated":
		*s = Terminated
	case "failed":
		*s = Failed
	default:
		return fmt.Errorf("unknown session state %q", text)
	}
	return nil
}
