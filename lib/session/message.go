// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Direction marks which way a message travelled.
type Direction string

const (
	// Inbound messages were read from the subprocess's stdout.
	Inbound Direction = "inbound"

	// Outbound messages were written to the subprocess's stdin.
	Outbound Direction = "outbound"
)

// Message is one protocol frame exchanged with the subprocess. Ordinals
// are per-session and per-direction, starting at 1, strictly increasing
// and gap-free. Messages are immutable once appended to the history.
type Message struct {
	Direction Direction       `json:"direction"`
	Ordinal   uint64          `json:"ordinal"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Context is the typed session configuration. Recognized keys are
// explicit fields; anything else rides in Extra, validated only for
// shape. Callers merge project defaults under their overrides before
// handing the result to a session.
type Context struct {
	// Model names the assistant model the subprocess should run.
	Model string `json:"model,omitempty"`

	// SystemPrompt is prepended to the conversation by the subprocess.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// WorkingDirectory is where the subprocess runs. Empty inherits
	// the supervisor's directory.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// MaxTurns bounds the conversation length. Zero means unlimited.
	MaxTurns int `json:"max_turns,omitempty"`

	// Extra carries unrecognized settings opaquely.
	Extra map[string]string `json:"extra,omitempty"`
}

// Validate checks the context at the boundary.
func (c Context) Validate() error {
	if c.MaxTurns < 0 {
		return fmt.Errorf("session context: max_turns %d is negative", c.MaxTurns)
	}
	for key := range c.Extra {
		if key == "" {
			return fmt.Errorf("session context: empty key in extra")
		}
	}
	return nil
}

// MergeContext layers overrides on top of defaults: every non-zero
// override field wins, and Extra maps are merged key by key with
// override entries shadowing defaults.
func MergeContext(defaults, overrides Context) Context {
	merged := defaults
	if overrides.Model != "" {
		merged.Model = overrides.Model
	}
	if overrides.SystemPrompt != "" {
		merged.SystemPrompt = overrides.SystemPrompt
	}
	if overrides.WorkingDirectory != "" {
		merged.WorkingDirectory = overrides.WorkingDirectory
	}
	if overrides.MaxTurns != 0 {
		merged.MaxTurns = overrides.MaxTurns
	}
	if len(overrides.Extra) > 0 {
		merged.Extra = make(map[string]string, len(defaults.Extra)+len(overrides.Extra))
		for key, value := range defaults.Extra {
			merged.Extra[key] = value
		}
		for key, value := range overrides.Extra {
			merged.Extra[key] = value
		}
	}
	return merged
}
