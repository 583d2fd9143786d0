// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "time"

// Snapshot is the serializable point-in-time image of a session:
// everything needed to materialize a new session with the same context
// and history. Snapshots are encoded with lib/codec (deterministic
// CBOR) before being handed to the checkpoint store, so identical
// session states produce identical bytes and deduplicate.
type Snapshot struct {
	SessionID       string    `json:"session_id"`
	State           State     `json:"state"`
	Context         Context   `json:"context"`
	Messages        []Message `json:"messages"`
	InboundOrdinal  uint64    `json:"inbound_ordinal"`
	OutboundOrdinal uint64    `json:"outbound_ordinal"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
}

// Snapshot returns a copy of the session's serializable state. The
// message history is copied so later session activity never mutates a
// snapshot already taken.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]Message, len(s.messages))
	copy(messages, s.messages)

	return Snapshot{
		SessionID:       s.id,
		State:           s.state,
		Context:         s.sessionContext,
		Messages:        messages,
		InboundOrdinal:  s.inboundOrdinal,
		OutboundOrdinal: s.outboundOrdinal,
		CreatedAt:       s.createdAt,
		LastActivity:    s.lastActivity,
	}
}
