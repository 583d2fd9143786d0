// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/steward/lib/flow"
	"github.com/bureau-foundation/steward/lib/process"
	"github.com/bureau-foundation/steward/lib/session"
	"github.com/bureau-foundation/steward/lib/testutil"
)

// newTestSession builds a session running `/bin/sh -c script` with a
// short startup grace so tests that never produce a first frame do not
// stall on the real clock.
func newTestSession(t *testing.T, script string, cfg session.Config) *session.Session {
	t.Helper()

	cfg.ID = testutil.UniqueID("ses")
	cfg.Command = process.Spec{
		Executable: "/bin/sh",
		Args:       []string{"-c", script},
	}
	if cfg.Supervisor == nil {
		cfg.Supervisor = process.NewSupervisor(nil, nil)
	}
	if cfg.StartupGrace == 0 {
		cfg.StartupGrace = 200 * time.Millisecond
	}

	s, err := session.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAckScenario(t *testing.T) {
	s := newTestSession(t, `printf '{"type":"ack"}\n'`, session.Config{})
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	testutil.RequireClosed(t, s.Done(), 5*time.Second, "session terminal")

	if got := s.State(); got != session.Terminated {
		t.Errorf("State = %s, want terminated", got)
	}
	status, exited := s.ExitStatus()
	if !exited || status.Code != 0 {
		t.Errorf("exit = %+v (%v), want clean code 0", status, exited)
	}

	// The buffered message survives termination and drains on demand.
	message, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(message.Payload) != `{"type":"ack"}` {
		t.Errorf("Payload = %s, want ack frame", message.Payload)
	}
	if message.Direction != session.Inbound || message.Ordinal != 1 {
		t.Errorf("message = %+v, want inbound ordinal 1", message)
	}

	// Queue drained and closed.
	if _, err := s.Receive(ctx); !errors.Is(err, flow.ErrClosed) {
		t.Errorf("Receive after drain = %v, want flow.ErrClosed", err)
	}
}

func TestStartIdempotent(t *testing.T) {
	s := newTestSession(t, `printf '{"ok":true}\n'; sleep 60`, session.Config{})
	ctx := context.Background()
	defer s.Cancel(ctx)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.State(); got != session.Running {
		t.Fatalf("State = %s, want running", got)
	}
	if err := s.Start(ctx); err != nil {
		t.Errorf("second Start = %v, want nil", err)
	}
}

func TestSendRequiresRunning(t *testing.T) {
	s := newTestSession(t, "sleep 60", session.Config{})

	err := s.Send(context.Background(), json.RawMessage(`{"x":1}`))

	var invalid *session.InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("Send = %v, want *InvalidStateError", err)
	}
	if invalid.State != session.Created {
		t.Errorf("State = %s, want created", invalid.State)
	}
	if invalid.Kind() != "InvalidState" {
		t.Errorf("Kind = %q, want InvalidState", invalid.Kind())
	}
}

func TestCancelCreatedNeverSpawns(t *testing.T) {
	supervisor := process.NewSupervisor(nil, nil)
	s := newTestSession(t, "sleep 60", session.Config{Supervisor: supervisor})
	ctx := context.Background()

	if err := s.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := s.State(); got != session.Terminated {
		t.Errorf("State = %s, want terminated", got)
	}
	if got := supervisor.Live(); got != 0 {
		t.Errorf("Live = %d, want 0 (no process spawned)", got)
	}

	// Idempotent in the terminal state.
	if err := s.Cancel(ctx); err != nil {
		t.Errorf("second Cancel = %v, want nil", err)
	}
}

func TestSpawnFailureFailsSession(t *testing.T) {
	s, err := session.New(session.Config{
		ID:         "ses-spawnfail",
		Command:    process.Spec{Executable: "/nonexistent/steward-agent"},
		Supervisor: process.NewSupervisor(nil, nil),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = s.Start(context.Background())
	var spawnErr *process.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("Start = %v, want *SpawnError", err)
	}
	if got := s.State(); got != session.Failed {
		t.Errorf("State = %s, want failed", got)
	}
	if s.Err() == nil {
		t.Error("Err = nil for failed session")
	}
}

func TestEchoSendReceive(t *testing.T) {
	s := newTestSession(t, "cat", session.Config{})
	ctx := context.Background()
	defer s.Cancel(ctx)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Send(ctx, json.RawMessage(`{"role":"user","content":"hi"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	message, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(message.Payload) != `{"role":"user","content":"hi"}` {
		t.Errorf("Payload = %s", message.Payload)
	}
	if message.Direction != session.Inbound {
		t.Errorf("Direction = %s, want inbound", message.Direction)
	}
}

func TestOutboundOrdinalsGapFreeUnderConcurrentSend(t *testing.T) {
	s := newTestSession(t, "cat >/dev/null; sleep 60", session.Config{})
	ctx := context.Background()
	defer s.Cancel(ctx)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const sendCount = 24
	var group sync.WaitGroup
	sendErrors := make(chan error, sendCount)
	for i := range sendCount {
		group.Add(1)
		go func() {
			defer group.Done()
			payload := json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
			if err := s.Send(ctx, payload); err != nil {
				sendErrors <- err
			}
		}()
	}
	group.Wait()
	close(sendErrors)
	for err := range sendErrors {
		t.Fatalf("Send: %v", err)
	}

	snapshot := s.Snapshot()
	if len(snapshot.Messages) != sendCount {
		t.Fatalf("history has %d messages, want %d", len(snapshot.Messages), sendCount)
	}
	for i, message := range snapshot.Messages {
		if message.Direction != session.Outbound {
			t.Fatalf("message %d direction = %s, want outbound", i, message.Direction)
		}
		if message.Ordinal != uint64(i+1) {
			t.Errorf("message %d ordinal = %d, want %d (gap or reorder)", i, message.Ordinal, i+1)
		}
	}
	if snapshot.OutboundOrdinal != sendCount {
		t.Errorf("OutboundOrdinal = %d, want %d", snapshot.OutboundOrdinal, sendCount)
	}
}

func TestCancelRunningSession(t *testing.T) {
	s := newTestSession(t, "sleep 60", session.Config{
		TerminateGrace: 2 * time.Second,
	})
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := s.State(); got != session.Terminated {
		t.Errorf("State = %s, want terminated", got)
	}
	if status, exited := s.ExitStatus(); !exited || !status.Signaled {
		t.Errorf("exit = %+v (%v), want signal termination", status, exited)
	}

	// Send after termination is rejected, not a crash.
	var invalid *session.InvalidStateError
	if err := s.Send(ctx, json.RawMessage(`{}`)); !errors.As(err, &invalid) {
		t.Errorf("Send after Cancel = %v, want *InvalidStateError", err)
	}
}

func TestTransitionsReachSink(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	sink := session.SinkFunc(func(sessionID string, from, to session.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+">"+to.String())
	})

	s := newTestSession(t, `printf '{"type":"ack"}\n'`, session.Config{Sink: sink})
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	testutil.RequireClosed(t, s.Done(), 5*time.Second, "session terminal")

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) == 0 {
		t.Fatal("no transitions observed")
	}
	if transitions[0] != "created>starting" {
		t.Errorf("first transition = %s, want created>starting", transitions[0])
	}
	last := transitions[len(transitions)-1]
	if last != "running>terminated" {
		t.Errorf("last transition = %s, want running>terminated", last)
	}
}

func TestTrailingFinalLineDeliveredAtExit(t *testing.T) {
	// The process dies without terminating its final line. Under the
	// final-line policy the frame is still delivered.
	s := newTestSession(t, `printf '{"partial":true}'`, session.Config{})
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	message, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(message.Payload) != `{"partial":true}` {
		t.Errorf("Payload = %s", message.Payload)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := newTestSession(t, "cat", session.Config{
		Context: session.Context{
			Model:    "sonnet",
			MaxTurns: 5,
			Extra:    map[string]string{"team": "infra"},
		},
	})
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Send(ctx, json.RawMessage(`{"q":"hello"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := s.Receive(ctx); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := s.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	snapshot := s.Snapshot()
	if len(snapshot.Messages) != 2 {
		t.Fatalf("snapshot has %d messages, want 2", len(snapshot.Messages))
	}

	restored, err := session.NewFromSnapshot(session.Config{
		ID:         "ses-restored",
		Command:    process.Spec{Executable: "/bin/sh", Args: []string{"-c", "cat"}},
		Supervisor: process.NewSupervisor(nil, nil),
	}, snapshot)
	if err != nil {
		t.Fatalf("NewFromSnapshot: %v", err)
	}

	if got := restored.State(); got != session.Created {
		t.Errorf("restored State = %s, want created", got)
	}
	if got := restored.Context().Model; got != "sonnet" {
		t.Errorf("restored Model = %q, want %q", got, "sonnet")
	}
	restoredSnapshot := restored.Snapshot()
	if len(restoredSnapshot.Messages) != 2 {
		t.Errorf("restored history has %d messages, want 2", len(restoredSnapshot.Messages))
	}
	if restoredSnapshot.OutboundOrdinal != snapshot.OutboundOrdinal ||
		restoredSnapshot.InboundOrdinal != snapshot.InboundOrdinal {
		t.Error("restored ordinal counters do not match the snapshot")
	}
}

func TestContextValidation(t *testing.T) {
	_, err := session.New(session.Config{
		ID:         "ses-bad",
		Command:    process.Spec{Executable: "/bin/sh"},
		Supervisor: process.NewSupervisor(nil, nil),
		Context:    session.Context{MaxTurns: -1},
	})
	if err == nil {
		t.Fatal("New accepted a negative max_turns")
	}
}

func TestMergeContext(t *testing.T) {
	defaults := session.Context{
		Model:        "haiku",
		SystemPrompt: "be brief",
		Extra:        map[string]string{"a": "1", "b": "2"},
	}
	overrides := session.Context{
		Model: "opus",
		Extra: map[string]string{"b": "3"},
	}

	merged := session.MergeContext(defaults, overrides)
	if merged.Model != "opus" {
		t.Errorf("Model = %q, want %q", merged.Model, "opus")
	}
	if merged.SystemPrompt != "be brief" {
		t.Errorf("SystemPrompt = %q, want default retained", merged.SystemPrompt)
	}
	if merged.Extra["a"] != "1" || merged.Extra["b"] != "3" {
		t.Errorf("Extra = %v, want default a=1 with override b=3", merged.Extra)
	}
}
