// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bureau-foundation/steward/lib/clock"
	"github.com/bureau-foundation/steward/lib/process"
	"github.com/bureau-foundation/steward/lib/testutil"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSpawnMissingExecutable(t *testing.T) {
	supervisor := process.NewSupervisor(nil, nil)

	_, err := supervisor.Spawn(context.Background(), process.Spec{
		Executable: "/nonexistent/steward-test-binary",
	})

	var spawnErr *process.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("Spawn = %v, want *SpawnError", err)
	}
	if spawnErr.Kind() != "SpawnError" {
		t.Errorf("Kind = %q, want SpawnError", spawnErr.Kind())
	}
}

func TestSpawnReadsStdoutAndExitZero(t *testing.T) {
	supervisor := process.NewSupervisor(nil, nil)

	handle, err := supervisor.Spawn(context.Background(), process.Spec{
		Executable: "/bin/sh",
		Args:       []string{"-c", `printf '{"type":"ack"}\n'`},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	output, err := io.ReadAll(handle.Stdout())
	if err != nil {
		t.Fatalf("reading stdout: %v", err)
	}
	if !bytes.Equal(output, []byte("{\"type\":\"ack\"}\n")) {
		t.Errorf("stdout = %q", output)
	}

	status, err := handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status.Code != 0 || status.Signaled {
		t.Errorf("status = %+v, want clean exit 0", status)
	}
}

func TestExitCodeClassification(t *testing.T) {
	supervisor := process.NewSupervisor(nil, nil)

	handle, err := supervisor.Spawn(context.Background(), process.Spec{
		Executable: "/bin/sh",
		Args:       []string{"-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	status, err := handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if status.Code != 3 {
		t.Errorf("Code = %d, want 3", status.Code)
	}
	if status.Signaled {
		t.Error("Signaled = true for a plain exit")
	}
}

func TestSignalTerminationClassification(t *testing.T) {
	supervisor := process.NewSupervisor(nil, nil)

	handle, err := supervisor.Spawn(context.Background(), process.Spec{
		Executable: "/bin/sh",
		Args:       []string{"-c", "kill -KILL $$"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	status, err := handle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !status.Signaled {
		t.Fatalf("Signaled = false, status = %+v", status)
	}
	if status.Code != 137 { // 128 + SIGKILL
		t.Errorf("Code = %d, want 137", status.Code)
	}
}

func TestStderrDrainedIntoRing(t *testing.T) {
	supervisor := process.NewSupervisor(nil, nil)

	handle, err := supervisor.Spawn(context.Background(), process.Spec{
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo diagnostic-detail >&2"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if _, err := handle.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	tail := handle.StderrTail()
	if !bytes.Contains(tail, []byte("diagnostic-detail")) {
		t.Errorf("StderrTail = %q, want it to contain the stderr output", tail)
	}
}

func TestEnvironmentPassedToChild(t *testing.T) {
	supervisor := process.NewSupervisor(nil, nil)

	handle, err := supervisor.Spawn(context.Background(), process.Spec{
		Executable: "/bin/sh",
		Args:       []string{"-c", `printf '%s' "$STEWARD_TEST_VALUE"`},
		Env:        map[string]string{"STEWARD_TEST_VALUE": "wired"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	output, err := io.ReadAll(handle.Stdout())
	if err != nil {
		t.Fatalf("reading stdout: %v", err)
	}
	if string(output) != "wired" {
		t.Errorf("child saw %q, want %q", output, "wired")
	}
	handle.Wait(context.Background())
}

func TestTerminateEscalatesToKill(t *testing.T) {
	fakeClock := clock.Fake(testEpoch)
	supervisor := process.NewSupervisor(fakeClock, nil)

	// The child ignores SIGTERM, forcing the grace-then-kill path.
	handle, err := supervisor.Spawn(context.Background(), process.Spec{
		Executable: "/bin/sh",
		Args:       []string{"-c", `trap '' TERM; while :; do sleep 0.1; done`},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	terminated := make(chan error, 1)
	go func() {
		terminated <- handle.Terminate(context.Background(), 30*time.Second)
	}()

	// Terminate registers the grace timer after SIGTERM; fire it.
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(30 * time.Second)

	if err := testutil.RequireReceive(t, terminated, 10*time.Second, "terminate"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	status, exited := handle.ExitStatus()
	if !exited {
		t.Fatal("process did not exit")
	}
	if !status.Signaled {
		t.Errorf("status = %+v, want signal termination", status)
	}
}

func TestTerminateGracefulWithinGrace(t *testing.T) {
	supervisor := process.NewSupervisor(nil, nil)

	handle, err := supervisor.Spawn(context.Background(), process.Spec{
		Executable: "/bin/sh",
		Args:       []string{"-c", "sleep 60"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	// sleep(1) dies on SIGTERM immediately, well inside the grace.
	if err := handle.Terminate(context.Background(), 30*time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, exited := handle.ExitStatus(); !exited {
		t.Error("process still live after Terminate returned")
	}
}

func TestShutdownReapsAllLiveProcesses(t *testing.T) {
	supervisor := process.NewSupervisor(nil, nil)

	for range 3 {
		if _, err := supervisor.Spawn(context.Background(), process.Spec{
			Executable: "/bin/sh",
			Args:       []string{"-c", "sleep 60"},
		}); err != nil {
			t.Fatalf("Spawn: %v", err)
		}
	}
	if got := supervisor.Live(); got != 3 {
		t.Fatalf("Live = %d, want 3", got)
	}

	if err := supervisor.Shutdown(context.Background(), 30*time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := supervisor.Live(); got != 0 {
		t.Errorf("Live after Shutdown = %d, want 0", got)
	}
}
