// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/steward/lib/clock"
)

// SpawnError reports a failure to start a child process: executable
// missing, permission denied, resource limits. Fatal to the session
// that requested the spawn; never auto-retried.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("process: spawning %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Kind returns the stable error kind for callers that route on it.
func (e *SpawnError) Kind() string { return "SpawnError" }

// Spec describes a child process to spawn.
type Spec struct {
	// Executable is the path or name (resolved via PATH) of the
	// binary to run.
	Executable string

	// Args are the arguments, not including the executable name.
	Args []string

	// Env is appended to the inherited environment. Keys are applied
	// in sorted order for deterministic child environments.
	Env map[string]string

	// WorkingDirectory is the child's working directory. Empty means
	// inherit the supervisor's.
	WorkingDirectory string

	// StderrRingBytes bounds the diagnostic stderr capture.
	// Non-positive selects DefaultStderrRingBytes.
	StderrRingBytes int
}

// Supervisor spawns and tracks child processes. All live handles are
// registered so Shutdown can reap orphans — processes whose sessions
// are gone but which are still running.
type Supervisor struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	handles map[*Handle]struct{}
}

// NewSupervisor creates a Supervisor. A nil clk selects the real
// clock; a nil logger discards.
func NewSupervisor(clk clock.Clock, logger *slog.Logger) *Supervisor {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{
		clock:   clk,
		logger:  logger,
		handles: make(map[*Handle]struct{}),
	}
}

// Spawn starts a child process per spec with piped stdin/stdout and a
// continuously drained stderr. Failure to start returns *SpawnError.
//
// The pipes are created manually (not via exec.Cmd pipe helpers) so
// that observing the exit never closes the stdout read end while a
// consumer is still draining buffered output.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Executable == "" {
		return nil, &SpawnError{Executable: "", Err: fmt.Errorf("empty executable")}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stdinRead, stdinWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("process: creating stdin pipe: %w", err)
	}
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		return nil, fmt.Errorf("process: creating stdout pipe: %w", err)
	}
	stderrRead, stderrWrite, err := os.Pipe()
	if err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		stdoutRead.Close()
		stdoutWrite.Close()
		return nil, fmt.Errorf("process: creating stderr pipe: %w", err)
	}

	command := exec.Command(spec.Executable, spec.Args...)
	command.Dir = spec.WorkingDirectory
	command.Env = buildEnvironment(spec.Env)
	command.Stdin = stdinRead
	command.Stdout = stdoutWrite
	command.Stderr = stderrWrite

	if err := command.Start(); err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		stdoutRead.Close()
		stdoutWrite.Close()
		stderrRead.Close()
		stderrWrite.Close()
		return nil, &SpawnError{Executable: spec.Executable, Err: err}
	}

	// The child owns its ends now; keeping our duplicates open would
	// prevent EOF from ever reaching either side.
	stdinRead.Close()
	stdoutWrite.Close()
	stderrWrite.Close()

	handle := &Handle{
		spec:       spec,
		command:    command,
		stdin:      stdinWrite,
		stdout:     stdoutRead,
		stderrTail: NewRing(spec.StderrRingBytes),
		clock:      s.clock,
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	s.handles[handle] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("process spawned",
		"executable", spec.Executable,
		"pid", command.Process.Pid,
	)

	// Independent stderr drain: a stalled stdout consumer must never
	// cause the child to block on a full stderr pipe.
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		_, _ = io.Copy(handle.stderrTail, stderrRead)
		stderrRead.Close()
	}()

	go func() {
		waitResult := command.Wait()
		<-stderrDone
		handle.recordExit(waitResult)

		s.mu.Lock()
		delete(s.handles, handle)
		s.mu.Unlock()

		status, _ := handle.ExitStatus()
		s.logger.Info("process exited",
			"executable", spec.Executable,
			"pid", command.Process.Pid,
			"code", status.Code,
			"signaled", status.Signaled,
		)
	}()

	return handle, nil
}

// Live returns the number of tracked live processes.
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Shutdown terminates every live process: SIGTERM, grace, SIGKILL.
// Blocks until all processes have exited or ctx is cancelled. This is
// the orphan reaper — sessions normally terminate their own processes,
// but a crashed or leaked session must not leak its child.
func (s *Supervisor) Shutdown(ctx context.Context, grace time.Duration) error {
	s.mu.Lock()
	live := make([]*Handle, 0, len(s.handles))
	for handle := range s.handles {
		live = append(live, handle)
	}
	s.mu.Unlock()

	if len(live) == 0 {
		return nil
	}
	s.logger.Info("supervisor shutdown, reaping live processes", "count", len(live))

	var group sync.WaitGroup
	errs := make(chan error, len(live))
	for _, handle := range live {
		group.Add(1)
		go func() {
			defer group.Done()
			if err := handle.Terminate(ctx, grace); err != nil {
				errs <- fmt.Errorf("terminating pid %d: %w", handle.Pid(), err)
			}
		}()
	}
	group.Wait()
	close(errs)

	for err := range errs {
		return fmt.Errorf("process: shutdown: %w", err)
	}
	return nil
}

// buildEnvironment merges extra variables over the inherited
// environment, applying keys in sorted order.
func buildEnvironment(extra map[string]string) []string {
	if len(extra) == 0 {
		return os.Environ()
	}
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	environment := os.Environ()
	for _, key := range keys {
		environment = append(environment, key+"="+extra[key])
	}
	return environment
}
