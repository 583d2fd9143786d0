// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/steward/lib/clock"
)

// ExitStatus classifies how a child process exited.
type ExitStatus struct {
	// Code is the exit code. For signal-terminated processes this is
	// 128 + signal number, matching shell convention.
	Code int

	// Signaled is true when the process was terminated by a signal
	// rather than exiting on its own.
	Signaled bool

	// Signal is the terminating signal name ("terminated", "killed")
	// when Signaled is true.
	Signal string
}

// Handle is a live (or exited) child process owned by a Supervisor.
// The three standard streams are piped: the caller writes protocol
// frames to Stdin, reads protocol frames from Stdout, and never
// touches stderr — an internal goroutine drains it into a bounded
// ring buffer for diagnostics.
type Handle struct {
	spec       Spec
	command    *exec.Cmd
	stdin      io.WriteCloser
	stdout     io.ReadCloser
	stderrTail *Ring
	clock      clock.Clock

	// done is closed by the internal waiter once the process has
	// exited and its status is recorded.
	done chan struct{}

	mu      sync.Mutex
	status  ExitStatus
	waitErr error
}

// Stdin returns the pipe connected to the child's stdin. Closing it
// signals end-of-input to the child.
func (h *Handle) Stdin() io.WriteCloser { return h.stdin }

// Stdout returns the pipe connected to the child's stdout. It reads
// io.EOF once the child exits and the pipe drains.
func (h *Handle) Stdout() io.ReadCloser { return h.stdout }

// Pid returns the child's process ID.
func (h *Handle) Pid() int { return h.command.Process.Pid }

// Done returns a channel closed when the process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// StderrTail returns a copy of the most recent stderr output, for
// inclusion in failure diagnostics.
func (h *Handle) StderrTail() []byte { return h.stderrTail.Bytes() }

// Wait suspends until the process exits or ctx is cancelled, returning
// the exit status. Any exit code is a normal return — interpreting the
// code is the caller's concern.
func (h *Handle) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.waitErr != nil {
		return ExitStatus{}, h.waitErr
	}
	return h.status, nil
}

// ExitStatus returns the recorded status and true if the process has
// exited, or a zero status and false while it is still running.
func (h *Handle) ExitStatus() (ExitStatus, bool) {
	select {
	case <-h.done:
	default:
		return ExitStatus{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.waitErr == nil
}

// Signal delivers sig to the process. Delivery to an already-exited
// process fails harmlessly; callers may ignore the error when the
// goal state is "not running".
func (h *Handle) Signal(sig os.Signal) error {
	if err := h.command.Process.Signal(sig); err != nil {
		return fmt.Errorf("process: signaling pid %d: %w", h.command.Process.Pid, err)
	}
	return nil
}

// Kill force-terminates the process immediately (SIGKILL). Used when
// the stream is broken but the process is still nominally alive.
func (h *Handle) Kill() error {
	err := h.command.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("process: killing pid %d: %w", h.command.Process.Pid, err)
	}
	return nil
}

// Terminate sends SIGTERM, waits up to grace for the process to exit,
// then escalates to SIGKILL. Returns once the process has exited or
// ctx is cancelled. Safe to call on an already-exited process.
func (h *Handle) Terminate(ctx context.Context, grace time.Duration) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	// Signal delivery failure usually means the process exited
	// between the check above and the kill(2); the waiter will
	// observe the exit either way.
	_ = h.command.Process.Signal(syscall.SIGTERM)

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.clock.After(grace):
	}

	_ = h.command.Process.Kill()

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recordExit classifies the result of exec.Cmd.Wait and closes done.
func (h *Handle) recordExit(waitResult error) {
	h.mu.Lock()
	switch err := waitResult.(type) {
	case nil:
		h.status = ExitStatus{Code: 0}
	case *exec.ExitError:
		h.status = classifyExit(err)
	default:
		h.waitErr = fmt.Errorf("process: waiting for pid %d: %w", h.command.Process.Pid, waitResult)
	}
	h.mu.Unlock()
	close(h.done)
}

// classifyExit converts an ExitError's wait status into an ExitStatus,
// distinguishing signal termination from plain nonzero exits.
func classifyExit(exitErr *exec.ExitError) ExitStatus {
	waitStatus, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitStatus{Code: exitErr.ExitCode()}
	}
	status := unix.WaitStatus(waitStatus)
	if status.Signaled() {
		return ExitStatus{
			Code:     128 + int(status.Signal()),
			Signaled: true,
			Signal:   status.Signal().String(),
		}
	}
	return ExitStatus{Code: status.ExitStatus()}
}
