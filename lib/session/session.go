// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/steward/lib/clock"
	"github.com/bureau-foundation/steward/lib/flow"
	"github.com/bureau-foundation/steward/lib/jsonl"
	"github.com/bureau-foundation/steward/lib/process"
)

// Timeout defaults. Each is overridable through Config.
const (
	// DefaultStartupGrace is how long Start waits for the first
	// readable frame before declaring the stream confirmed anyway.
	DefaultStartupGrace = 10 * time.Second

	// DefaultTerminateGrace is the SIGTERM-to-SIGKILL window used by
	// Cancel.
	DefaultTerminateGrace = 5 * time.Second

	// DefaultDrainTimeout bounds how long the exit waiter lets the
	// stdout pump flush buffered output after the process exits.
	DefaultDrainTimeout = 5 * time.Second
)

// EventSink receives state transition notifications. Calls are
// synchronous and made outside the session's lock; the sink decides
// about any asynchronous fan-out. A sink must not call back into the
// session it is observing from within the notification.
type EventSink interface {
	SessionTransition(sessionID string, from, to State)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(sessionID string, from, to State)

// SessionTransition calls f.
func (f SinkFunc) SessionTransition(sessionID string, from, to State) {
	f(sessionID, from, to)
}

// Config assembles a session's collaborators and tuning. ID,
// Supervisor, and Command.Executable are required.
type Config struct {
	// ID is the opaque unique session identifier.
	ID string

	// Command describes the subprocess to supervise. The session
	// applies Context.WorkingDirectory over Command.WorkingDirectory
	// when set.
	Command process.Spec

	// Context is the merged session context.
	Context Context

	// Supervisor spawns and tracks the subprocess.
	Supervisor *process.Supervisor

	// QueueCapacity bounds the inbound message queue. Non-positive
	// selects flow.DefaultCapacity.
	QueueCapacity int

	// MaxLineBytes bounds protocol lines in both directions.
	// Non-positive selects jsonl.DefaultMaxLineBytes.
	MaxLineBytes int

	// Trailing selects the policy for a final unterminated stdout line.
	Trailing jsonl.TrailingPolicy

	// StartupGrace, TerminateGrace, DrainTimeout override the package
	// defaults when positive.
	StartupGrace   time.Duration
	TerminateGrace time.Duration
	DrainTimeout   time.Duration

	// Clock drives all timeout paths. Nil selects the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger

	// Sink receives transition events. May be nil.
	Sink EventSink

	// Log, when non-nil, records every message to a session log file.
	Log *LogWriter
}

// Session is one supervised subprocess with its message streams and
// lifecycle state. All methods are safe for concurrent use.
type Session struct {
	id             string
	command        process.Spec
	supervisor     *process.Supervisor
	clock          clock.Clock
	logger         *slog.Logger
	sink           EventSink
	log            *LogWriter
	maxLineBytes   int
	trailing       jsonl.TrailingPolicy
	startupGrace   time.Duration
	terminateGrace time.Duration
	drainTimeout   time.Duration

	inbound *flow.Queue[Message]

	mu              sync.Mutex
	state           State
	sessionContext  Context
	messages        []Message
	inboundOrdinal  uint64
	outboundOrdinal uint64
	createdAt       time.Time
	lastActivity    time.Time
	handle          *process.Handle
	exitStatus      process.ExitStatus
	exited          bool
	failure         error

	// sendMu serializes outbound sends so ordinals match write order.
	sendMu sync.Mutex
	writer *jsonl.Writer

	firstFrame     chan struct{}
	firstFrameOnce sync.Once
	pumpDone       chan struct{}
	done           chan struct{}
	doneOnce       sync.Once
}

// New creates a session in the created state. No process is spawned
// until Start.
func New(cfg Config) (*Session, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("session: ID is required")
	}
	if cfg.Supervisor == nil {
		return nil, fmt.Errorf("session: Supervisor is required")
	}
	if cfg.Command.Executable == "" {
		return nil, fmt.Errorf("session: Command.Executable is required")
	}
	if err := cfg.Context.Validate(); err != nil {
		return nil, err
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Session{
		id:             cfg.ID,
		command:        cfg.Command,
		supervisor:     cfg.Supervisor,
		clock:          clk,
		logger:         logger,
		sink:           cfg.Sink,
		log:            cfg.Log,
		maxLineBytes:   cfg.MaxLineBytes,
		trailing:       cfg.Trailing,
		startupGrace:   cfg.StartupGrace,
		terminateGrace: cfg.TerminateGrace,
		drainTimeout:   cfg.DrainTimeout,
		inbound:        flow.NewQueue[Message](cfg.QueueCapacity),
		state:          Created,
		sessionContext: cfg.Context,
		createdAt:      clk.Now(),
		lastActivity:   clk.Now(),
		firstFrame:     make(chan struct{}),
		pumpDone:       make(chan struct{}),
		done:           make(chan struct{}),
	}
	if s.startupGrace <= 0 {
		s.startupGrace = DefaultStartupGrace
	}
	if s.terminateGrace <= 0 {
		s.terminateGrace = DefaultTerminateGrace
	}
	if s.drainTimeout <= 0 {
		s.drainTimeout = DefaultDrainTimeout
	}
	return s, nil
}

// NewFromSnapshot materializes a session in the created state with the
// snapshot's context, history, and ordinal counters. The restored
// session never resumes the original process; Start spawns a fresh one.
func NewFromSnapshot(cfg Config, snapshot Snapshot) (*Session, error) {
	cfg.Context = snapshot.Context
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	s.messages = make([]Message, len(snapshot.Messages))
	copy(s.messages, snapshot.Messages)
	s.inboundOrdinal = snapshot.InboundOrdinal
	s.outboundOrdinal = snapshot.OutboundOrdinal
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Context returns the session context.
func (s *Session) Context() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionContext
}

// CreatedAt returns the creation timestamp.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// LastActivity returns the timestamp of the most recent message or
// lifecycle change.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ExitStatus returns the process exit status and true once the process
// has exited.
func (s *Session) ExitStatus() (process.ExitStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitStatus, s.exited
}

// Err returns the fatal error for a failed session, nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Done returns a channel closed when the session reaches a terminal
// state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start spawns the subprocess and confirms the stream. It is an
// idempotent no-op in any state but created. Start returns once the
// session has left starting: the first readable frame, the startup
// grace elapsing without error, or process exit all confirm the
// stream; a spawn failure moves the session to failed and returns the
// *SpawnError.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Created {
		s.mu.Unlock()
		return nil
	}
	s.state = Starting
	s.mu.Unlock()
	s.emit(Created, Starting)

	command := s.command
	if s.sessionContext.WorkingDirectory != "" {
		command.WorkingDirectory = s.sessionContext.WorkingDirectory
	}

	handle, err := s.supervisor.Spawn(ctx, command)
	if err != nil {
		s.mu.Lock()
		s.state = Failed
		s.failure = err
		s.mu.Unlock()
		s.emit(Starting, Failed)
		s.inbound.Close()
		s.markDone()
		return fmt.Errorf("session %s: %w", s.id, err)
	}

	s.mu.Lock()
	s.handle = handle
	s.lastActivity = s.clock.Now()
	s.writer = jsonl.NewWriter(handle.Stdin(), s.maxLineBytes)
	cancelRequested := s.state == Cancelling
	s.mu.Unlock()

	go s.pump(handle)
	go s.awaitExit(handle)

	// Cancel raced the spawn: it found no handle to signal, so the
	// terminate escalation runs here.
	if cancelRequested {
		if err := handle.Terminate(ctx, s.terminateGrace); err != nil {
			return fmt.Errorf("session %s: cancelling during start: %w", s.id, err)
		}
	}

	select {
	case <-s.firstFrame:
	case <-handle.Done():
		// Exited before producing a frame. The stream is confirmed in
		// the trivial sense; the exit waiter settles the final state.
	case <-s.clock.After(s.startupGrace):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.state == Starting {
		s.state = Running
		s.mu.Unlock()
		s.emit(Starting, Running)
		return nil
	}
	s.mu.Unlock()
	return nil
}

// Send writes one outbound frame to the subprocess. Only valid while
// running; concurrent calls are serialized so outbound ordinals match
// the order frames reach the process. An oversized or invalid payload
// is rejected without affecting the session; a write failure on the
// pipe forces the session to failed.
func (s *Session) Send(ctx context.Context, payload json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !json.Valid(payload) {
		return fmt.Errorf("session %s: send: payload is not valid JSON", s.id)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.state != Running {
		state := s.state
		s.mu.Unlock()
		return &InvalidStateError{SessionID: s.id, Operation: "send", State: state}
	}
	writer := s.writer
	s.mu.Unlock()

	if err := writer.Write(payload); err != nil {
		var tooLarge *jsonl.FrameTooLargeError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("session %s: send: %w", s.id, err)
		}
		s.failStream(err)
		return s.Err()
	}

	s.mu.Lock()
	s.outboundOrdinal++
	message := Message{
		Direction: Outbound,
		Ordinal:   s.outboundOrdinal,
		Payload:   payload,
		Timestamp: s.clock.Now(),
	}
	s.messages = append(s.messages, message)
	s.lastActivity = message.Timestamp
	s.mu.Unlock()

	if s.log != nil {
		if err := s.log.Write(message); err != nil {
			s.logger.Warn("session log write failed", "session_id", s.id, "error", err)
		}
	}
	return nil
}

// Receive returns the next inbound message in process-emission order.
// Blocks until a message arrives, ctx is cancelled, or the stream has
// ended and the queue is drained (flow.ErrClosed). Safe to call
// concurrently with Send.
func (s *Session) Receive(ctx context.Context) (Message, error) {
	return s.inbound.Pop(ctx)
}

// Cancel drives the session toward terminated. Created sessions
// terminate directly without ever spawning; starting or running
// sessions get SIGTERM with the grace-then-kill escalation; sessions
// already terminal return nil, the goal state being reached. Cancel
// blocks until the session is terminal or ctx is cancelled.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Created:
		s.state = Terminated
		s.lastActivity = s.clock.Now()
		s.mu.Unlock()
		s.emit(Created, Terminated)
		s.inbound.Close()
		s.markDone()
		return nil

	case Terminated, Failed:
		s.mu.Unlock()
		return nil

	case Cancelling:
		s.mu.Unlock()

	case Starting, Running:
		from := s.state
		s.state = Cancelling
		handle := s.handle
		s.mu.Unlock()
		s.emit(from, Cancelling)

		if handle != nil {
			if err := handle.Terminate(ctx, s.terminateGrace); err != nil {
				return fmt.Errorf("session %s: cancel: %w", s.id, err)
			}
		}
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump reads the subprocess's stdout through the framer into the
// inbound queue. Per-line failures are logged and skipped; a
// stream-level failure forces the session to failed.
func (s *Session) pump(handle *process.Handle) {
	defer close(s.pumpDone)

	reader := jsonl.NewReader(handle.Stdout(), jsonl.ReaderConfig{
		MaxLineBytes: s.maxLineBytes,
		Trailing:     s.trailing,
	})

	for {
		payload, err := reader.Next()
		switch {
		case err == nil:
			s.firstFrameOnce.Do(func() { close(s.firstFrame) })
			message := s.recordInbound(payload)
			if s.log != nil {
				if logErr := s.log.Write(message); logErr != nil {
					s.logger.Warn("session log write failed", "session_id", s.id, "error", logErr)
				}
			}
			if pushErr := s.inbound.Push(context.Background(), message); pushErr != nil {
				return
			}

		case errors.Is(err, io.EOF):
			s.inbound.Close()
			return

		default:
			var tooLarge *jsonl.FrameTooLargeError
			var decodeErr *jsonl.DecodeError
			if errors.As(err, &tooLarge) || errors.As(err, &decodeErr) {
				s.logger.Warn("skipping bad frame", "session_id", s.id, "error", err)
				continue
			}
			s.failStream(err)
			return
		}
	}
}

// awaitExit records the exit status once the process dies, lets the
// pump flush buffered stdout for up to the drain timeout, and settles
// the terminal state.
func (s *Session) awaitExit(handle *process.Handle) {
	status, waitErr := handle.Wait(context.Background())

	select {
	case <-s.pumpDone:
	case <-s.clock.After(s.drainTimeout):
		s.logger.Warn("drain timeout elapsed before stdout was fully consumed",
			"session_id", s.id)
	}

	var transitions [][2]State
	s.mu.Lock()
	s.exitStatus = status
	s.exited = waitErr == nil
	s.lastActivity = s.clock.Now()
	if !s.state.Terminal() {
		// A process that exits during startup confirmation still ran.
		if s.state == Starting {
			transitions = append(transitions, [2]State{Starting, Running})
			s.state = Running
		}
		transitions = append(transitions, [2]State{s.state, Terminated})
		s.state = Terminated
	}
	s.mu.Unlock()

	for _, t := range transitions {
		s.emit(t[0], t[1])
	}

	s.inbound.Close()
	s.markDone()
}

// recordInbound assigns the next inbound ordinal and appends the
// message to the history.
func (s *Session) recordInbound(payload json.RawMessage) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboundOrdinal++
	message := Message{
		Direction: Inbound,
		Ordinal:   s.inboundOrdinal,
		Payload:   payload,
		Timestamp: s.clock.Now(),
	}
	s.messages = append(s.messages, message)
	s.lastActivity = message.Timestamp
	return message
}

// failStream moves a live session to failed, captures the stderr tail,
// and kills the process. The inbound queue is closed so blocked
// consumers and the pump unwind.
func (s *Session) failStream(cause error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = Failed
	handle := s.handle
	var tail []byte
	if handle != nil {
		tail = handle.StderrTail()
	}
	s.failure = &StreamError{SessionID: s.id, Err: cause, StderrTail: tail}
	s.lastActivity = s.clock.Now()
	s.mu.Unlock()

	s.emit(from, Failed)
	if handle != nil {
		if err := handle.Kill(); err != nil {
			s.logger.Warn("killing failed session's process", "session_id", s.id, "error", err)
		}
	}
	s.inbound.Close()
	s.markDone()
}

// emit logs and delivers one transition. Called without s.mu held.
func (s *Session) emit(from, to State) {
	s.logger.Info("session transition",
		"session_id", s.id,
		"from", from.String(),
		"to", to.String(),
	)
	if s.sink != nil {
		s.sink.SessionTransition(s.id, from, to)
	}
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
