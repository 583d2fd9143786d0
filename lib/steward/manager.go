// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package steward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/steward/lib/checkpoint"
	"github.com/bureau-foundation/steward/lib/clock"
	"github.com/bureau-foundation/steward/lib/codec"
	"github.com/bureau-foundation/steward/lib/jsonl"
	"github.com/bureau-foundation/steward/lib/process"
	"github.com/bureau-foundation/steward/lib/session"
)

// ErrSessionNotFound is returned for lookups of session IDs the
// manager does not hold. Terminal sessions are removed from the map,
// so a recently finished session also reports this.
var ErrSessionNotFound = errors.New("steward: session not found")

// Project is the thin external-facing aggregate the manager reads at
// session creation: an identifier and a default context template.
// Project lifecycle belongs to an outer collaborator; the manager
// never mutates or deletes projects.
type Project struct {
	ID       string
	Defaults session.Context
}

// Config tunes the manager and every session it creates.
type Config struct {
	// Command is the agent subprocess specification shared by all
	// sessions. Required.
	Command process.Spec

	// QueueCapacity, MaxLineBytes, Trailing, and the timeouts are
	// passed through to each session; zero values select the session
	// package defaults.
	QueueCapacity  int
	MaxLineBytes   int
	Trailing       jsonl.TrailingPolicy
	StartupGrace   time.Duration
	TerminateGrace time.Duration
	DrainTimeout   time.Duration

	// SessionLogDir, when set, gives every session an append-only
	// JSONL message log at <dir>/<session-id>.jsonl.
	SessionLogDir string

	// CheckpointOnTerminal stores a final checkpoint of every session
	// as it reaches a terminal state, before it leaves the map. The
	// stored snapshot is retrievable afterwards via ListCheckpoints.
	CheckpointOnTerminal bool

	// Clock drives session timeouts. Nil selects the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger

	// Sink receives transition events for all sessions. May be nil.
	Sink session.EventSink
}

// CreateConfig parameterizes one session.
type CreateConfig struct {
	// Project supplies default context, merged under Context. May be
	// nil.
	Project *Project

	// Context overrides project defaults field by field.
	Context session.Context
}

// Descriptor is the caller-visible summary of a session.
type Descriptor struct {
	ID           string        `json:"id"`
	State        session.State `json:"state"`
	Project      string        `json:"project,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// Filter selects sessions for ListSessions. Zero-value fields match
// everything.
type Filter struct {
	States  []session.State
	Project string
}

// managed pairs a session with its manager-side bookkeeping.
type managed struct {
	session *session.Session
	project string
	log     *session.LogWriter

	// mu serializes checkpointing for this session so the parent
	// chain grows linearly.
	mu             sync.Mutex
	lastCheckpoint checkpoint.Hash
}

// Manager is the session orchestrator. Safe for concurrent use.
type Manager struct {
	config     Config
	supervisor *process.Supervisor
	store      *checkpoint.Store
	clock      clock.Clock
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*managed
}

// NewManager creates a Manager over the given supervisor and store.
func NewManager(cfg Config, supervisor *process.Supervisor, store *checkpoint.Store) (*Manager, error) {
	if cfg.Command.Executable == "" {
		return nil, fmt.Errorf("steward: Command.Executable is required")
	}
	if supervisor == nil {
		return nil, fmt.Errorf("steward: supervisor is required")
	}
	if store == nil {
		return nil, fmt.Errorf("steward: checkpoint store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		config:     cfg,
		supervisor: supervisor,
		store:      store,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		sessions:   make(map[string]*managed),
	}, nil
}

// CreateSession allocates an identifier and builds a session in the
// created state. No process is spawned until Start or the first Send;
// sessions created but never driven cost nothing beyond the map entry.
func (m *Manager) CreateSession(ctx context.Context, create CreateConfig) (*session.Session, error) {
	id := "ses-" + uuid.NewString()

	sessionContext := create.Context
	projectID := ""
	if create.Project != nil {
		sessionContext = session.MergeContext(create.Project.Defaults, create.Context)
		projectID = create.Project.ID
	}

	logWriter, err := m.openSessionLog(id)
	if err != nil {
		return nil, err
	}

	s, err := session.New(session.Config{
		ID:             id,
		Command:        m.config.Command,
		Context:        sessionContext,
		Supervisor:     m.supervisor,
		QueueCapacity:  m.config.QueueCapacity,
		MaxLineBytes:   m.config.MaxLineBytes,
		Trailing:       m.config.Trailing,
		StartupGrace:   m.config.StartupGrace,
		TerminateGrace: m.config.TerminateGrace,
		DrainTimeout:   m.config.DrainTimeout,
		Clock:          m.clock,
		Logger:         m.logger,
		Sink:           session.SinkFunc(m.sessionTransition),
		Log:            logWriter,
	})
	if err != nil {
		if logWriter != nil {
			logWriter.Close()
		}
		return nil, err
	}

	m.register(&managed{session: s, project: projectID, log: logWriter})
	m.logger.Info("session created", "session_id", id, "project", projectID)
	return s, nil
}

// Session returns the live session with the given ID.
func (m *Manager) Session(id string) (*session.Session, error) {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return entry.session, nil
}

// CancelSession cancels the session with the given ID.
func (m *Manager) CancelSession(ctx context.Context, id string) error {
	s, err := m.Session(id)
	if err != nil {
		return err
	}
	return s.Cancel(ctx)
}

// ListSessions returns descriptors for live sessions matching the
// filter, a point-in-time snapshot the caller may range over freely.
func (m *Manager) ListSessions(filter Filter) []Descriptor {
	m.mu.Lock()
	entries := make([]*managed, 0, len(m.sessions))
	for _, entry := range m.sessions {
		entries = append(entries, entry)
	}
	m.mu.Unlock()

	descriptors := make([]Descriptor, 0, len(entries))
	for _, entry := range entries {
		if filter.Project != "" && entry.project != filter.Project {
			continue
		}
		state := entry.session.State()
		if len(filter.States) > 0 && !slices.Contains(filter.States, state) {
			continue
		}
		descriptors = append(descriptors, Descriptor{
			ID:           entry.session.ID(),
			State:        state,
			Project:      entry.project,
			CreatedAt:    entry.session.CreatedAt(),
			LastActivity: entry.session.LastActivity(),
		})
	}
	slices.SortFunc(descriptors, func(a, b Descriptor) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return descriptors
}

// Checkpoint snapshots the session, stores the snapshot, and returns
// its hash. Each checkpoint names the session's previous one as
// parent, so repeated checkpoints grow a chain; checkpointing an
// unchanged session deduplicates to the same hash.
func (m *Manager) Checkpoint(ctx context.Context, sessionID string) (checkpoint.Hash, error) {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return checkpoint.Hash{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	return m.checkpointEntry(ctx, entry)
}

// checkpointEntry snapshots one managed session and grows its chain.
func (m *Manager) checkpointEntry(ctx context.Context, entry *managed) (checkpoint.Hash, error) {
	sessionID := entry.session.ID()
	snapshot := entry.session.Snapshot()
	data, err := codec.Marshal(snapshot)
	if err != nil {
		return checkpoint.Hash{}, fmt.Errorf("steward: encoding snapshot of %s: %w", sessionID, err)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	hash, err := m.store.Put(ctx, data, entry.lastCheckpoint, sessionID)
	if err != nil {
		return checkpoint.Hash{}, err
	}
	entry.lastCheckpoint = hash

	m.logger.Info("session checkpointed",
		"session_id", sessionID,
		"ref", checkpoint.FormatRef(hash),
	)
	return hash, nil
}

// RestoreCheckpoint materializes a new session in the created state
// from a stored snapshot. The new session carries the snapshot's
// context, history, and ordinal counters, and its next checkpoint will
// name the restored hash as parent. The original process is never
// resumed; Start on the restored session spawns a fresh one.
func (m *Manager) RestoreCheckpoint(ctx context.Context, hash checkpoint.Hash) (*session.Session, error) {
	data, err := m.store.Restore(ctx, hash)
	if err != nil {
		return nil, err
	}

	var snapshot session.Snapshot
	if err := codec.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("steward: decoding snapshot %s: %w", checkpoint.FormatRef(hash), err)
	}

	id := "ses-" + uuid.NewString()
	logWriter, err := m.openSessionLog(id)
	if err != nil {
		return nil, err
	}

	s, err := session.NewFromSnapshot(session.Config{
		ID:             id,
		Command:        m.config.Command,
		Supervisor:     m.supervisor,
		QueueCapacity:  m.config.QueueCapacity,
		MaxLineBytes:   m.config.MaxLineBytes,
		Trailing:       m.config.Trailing,
		StartupGrace:   m.config.StartupGrace,
		TerminateGrace: m.config.TerminateGrace,
		DrainTimeout:   m.config.DrainTimeout,
		Clock:          m.clock,
		Logger:         m.logger,
		Sink:           session.SinkFunc(m.sessionTransition),
		Log:            logWriter,
	}, snapshot)
	if err != nil {
		if logWriter != nil {
			logWriter.Close()
		}
		return nil, err
	}

	m.register(&managed{session: s, log: logWriter, lastCheckpoint: hash})
	m.logger.Info("session restored",
		"session_id", id,
		"from_session", snapshot.SessionID,
		"ref", checkpoint.FormatRef(hash),
	)
	return s, nil
}

// ListCheckpoints returns the stored checkpoint records for a session
// in creation order. Works for finished sessions too: the index
// outlives the session map entry.
func (m *Manager) ListCheckpoints(ctx context.Context, sessionID string) ([]checkpoint.Record, error) {
	return m.store.ListBySession(ctx, sessionID)
}

// Shutdown cancels every live session, then has the supervisor reap
// any process still alive. Safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	entries := make([]*managed, 0, len(m.sessions))
	for _, entry := range m.sessions {
		entries = append(entries, entry)
	}
	m.mu.Unlock()

	var group sync.WaitGroup
	for _, entry := range entries {
		group.Add(1)
		go func() {
			defer group.Done()
			if err := entry.session.Cancel(ctx); err != nil {
				m.logger.Warn("cancelling session during shutdown",
					"session_id", entry.session.ID(), "error", err)
			}
		}()
	}
	group.Wait()

	grace := m.config.TerminateGrace
	if grace <= 0 {
		grace = session.DefaultTerminateGrace
	}
	return m.supervisor.Shutdown(ctx, grace)
}

// sessionTransition forwards transitions to the caller's sink and
// releases terminal sessions from the map, taking the final checkpoint
// first when configured.
func (m *Manager) sessionTransition(id string, from, to session.State) {
	if m.config.Sink != nil {
		m.config.Sink.SessionTransition(id, from, to)
	}
	if !to.Terminal() {
		return
	}
	if m.config.CheckpointOnTerminal {
		m.mu.Lock()
		entry, ok := m.sessions[id]
		m.mu.Unlock()
		if ok {
			if _, err := m.checkpointEntry(context.Background(), entry); err != nil {
				m.logger.Warn("final checkpoint failed", "session_id", id, "error", err)
			}
		}
	}
	m.release(id)
}

// release drops a terminal session from the map and closes its log.
func (m *Manager) release(id string) {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return
	}
	if entry.log != nil {
		if err := entry.log.Close(); err != nil {
			m.logger.Warn("closing session log", "session_id", id, "error", err)
		}
	}
	m.logger.Info("session released", "session_id", id)
}

func (m *Manager) register(entry *managed) {
	m.mu.Lock()
	m.sessions[entry.session.ID()] = entry
	m.mu.Unlock()
}

// openSessionLog creates the per-session JSONL log when configured.
func (m *Manager) openSessionLog(id string) (*session.LogWriter, error) {
	if m.config.SessionLogDir == "" {
		return nil, nil
	}
	path := filepath.Join(m.config.SessionLogDir, id+".jsonl")
	writer, err := session.NewLogWriter(path)
	if err != nil {
		return nil, fmt.Errorf("steward: %w", err)
	}
	return writer, nil
}
