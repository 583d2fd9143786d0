// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/steward/lib/clock"
	"github.com/bureau-foundation/steward/lib/sqlitepool"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	hash        TEXT PRIMARY KEY,
	parent      TEXT NOT NULL DEFAULT '',
	session_id  TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	compression TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS checkpoints_session ON checkpoints(session_id, created_at);
CREATE INDEX IF NOT EXISTS checkpoints_parent ON checkpoints(parent);
`

// Config holds the parameters for opening a Store.
type Config struct {
	// Root is the store directory. Created if absent. Blobs live under
	// Root/objects, the index at Root/index.db.
	Root string

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger

	// Clock supplies created_at timestamps. Nil selects the real clock.
	Clock clock.Clock

	// Compression selects the blob compression mode: "auto" (probe per
	// snapshot), "zstd", "lz4", or "none". Empty selects auto.
	Compression string
}

// Record is one index row, returned by listing queries.
type Record struct {
	Hash        Hash
	Parent      Hash
	SessionID   string
	CreatedAt   time.Time
	Size        int64
	Compression Compression
}

// Store is the content-addressed checkpoint store: compressed snapshot
// blobs on disk plus a SQLite index of parent links and session
// attribution. Safe for concurrent use; identical concurrent Puts
// deduplicate to one row and one blob.
type Store struct {
	root     string
	pool     *sqlitepool.Pool
	clock    clock.Clock
	logger   *slog.Logger
	compress func([]byte) ([]byte, Compression)
}

// Open creates or opens the store rooted at cfg.Root.
func Open(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("checkpoint: Root is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	compress, err := compressorFor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(cfg.Root, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: creating store directory: %w", err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(cfg.Root, "index.db"),
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, indexSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: opening index: %w", err)
	}

	return &Store{
		root:     cfg.Root,
		pool:     pool,
		clock:    clk,
		logger:   logger,
		compress: compress,
	}, nil
}

// Close closes the index pool. Blob files need no teardown.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Put stores a snapshot and returns its hash. Storing bytes the store
// already holds writes nothing and returns the existing hash: Put is
// idempotent and safe to race from multiple sessions. A parent that is
// not (yet) stored is accepted; Chain and Restore fail on the gap
// until the parent arrives.
func (s *Store) Put(ctx context.Context, snapshot []byte, parent Hash, sessionID string) (Hash, error) {
	hash := HashSnapshot(snapshot)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Hash{}, err
	}
	defer s.pool.Put(conn)

	exists, err := rowExists(conn, hash)
	if err != nil {
		return Hash{}, err
	}
	if exists {
		return hash, nil
	}

	blob, tag := s.compress(snapshot)
	if err := s.writeBlob(hash, blob); err != nil {
		return Hash{}, err
	}

	parentText := ""
	if !parent.IsZero() {
		parentText = FormatHash(parent)
	}

	// OR IGNORE makes the racing-identical-Put case a no-op: both
	// writers rename an identical blob into place and one row wins.
	err = sqlitex.Execute(conn,
		`INSERT OR IGNORE INTO checkpoints (hash, parent, session_id, created_at, size, compression)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				FormatHash(hash), parentText, sessionID,
				s.clock.Now().UnixNano(), int64(len(snapshot)), tag.String(),
			},
		})
	if err != nil {
		return Hash{}, fmt.Errorf("checkpoint: indexing %s: %w", FormatRef(hash), err)
	}

	s.logger.Info("checkpoint stored",
		"ref", FormatRef(hash),
		"session_id", sessionID,
		"size", len(snapshot),
		"compression", tag.String(),
	)
	return hash, nil
}

// Get returns the snapshot bytes for hash. The decompressed bytes are
// re-hashed before returning; a mismatch is an *IntegrityError.
func (s *Store) Get(ctx context.Context, hash Hash) ([]byte, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	record, err := lookupRecord(conn, hash)
	s.pool.Put(conn)
	if err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: reading blob for %s: %w", FormatRef(hash), err)
	}

	snapshot, err := decompress(blob, record.Compression, int(record.Size))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: decompressing %s: %w", FormatRef(hash), err)
	}

	if actual := HashSnapshot(snapshot); actual != hash {
		return nil, &IntegrityError{Expected: hash, Actual: actual}
	}
	return snapshot, nil
}

// Stat returns the index record for hash without touching the blob.
func (s *Store) Stat(ctx context.Context, hash Hash) (Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Record{}, err
	}
	defer s.pool.Put(conn)
	return lookupRecord(conn, hash)
}

// Chain returns the full ancestry of hash, oldest first, ending with
// hash itself. A missing ancestor or a loop in the parent links is a
// *CorruptChainError; the walk never loops.
func (s *Store) Chain(ctx context.Context, hash Hash) ([]Hash, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var newestFirst []Hash
	visited := make(map[Hash]struct{})

	current := hash
	for {
		if _, seen := visited[current]; seen {
			return nil, &CorruptChainError{Hash: hash, Cycle: true}
		}
		visited[current] = struct{}{}

		record, err := lookupRecord(conn, current)
		if err != nil {
			var notFound *NotFoundError
			if errors.As(err, &notFound) && current != hash {
				return nil, &CorruptChainError{Hash: hash, Missing: current}
			}
			return nil, err
		}
		newestFirst = append(newestFirst, current)

		if record.Parent.IsZero() {
			break
		}
		current = record.Parent
	}

	// Reverse to oldest-first.
	chain := make([]Hash, len(newestFirst))
	for i, h := range newestFirst {
		chain[len(chain)-1-i] = h
	}
	return chain, nil
}

// Restore returns the snapshot bytes for hash after verifying that its
// entire ancestry is present and acyclic. Checkpoints are full
// snapshots, so only the target's bytes are returned; the chain walk
// exists to refuse restoring on top of a provably damaged history.
func (s *Store) Restore(ctx context.Context, hash Hash) ([]byte, error) {
	if _, err := s.Chain(ctx, hash); err != nil {
		return nil, err
	}
	return s.Get(ctx, hash)
}

// Delete removes a checkpoint that nothing references. Deleting a hash
// that any other checkpoint names as parent is refused, so chains
// never acquire gaps through the API.
func (s *Store) Delete(ctx context.Context, hash Hash) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	exists, err := rowExists(conn, hash)
	if err != nil {
		return err
	}
	if !exists {
		return &NotFoundError{Hash: hash}
	}

	var children int64
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM checkpoints WHERE parent = ?", &sqlitex.ExecOptions{
		Args: []any{FormatHash(hash)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			children = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("checkpoint: counting children of %s: %w", FormatRef(hash), err)
	}
	if children > 0 {
		return fmt.Errorf("checkpoint: %s is the parent of %d checkpoints, refusing to delete",
			FormatRef(hash), children)
	}

	err = sqlitex.Execute(conn, "DELETE FROM checkpoints WHERE hash = ?", &sqlitex.ExecOptions{
		Args: []any{FormatHash(hash)},
	})
	if err != nil {
		return fmt.Errorf("checkpoint: deleting %s: %w", FormatRef(hash), err)
	}

	if err := os.Remove(s.blobPath(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: removing blob for %s: %w", FormatRef(hash), err)
	}

	s.logger.Info("checkpoint deleted", "ref", FormatRef(hash))
	return nil
}

// ListBySession returns the records for one session in creation order.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn,
		`SELECT hash, parent, session_id, created_at, size, compression
		 FROM checkpoints WHERE session_id = ? ORDER BY created_at, hash`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: listing session %s: %w", sessionID, err)
	}
	return records, nil
}

// blobPath returns the on-disk path for a hash, fanned out by the
// first byte to keep directories small.
func (s *Store) blobPath(hash Hash) string {
	hexString := FormatHash(hash)
	return filepath.Join(s.root, "objects", hexString[:2], hexString)
}

// writeBlob writes blob bytes for hash atomically: temp file in the
// objects directory, sync, rename into place. A concurrent writer of
// the same hash renames identical bytes; either rename winning is
// correct.
func (s *Store) writeBlob(hash Hash, blob []byte) error {
	target := s.blobPath(hash)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("checkpoint: creating blob directory: %w", err)
	}

	temp, err := os.CreateTemp(filepath.Join(s.root, "objects"), "tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: creating temp blob: %w", err)
	}
	tempName := temp.Name()

	if _, err := temp.Write(blob); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("checkpoint: writing blob for %s: %w", FormatRef(hash), err)
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("checkpoint: syncing blob for %s: %w", FormatRef(hash), err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("checkpoint: closing blob for %s: %w", FormatRef(hash), err)
	}
	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("checkpoint: publishing blob for %s: %w", FormatRef(hash), err)
	}
	return nil
}

// rowExists reports whether the index holds a row for hash.
func rowExists(conn *sqlite.Conn, hash Hash) (bool, error) {
	var exists bool
	err := sqlitex.Execute(conn, "SELECT 1 FROM checkpoints WHERE hash = ?", &sqlitex.ExecOptions{
		Args: []any{FormatHash(hash)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("checkpoint: looking up %s: %w", FormatRef(hash), err)
	}
	return exists, nil
}

// lookupRecord fetches the index row for hash.
func lookupRecord(conn *sqlite.Conn, hash Hash) (Record, error) {
	var record Record
	found := false
	err := sqlitex.Execute(conn,
		`SELECT hash, parent, session_id, created_at, size, compression
		 FROM checkpoints WHERE hash = ?`,
		&sqlitex.ExecOptions{
			Args: []any{FormatHash(hash)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				r, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				record = r
				found = true
				return nil
			},
		})
	if err != nil {
		return Record{}, fmt.Errorf("checkpoint: looking up %s: %w", FormatRef(hash), err)
	}
	if !found {
		return Record{}, &NotFoundError{Hash: hash}
	}
	return record, nil
}

// scanRecord decodes one index row.
func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	hash, err := ParseHash(stmt.ColumnText(0))
	if err != nil {
		return Record{}, fmt.Errorf("corrupt index row: %w", err)
	}

	var parent Hash
	if parentText := stmt.ColumnText(1); parentText != "" {
		parent, err = ParseHash(parentText)
		if err != nil {
			return Record{}, fmt.Errorf("corrupt index row: %w", err)
		}
	}

	compression, err := ParseCompression(stmt.ColumnText(5))
	if err != nil {
		return Record{}, fmt.Errorf("corrupt index row: %w", err)
	}

	return Record{
		Hash:        hash,
		Parent:      parent,
		SessionID:   stmt.ColumnText(2),
		CreatedAt:   time.Unix(0, stmt.ColumnInt64(3)).UTC(),
		Size:        stmt.ColumnInt64(4),
		Compression: compression,
	}, nil
}
