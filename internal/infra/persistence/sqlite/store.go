// Package sqlite persists one environment's graph state to an embedded
// SQLite file. The environment snapshot is written as a single JSON payload
// after every successful transaction; transaction semantics stay with the
// in-memory engine.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"entitycore/internal/blob"
	"entitycore/internal/codec"
	"entitycore/internal/engine"
)

// Store wraps an in-memory environment with SQLite snapshot persistence.
type Store struct {
	*engine.Environment
	db  *sql.DB
	reg *codec.Registry
	mu  sync.Mutex
}

var _ engine.Env = (*Store)(nil)

// NewStore opens the database file, hydrates the environment from any stored
// snapshot, and returns the persistent environment for dir. Blob payloads are
// not part of the snapshot; their durability belongs to the blob backend.
func NewStore(path, dir string, blobs blob.Store, reg *codec.Registry) (*Store, error) {
	if path == "" {
		path = "entitycore.db"
	}
	if parent := filepath.Dir(path); parent != "." {
		if err := os.MkdirAll(parent, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS environment_state (
		dir TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create environment_state table: %w", err)
	}
	if reg == nil {
		reg = codec.NewRegistry()
	}
	s := &Store{
		Environment: engine.NewEnvironment(dir, blobs),
		db:          db,
		reg:         reg,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM environment_state WHERE dir = ?`, s.Dir()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select environment_state: %w", err)
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if err := s.Environment.ImportSnapshot(s.reg, &snap); err != nil {
		return fmt.Errorf("hydrate environment %q: %w", s.Dir(), err)
	}
	return nil
}

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.Environment.ExportSnapshot(s.reg)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO environment_state(dir,payload) VALUES(?,?) ON CONFLICT(dir) DO UPDATE SET payload=excluded.payload`,
		s.Dir(), payload,
	); err != nil {
		return fmt.Errorf("upsert environment_state: %w", err)
	}
	return nil
}

// Update runs fn in a write transaction, then snapshots the state to SQLite
// if the transaction committed.
func (s *Store) Update(ctx context.Context, fn func(tx *engine.Txn) error) error {
	if err := s.Environment.Update(ctx, fn); err != nil {
		return err
	}
	return s.persist()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }
