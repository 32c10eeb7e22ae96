// Package postgres persists one environment's graph state to a PostgreSQL
// server, mirroring the sqlite snapshot layout while keeping transaction
// semantics in the in-memory engine.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"entitycore/internal/blob"
	"entitycore/internal/codec"
	"entitycore/internal/engine"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/entitycore?sslmode=disable"
)

// Store wraps an in-memory environment with Postgres snapshot persistence.
type Store struct {
	*engine.Environment
	db  *sql.DB
	reg *codec.Registry
	mu  sync.Mutex
}

var _ engine.Env = (*Store)(nil)

// NewStore connects to Postgres using the provided DSN (falls back to
// defaultDSN), ensures the snapshot table exists, and hydrates the
// environment for dir from any stored snapshot.
func NewStore(dsn, dir string, blobs blob.Store, reg *codec.Registry) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open(defaultDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS environment_state (
		dir TEXT PRIMARY KEY,
		payload BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM environment_state WHERE dir = $1`, s.Dir()).Scan(&payload)
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

func (s *Store) persist(ctx context.Context) error {
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
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO environment_state(dir,payload,updated_at) VALUES($1,$2,now())
		 ON CONFLICT(dir) DO UPDATE SET payload=excluded.payload, updated_at=now()`,
		s.Dir(), payload,
	); err != nil {
		return fmt.Errorf("upsert environment_state: %w", err)
	}
	return nil
}

// Update runs fn in a write transaction, then snapshots the state to Postgres
// if the transaction committed.
func (s *Store) Update(ctx context.Context, fn func(tx *engine.Txn) error) error {
	if err := s.Environment.Update(ctx, fn); err != nil {
		return err
	}
	return s.persist(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }
