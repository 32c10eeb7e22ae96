package engine

import (
	"context"
	"fmt"
	"sync"

	"entitycore/internal/blob"
	"entitycore/pkg/domain"
)

// Env is the transactional surface the pipeline runs against. Persistent
// wrappers (sqlite, postgres snapshots) decorate Update while delegating the
// transaction semantics to the in-memory Environment.
type Env interface {
	Dir() string
	Update(ctx context.Context, fn func(tx *Txn) error) error
	View(ctx context.Context, fn func(tx *Txn) error) error
	Close() error
}

// Environment is one storage directory: entities, links, blob references and
// typed properties, guarded by single-writer multiple-reader semantics. All
// mutation happens through Update, which runs fn against a transactional copy
// of the state and swaps it in only on success.
type Environment struct {
	mu    sync.RWMutex
	dir   string
	blobs blob.Store
	state *state
}

var _ Env = (*Environment)(nil)

// NewEnvironment opens an in-memory environment for the given directory,
// storing blob payloads in the provided store. A nil store defaults to the
// in-memory blob backend.
func NewEnvironment(dir string, blobs blob.Store) *Environment {
	if blobs == nil {
		blobs = blob.NewMemory()
	}
	return &Environment{dir: dir, blobs: blobs, state: newState()}
}

// Dir returns the storage directory this environment is bound to.
func (e *Environment) Dir() string { return e.dir }

// Blobs exposes the blob backend for persistence wrappers.
func (e *Environment) Blobs() blob.Store { return e.blobs }

// Update runs fn inside a write transaction. The transaction state is a deep
// copy; an error from fn discards every mutation, including buffered blob
// writes. On success the state is swapped in and blob payloads are flushed to
// the backend.
func (e *Environment) Update(ctx context.Context, fn func(tx *Txn) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := &Txn{
		env:      e,
		ctx:      ctx,
		state:    e.state.clone(),
		blobPuts: make(map[string][]byte),
		blobDels: make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}
	// Payloads reach the backend before the state swap: a backend failure
	// must not leave graph mutations visible without their blobs.
	if err := tx.flushBlobs(ctx); err != nil {
		return err
	}
	e.state = tx.state
	return nil
}

// View runs fn against a read-only snapshot.
func (e *Environment) View(ctx context.Context, fn func(tx *Txn) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tx := &Txn{
		env:      e,
		ctx:      ctx,
		state:    e.state,
		readOnly: true,
	}
	return fn(tx)
}

// Close releases the environment. The in-memory implementation has nothing to
// tear down.
func (e *Environment) Close() error { return nil }

func blobKey(dir, typ string, id domain.ID, name string) string {
	return fmt.Sprintf("%s/%s/%s/%s", dir, typ, id, name)
}

// Manager lazily opens and caches one environment per storage directory.
// Facade requests addressed to different directories resolve to different
// environments and therefore to independent transactions.
type Manager struct {
	mu     sync.Mutex
	opener func(dir string) (Env, error)
	envs   map[string]Env
}

// NewManager builds a manager around an environment opener.
func NewManager(opener func(dir string) (Env, error)) *Manager {
	return &Manager{opener: opener, envs: make(map[string]Env)}
}

// Environment returns the open environment for dir, opening it on first use.
func (m *Manager) Environment(dir string) (Env, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if env, ok := m.envs[dir]; ok {
		return env, nil
	}
	env, err := m.opener(dir)
	if err != nil {
		return nil, fmt.Errorf("open environment %q: %w", dir, err)
	}
	m.envs[dir] = env
	return env, nil
}

// Close closes every open environment, returning the first error.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for dir, env := range m.envs {
		if err := env.Close(); err != nil && first == nil {
			first = fmt.Errorf("close environment %q: %w", dir, err)
		}
		delete(m.envs, dir)
	}
	return first
}
