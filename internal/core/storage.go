package core

import (
	"context"
	"fmt"
	"os"

	"entitycore/internal/blob"
	"entitycore/internal/codec"
	"entitycore/internal/engine"
	"entitycore/internal/infra/persistence/postgres"
	"entitycore/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenEnvironments selects a storage backend using environment variables and
// returns a manager that lazily opens one environment per storage directory.
// Defaults to sqlite when unset.
//
//	ENTITYCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ENTITYCORE_SQLITE_PATH: path to sqlite file (default ./entitycore.db)
//	ENTITYCORE_POSTGRES_DSN: postgres DSN when driver=postgres
//
// Blob payloads go to the backend selected by the ENTITYCORE_BLOB_* variables
// regardless of the graph driver.
func OpenEnvironments(ctx context.Context) (*engine.Manager, error) {
	blobs, err := blob.Open(ctx)
	if err != nil {
		return nil, err
	}
	reg := codec.NewRegistry()

	driver := os.Getenv("ENTITYCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return engine.NewManager(func(dir string) (engine.Env, error) {
			return engine.NewEnvironment(dir, blobs), nil
		}), nil
	case StorageSQLite:
		path := os.Getenv("ENTITYCORE_SQLITE_PATH")
		return engine.NewManager(func(dir string) (engine.Env, error) {
			return sqlite.NewStore(path, dir, blobs, reg)
		}), nil
	case StoragePostgres:
		dsn := os.Getenv("ENTITYCORE_POSTGRES_DSN")
		return engine.NewManager(func(dir string) (engine.Env, error) {
			return postgres.NewStore(dsn, dir, blobs, reg)
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// NewMemoryManager is the all-in-memory wiring used by tests and ephemeral
// deployments: one in-memory environment per directory, all sharing one
// in-memory blob store.
func NewMemoryManager() *engine.Manager {
	blobs := blob.NewMemory()
	return engine.NewManager(func(dir string) (engine.Env, error) {
		return engine.NewEnvironment(dir, blobs), nil
	})
}
