// Package blob abstracts the byte-stream backends that hold entity blob
// payloads. Keys are slash-separated paths of the form
// dir/entityType/entityID/blobName; semantics mirror a minimal subset of S3
// so the S3 adapter stays nearly 1:1 while filesystem and memory adapters
// emulate them.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Driver identifies a concrete blob storage backend.
type Driver string

// Supported blob drivers.
const (
	DriverMemory     Driver = "memory" // in-memory (tests, ephemeral)
	DriverFilesystem Driver = "fs"     // local filesystem (default)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored blob payload.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is the interface blob backends implement.
type Store interface {
	// Put stores a new blob at key and fails if the key already exists.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get retrieves payload and metadata. Missing keys yield an
	// os.ErrNotExist style error.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	// Head returns metadata only.
	Head(ctx context.Context, key string) (Info, error)
	// Delete removes a blob, reporting (false, nil) when absent.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns blobs under the key prefix, ordered by key ascending.
	List(ctx context.Context, prefix string) ([]Info, error)
	// Driver identifies the backend.
	Driver() Driver
}

// ErrExists is returned by Put when the key is already present.
var ErrExists = errors.New("blob: key already exists")

// NotFound wraps a missing key error in os.ErrNotExist style.
func NotFound(key string) error {
	return fmt.Errorf("blob %s: %w", key, os.ErrNotExist)
}

// Open selects a Store implementation using environment variables.
//
//	ENTITYCORE_BLOB_DRIVER: memory|fs|s3 (default fs)
//	ENTITYCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in s3.go)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("ENTITYCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("ENTITYCORE_BLOB_FS_ROOT"))
	case DriverS3:
		return OpenS3FromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
