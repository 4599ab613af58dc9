// Package blob stores raw uploaded files and extraction artifacts, keyed by
// tenant and object name. The filesystem backend is the default; a MinIO
// backend is available for shared deployments.
package blob

import (
	"context"
	"io"
)

// Store is tenant-partitioned object storage.
type Store interface {
	// Put writes an object, replacing any existing one with the same name.
	Put(ctx context.Context, tenantID, name string, r io.Reader) error

	// Get opens an object for reading. The caller must close the reader.
	Get(ctx context.Context, tenantID, name string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, tenantID, name string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, tenantID, name string) (bool, error)

	Close() error
}
