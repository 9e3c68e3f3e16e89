package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobDeleter removes objects from object storage.
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// Archiver copies raw provider output and aged result rows to cold storage.
type Archiver interface {
	ArchiveRaw(ctx context.Context, queryID string, raw []ProviderResult) (string, error)
	// ArchiveCompleted bundles result rows older than the cutoff into cold
	// storage and prunes them from the primary store once the upload has
	// been verified.
	ArchiveCompleted(ctx context.Context, before time.Time) (int64, error)
}
