package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes an archived object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads archives to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archives back.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver copies settlement records older than a cutoff to cold storage
// and returns how many were written.
type Archiver interface {
	ArchiveSettlements(ctx context.Context, before time.Time) (int64, error)
}
