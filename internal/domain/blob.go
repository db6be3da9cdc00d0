package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// FillArchiver moves raw fill payloads and settled paper records to cold
// storage for the audit trail.
type FillArchiver interface {
	ArchiveFills(ctx context.Context, day time.Time) (int64, error)
}
