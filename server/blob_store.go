package server

import (
	"context"
	"io"
)

// BlobInfo carries the metadata returned alongside a blob read.
type BlobInfo struct {
	ContentType string
	Length      int64
}

// BlobStore defines binary object storage addressed by stored name. A put to
// an existing name overwrites it; last writer wins.
type BlobStore interface {
	// Put writes the full object under name with its content type.
	Put(ctx context.Context, name string, data io.Reader, size int64, contentType string) error

	// Get returns a readable stream plus metadata, or ErrNotFound.
	Get(ctx context.Context, name string) (io.ReadCloser, *BlobInfo, error)

	// Delete removes the object if present and reports whether anything was
	// removed. Deleting a nonexistent object is not an error.
	Delete(ctx context.Context, name string) (bool, error)

	// Exists checks for the object without transferring content.
	Exists(ctx context.Context, name string) (bool, error)
}
