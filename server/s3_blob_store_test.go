package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"
)

// The S3 tests run against a live bucket named by TODOSTORE_TEST_BUCKET and
// are skipped without credentials.
func testBucket(t *testing.T) string {
	if os.Getenv("AWS_ACCESS_KEY_ID") == "" || os.Getenv("AWS_SECRET_ACCESS_KEY") == "" {
		t.Skip("Skipping test: AWS credentials not available")
	}
	bucket := os.Getenv("TODOSTORE_TEST_BUCKET")
	if bucket == "" {
		t.Skip("Skipping test: TODOSTORE_TEST_BUCKET not set")
	}
	return bucket
}

func TestS3BlobStore_RoundTrip(t *testing.T) {
	bucket := testBucket(t)

	store, err := NewS3BlobStore(testRegion, bucket)
	if err != nil {
		t.Fatalf("Failed to create S3 blob store: %v", err)
	}

	ctx := context.Background()
	name := fmt.Sprintf("test-blob-%d.jpg", time.Now().UnixNano())
	data := []byte{0xff, 0xd8, 0xff, 0xe0, 0x10, 0x20}

	if err := store.Put(ctx, name, bytes.NewReader(data), int64(len(data)), "image/jpg"); err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}
	defer store.Delete(ctx, name)

	reader, info, err := store.Get(ctx, name)
	if err != nil {
		t.Fatalf("Failed to get blob: %v", err)
	}
	defer reader.Close()

	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("Failed to read blob: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Blob bytes differ: expected %v, got %v", data, got)
	}
	if info.ContentType != "image/jpg" {
		t.Errorf("Expected content type image/jpg, got %s", info.ContentType)
	}
	if info.Length != int64(len(data)) {
		t.Errorf("Expected length %d, got %d", len(data), info.Length)
	}
}

func TestS3BlobStore_DeleteIdempotent(t *testing.T) {
	bucket := testBucket(t)

	store, err := NewS3BlobStore(testRegion, bucket)
	if err != nil {
		t.Fatalf("Failed to create S3 blob store: %v", err)
	}

	ctx := context.Background()
	name := fmt.Sprintf("test-blob-%d.bin", time.Now().UnixNano())

	if err := store.Put(ctx, name, bytes.NewReader([]byte("x")), 1, "application/octet-stream"); err != nil {
		t.Fatalf("Failed to put blob: %v", err)
	}

	removed, err := store.Delete(ctx, name)
	if err != nil {
		t.Fatalf("Failed to delete blob: %v", err)
	}
	if !removed {
		t.Errorf("Expected first delete to report removal")
	}

	removed, err = store.Delete(ctx, name)
	if err != nil {
		t.Fatalf("Second delete errored: %v", err)
	}
	if removed {
		t.Errorf("Expected second delete to report nothing removed")
	}

	exists, err := store.Exists(ctx, name)
	if err != nil {
		t.Fatalf("Failed to check blob: %v", err)
	}
	if exists {
		t.Errorf("Expected blob to be gone")
	}

	_, _, err = store.Get(ctx, name)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound getting a deleted blob, got %v", err)
	}
}
