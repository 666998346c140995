package server

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"mime/multipart"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const defaultContentType = "application/octet-stream"

// Uploader writes multipart file parts through a BlobStore under generated
// stored names.
type Uploader struct {
	blobs BlobStore
}

// NewUploader creates an upload pipeline over the given blob store.
func NewUploader(blobs BlobStore) *Uploader {
	return &Uploader{blobs: blobs}
}

// UploadError reports the file part that failed. Stored holds the addresses
// written before the failure; those objects are not rolled back, so a caller
// that wants all-or-nothing can issue compensating deletes.
type UploadError struct {
	Filename string
	Stored   []string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to store file %q: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// UploadAll stores every file part of the form and returns their download
// addresses. Parts are processed sequentially; the first failure aborts the
// rest of the batch.
func (u *Uploader) UploadAll(ctx context.Context, form *multipart.Form) ([]string, error) {
	fields := make([]string, 0, len(form.File))
	for field := range form.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	stored := []string{}
	for _, field := range fields {
		for _, header := range form.File[field] {
			addr, err := u.uploadOne(ctx, header)
			if err != nil {
				return nil, &UploadError{Filename: header.Filename, Stored: stored, Err: err}
			}
			stored = append(stored, addr)
		}
	}

	return stored, nil
}

func (u *Uploader) uploadOne(ctx context.Context, header *multipart.FileHeader) (string, error) {
	file, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file part: %v", err)
	}
	defer file.Close()

	name := storedName(header.Filename)

	buffered := bufio.NewReader(file)
	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == defaultContentType {
		peek, _ := buffered.Peek(512)
		contentType = http.DetectContentType(peek)
	}

	if err := u.blobs.Put(ctx, name, buffered, header.Size, contentType); err != nil {
		return "", err
	}

	return "/download/" + name, nil
}

// storedName builds a fresh blob name. Only the extension of the original
// filename survives; the rest is a random identifier, so untrusted filenames
// never reach storage.
func storedName(original string) string {
	id := uuid.New()
	name := hex.EncodeToString(id[:])
	if ext := fileExtension(original); ext != "" {
		name += "." + ext
	}
	return name
}

// fileExtension returns the substring after the last dot, with quoting
// artifacts some clients leave around the filename stripped.
func fileExtension(filename string) string {
	trimmed := strings.Trim(strings.TrimSpace(filename), `"'`)
	return strings.TrimPrefix(path.Ext(trimmed), ".")
}
