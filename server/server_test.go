package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *MemoryStore, *MemoryBlobStore) {
	t.Helper()

	config := &Config{}
	config.applyDefaults()

	store := NewMemoryStore()
	blobs := NewMemoryBlobStore()
	return newServerWith(config, store, blobs, &NoOpCache{}, nil), store, blobs
}

func doJSON(t *testing.T, srv *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_CreateThenList(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/", map[string]string{"name": "ship release"})
	require.Equal(t, http.StatusOK, rec.Code)

	var created Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.False(t, created.CreatedTime.IsZero())
	require.Equal(t, "ship release", created.Name)

	rec = doJSON(t, srv, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var todos []*Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &todos))
	require.Len(t, todos, 1)
	require.Equal(t, created.ID, todos[0].ID)
}

func TestServer_CreateRequiresName(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/", map[string]string{"name": "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListByPartition(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, store.Create(ctx, newEntity("A", fmt.Sprintf("a%d", i), "in-a")))
	}
	require.NoError(t, store.Create(ctx, newEntity("B", "b0", "in-b")))

	rec := doJSON(t, srv, http.MethodGet, "/?partition=A", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var todos []*Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &todos))
	require.Len(t, todos, 2)
	for _, todo := range todos {
		require.Equal(t, "in-a", todo.Name)
	}
}

func TestServer_ListCompoundFilter(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()

	for _, rowKey := range []string{"s", "t", "u"} {
		require.NoError(t, store.Create(ctx, newEntity("TODO", rowKey, "x")))
	}

	rec := doJSON(t, srv, http.MethodGet, "/?partition=TODO&after=t", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var todos []*Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &todos))
	require.Len(t, todos, 1)
	require.Equal(t, "u", todos[0].ID)
}

func TestServer_GetTodo(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newEntity("TODO", "r1", "hello")))

	rec := doJSON(t, srv, http.MethodGet, "/todo/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var todo Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &todo))
	require.Equal(t, "r1", todo.ID)
	require.Equal(t, "hello", todo.Name)

	rec = doJSON(t, srv, http.MethodGet, "/todo/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_UpdatePartialMerge(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newEntity("TODO", "r1", "Alice")))

	rec := doJSON(t, srv, http.MethodPut, "/update/r1?partition=TODO",
		map[string]interface{}{"nombre": "", "isCompleted": true})
	require.Equal(t, http.StatusOK, rec.Code)

	var todo Todo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &todo))
	require.Equal(t, "Alice", todo.Name)
	require.True(t, todo.IsCompleted)
}

func TestServer_UpdateNotFound(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPut, "/update/ghost?partition=TODO",
		map[string]interface{}{"nombre": "x", "isCompleted": false})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// No row created as a side effect
	_, err := store.Get(context.Background(), "TODO", "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestServer_DeleteRecord(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newEntity("TODO", "r1", "x")))

	rec := doJSON(t, srv, http.MethodDelete, "/delete/r1?partition=TODO", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/delete/r1?partition=TODO", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DeleteBlob(t *testing.T) {
	srv, _, blobs := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, blobs.Put(ctx, "stored.bin", bytes.NewReader([]byte("x")), 1, "application/octet-stream"))

	// Without a partition parameter the key names a blob
	rec := doJSON(t, srv, http.MethodDelete, "/delete/stored.bin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "true\n", rec.Body.String())

	rec = doJSON(t, srv, http.MethodDelete, "/delete/stored.bin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "false\n", rec.Body.String())
}

func TestServer_UploadThenDownload(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files", "report.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("quarterly numbers"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var stored []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	require.Len(t, stored, 1)
	require.True(t, strings.HasPrefix(stored[0], "/download/"))

	rec = doJSON(t, srv, http.MethodGet, stored[0], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "quarterly numbers", rec.Body.String())
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
}

func TestServer_UploadFailureNamesFile(t *testing.T) {
	config := &Config{}
	config.applyDefaults()
	blobs := &flakyBlobStore{MemoryBlobStore: NewMemoryBlobStore(), allowed: 0}
	srv := newServerWith(config, NewMemoryStore(), blobs, &NoOpCache{}, nil)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files", "doomed.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "doomed.png")
}

func TestServer_DownloadNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/download/nope.bin", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPut, "/upload", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/download/x", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_Health(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}
