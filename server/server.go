package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const multipartMemory = 8 << 20 // 8 MiB

// Server hosts the record and file endpoints.
type Server struct {
	config    *Config
	store     RecordStore
	blobStore BlobStore
	uploader  *Uploader
	cache     Cache
	grpcSrv   *grpc.Server
}

// NewServer creates a server backed by DynamoDB, S3 and, when configured,
// an ElastiCache record cache.
func NewServer(config *Config) (*Server, error) {
	store, err := NewDynamoDBStore(config.AWS.Region, config.AWS.DynamoDB.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB store: %v", err)
	}

	blobStore, err := NewS3BlobStore(config.AWS.Region, config.AWS.S3.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 blob store: %v", err)
	}

	// Create Redis cache or use NoOpCache if Redis is not available
	var cache Cache = &NoOpCache{}
	if config.AWS.ElastiCache.Address != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		redisCache, err := NewRedisCache(ctx, config.AWS.ElastiCache.Address, config.AWS.ElastiCache.TTL)
		if err != nil {
			log.Printf("Warning: Failed to create Redis cache: %v. Continuing with NoOpCache.", err)
		} else {
			cache = redisCache
			log.Printf("Successfully connected to Redis cache at %s", config.AWS.ElastiCache.Address)
		}
	} else {
		log.Printf("No Redis address configured. Using NoOpCache.")
	}

	// The gRPC listener carries only the stock health service; the record
	// and file surface is HTTP.
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcSrv)

	return newServerWith(config, store, blobStore, cache, grpcSrv), nil
}

// newServerWith wires explicit collaborators; tests inject memory backends here.
func newServerWith(config *Config, store RecordStore, blobStore BlobStore, cache Cache, grpcSrv *grpc.Server) *Server {
	return &Server{
		config:    config,
		store:     store,
		blobStore: blobStore,
		uploader:  NewUploader(blobStore),
		cache:     cache,
		grpcSrv:   grpcSrv,
	}
}

// Start starts the gRPC health listener and the HTTP server.
func (s *Server) Start() error {
	if s.grpcSrv != nil {
		go func() {
			addr := fmt.Sprintf(":%d", s.config.Server.GRPCPort)
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				log.Fatalf("Failed to listen on %s: %v", addr, err)
			}
			log.Printf("gRPC server listening on %s", addr)
			if err := s.grpcSrv.Serve(lis); err != nil {
				log.Fatalf("Failed to serve gRPC: %v", err)
			}
		}()
	}

	addr := fmt.Sprintf(":%d", s.config.Server.HTTPPort)
	log.Printf("HTTP server listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Stop stops the server
func (s *Server) Stop() {
	if s.grpcSrv != nil {
		s.grpcSrv.GracefulStop()
	}
	if closer, ok := s.cache.(io.Closer); ok {
		closer.Close()
	}
}

// Handler returns the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/todo/", s.handleTodo)
	mux.HandleFunc("/update/", s.handleUpdate)
	mux.HandleFunc("/delete/", s.handleDelete)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/download/", s.handleDownload)
	return mux
}

// handleHealth handles the health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// handleRoot handles create (POST /) and the list variants (GET /).
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.createTodo(w, r)
	case http.MethodGet:
		s.listTodos(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) createTodo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	todo := NewTodo(in.Name)
	entity := ToEntity(todo, s.partition(r))

	if err := s.store.Create(ctx, entity); err != nil {
		if errors.Is(err, ErrConflict) {
			http.Error(w, "record already exists", http.StatusConflict)
			return
		}
		log.Printf("Failed to create record: %v", err)
		http.Error(w, "Failed to create record", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, todo)
}

func (s *Server) listTodos(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := &Query{
		Partition:   r.URL.Query().Get("partition"),
		RowKeyAfter: r.URL.Query().Get("after"),
	}

	entities, err := s.store.List(ctx, query)
	if err != nil {
		log.Printf("Failed to list records: %v", err)
		http.Error(w, "Failed to list records", http.StatusInternalServerError)
		return
	}

	todos := make([]*Todo, 0, len(entities))
	for _, entity := range entities {
		todos = append(todos, ToTodo(entity))
	}

	writeJSON(w, http.StatusOK, todos)
}

// handleTodo handles GET /todo/{id}, serving from the cache when warm.
func (s *Server) handleTodo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := pathTail(w, r, "/todo/")
	if !ok {
		return
	}

	ctx := r.Context()
	partition := s.partition(r)

	if entity, err := s.cache.GetTodo(ctx, partition, id); err == nil {
		writeJSON(w, http.StatusOK, ToTodo(entity))
		return
	}

	entity, err := s.store.Get(ctx, partition, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "record not found", http.StatusNotFound)
			return
		}
		log.Printf("Failed to get record: %v", err)
		http.Error(w, "Failed to get record", http.StatusInternalServerError)
		return
	}

	if err := s.cache.SetTodo(ctx, entity); err != nil {
		log.Printf("Failed to cache record: %v", err)
	}

	writeJSON(w, http.StatusOK, ToTodo(entity))
}

// handleUpdate handles PUT /update/{id}?partition=P.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := pathTail(w, r, "/update/")
	if !ok {
		return
	}

	var patch TodoPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	partition := s.partition(r)

	entity, err := s.store.Update(ctx, partition, id, &patch)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "record not found", http.StatusNotFound)
		case errors.Is(err, ErrConflict):
			http.Error(w, "record was modified concurrently", http.StatusConflict)
		default:
			log.Printf("Failed to update record: %v", err)
			http.Error(w, "Failed to update record", http.StatusInternalServerError)
		}
		return
	}

	if err := s.cache.DeleteTodo(ctx, partition, id); err != nil {
		log.Printf("Failed to invalidate cache for updated record: %v", err)
	}

	writeJSON(w, http.StatusOK, ToTodo(entity))
}

// handleDelete handles DELETE /delete/{key}. A partition query parameter
// selects the record delete; without one the key names a blob.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, ok := pathTail(w, r, "/delete/")
	if !ok {
		return
	}

	ctx := r.Context()

	if r.URL.Query().Has("partition") {
		partition := s.partition(r)
		if err := s.store.Delete(ctx, partition, key); err != nil {
			if errors.Is(err, ErrNotFound) {
				http.Error(w, "record not found", http.StatusNotFound)
				return
			}
			log.Printf("Failed to delete record: %v", err)
			http.Error(w, "Failed to delete record", http.StatusInternalServerError)
			return
		}

		if err := s.cache.DeleteTodo(ctx, partition, key); err != nil {
			log.Printf("Failed to invalidate cache for deleted record: %v", err)
		}

		w.WriteHeader(http.StatusOK)
		return
	}

	removed, err := s.blobStore.Delete(ctx, key)
	if err != nil {
		log.Printf("Failed to delete blob: %v", err)
		http.Error(w, "Failed to delete blob", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, removed)
}

// handleUpload handles POST /upload with one or more multipart file parts.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.Upload.MaxBodyBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stored, err := s.uploader.UploadAll(r.Context(), r.MultipartForm)
	if err != nil {
		var uploadErr *UploadError
		if errors.As(err, &uploadErr) {
			log.Printf("Upload failed: %v", uploadErr)
			http.Error(w, uploadErr.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Failed to upload files: %v", err)
		http.Error(w, "Failed to upload files", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

// handleDownload handles GET /download/{name}, streaming the blob back.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name, ok := pathTail(w, r, "/download/")
	if !ok {
		return
	}

	reader, info, err := s.blobStore.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "blob not found", http.StatusNotFound)
			return
		}
		log.Printf("Failed to get blob: %v", err)
		http.Error(w, "Failed to get blob", http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Length))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	if _, err := io.Copy(w, reader); err != nil {
		log.Printf("Failed to write blob data: %v", err)
	}
}

// partition reads the partition selector, falling back to the configured
// default partition.
func (s *Server) partition(r *http.Request) string {
	if p := r.URL.Query().Get("partition"); p != "" {
		return p
	}
	return s.config.Records.DefaultPartition
}

// pathTail extracts the single path element after prefix, rejecting empty or
// nested paths.
func pathTail(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	tail := strings.TrimPrefix(r.URL.Path, prefix)
	if tail == "" || strings.Contains(tail, "/") {
		http.NotFound(w, r)
		return "", false
	}
	return tail, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}
