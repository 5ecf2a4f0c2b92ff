// Package httpapi exposes the upload, file management, and chat
// endpoints over JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bull/docqa-server/internal/answer"
	"github.com/bull/docqa-server/internal/filestore"
	"github.com/bull/docqa-server/internal/registry"
)

// MaxUploadBytes caps accepted upload size (16 MiB).
const MaxUploadBytes = 16 << 20

// Index is the subset of the vector index the API touches directly.
type Index interface {
	Health(ctx context.Context) error
	DeleteCollection(ctx context.Context, key string) error
}

// Answerer produces a cited answer for a question about one file.
type Answerer interface {
	Answer(ctx context.Context, question, fileUID string) (*answer.Result, error)
}

// Invalidator drops cached retrievals for a file.
type Invalidator interface {
	Invalidate(uid string)
}

// Server holds the request-path dependencies, constructed once at
// startup and shared across handlers.
type Server struct {
	registry  *registry.Store
	files     *filestore.Store
	index     Index
	cache     Invalidator
	assembler Answerer
	logger    *slog.Logger
}

// New wires the API server. cache may be nil.
func New(
	reg *registry.Store,
	files *filestore.Store,
	index Index,
	cache Invalidator,
	assembler Answerer,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry:  reg,
		files:     files,
		index:     index,
		cache:     cache,
		assembler: assembler,
		logger:    logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /users", s.handleUsers)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /files", s.handleFiles)
	mux.HandleFunc("DELETE /delete-file/{uid}", s.handleDeleteFile)
	mux.HandleFunc("POST /chat", s.handleChat)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeMessage(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"message": msg})
}
