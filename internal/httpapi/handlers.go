package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bull/docqa-server/internal/answer"
	"github.com/bull/docqa-server/internal/registry"
	"github.com/bull/docqa-server/internal/vectorindex"
)

// handleHealth reports connectivity to the registry and vector backend.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Ping(r.Context()); err != nil {
		s.logger.Error("registry unreachable", "error", err)
		s.writeError(w, http.StatusInternalServerError, "database unreachable")
		return
	}
	if err := s.index.Health(r.Context()); err != nil {
		s.logger.Error("vector backend unreachable", "error", err)
		s.writeError(w, http.StatusInternalServerError, "vector backend unreachable")
		return
	}
	s.writeMessage(w, http.StatusOK, "service healthy")
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.registry.ListUsers(r.Context())
	if err != nil {
		s.logger.Error("list users", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []registry.User{}
	}
	s.writeJSON(w, http.StatusOK, users)
}

// handleUpload accepts a multipart PDF, records it as Uploaded, and
// persists the raw bytes under the original filename. Indexing happens
// later, on a scheduler tick.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." {
		s.writeError(w, http.StatusBadRequest, "no selected file")
		return
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		s.writeError(w, http.StatusBadRequest, "invalid file type")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}

	// Record first: a duplicate name must not overwrite the bytes of the
	// already-registered file.
	uid, err := s.registry.Create(r.Context(), name)
	if errors.Is(err, registry.ErrDuplicateName) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("file %s already exists", name))
		return
	}
	if err != nil {
		s.logger.Error("create file record", "name", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to register file")
		return
	}

	if err := s.files.Write(name, data); err != nil {
		s.logger.Error("persist upload", "name", name, "error", err)
		if derr := s.registry.Delete(r.Context(), uid); derr != nil {
			s.logger.Error("rollback file record", "uid", uid, "error", derr)
		}
		s.writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	s.logger.Info("file uploaded", "name", name, "uid", uid)
	s.writeMessage(w, http.StatusOK, fmt.Sprintf("File %s uploaded successfully.", name))
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.registry.List(r.Context())
	if err != nil {
		s.logger.Error("list files", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	if len(files) == 0 {
		s.writeMessage(w, http.StatusNotFound, "No files found. Please upload a file.")
		return
	}

	type fileItem struct {
		ID     int64  `json:"id"`
		UID    string `json:"uid"`
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	items := make([]fileItem, len(files))
	for i, f := range files {
		items[i] = fileItem{ID: f.ID, UID: f.UID, Name: f.Name, Status: string(f.Status)}
	}
	s.writeJSON(w, http.StatusOK, items)
}

// handleDeleteFile removes the record and file bytes, then best-effort
// deletes the vector collection: a backend failure there is logged but
// never blocks the deletion itself.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")

	rec, err := s.registry.Get(r.Context(), uid)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.logger.Error("lookup file", "uid", uid, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to look up file")
		return
	}

	if err := s.files.Remove(rec.Name); err != nil {
		s.logger.Error("remove file bytes", "name", rec.Name, "error", err)
	}
	if err := s.registry.Delete(r.Context(), uid); err != nil {
		s.logger.Error("delete file record", "uid", uid, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete file")
		return
	}

	if err := s.index.DeleteCollection(r.Context(), uid); err != nil {
		s.logger.Warn("could not delete collection", "collection", uid, "error", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(uid)
	}

	s.logger.Info("file deleted", "name", rec.Name, "uid", uid)
	s.writeMessage(w, http.StatusOK, fmt.Sprintf("File %s deleted successfully", rec.Name))
}

type chatRequest struct {
	Question string `json:"question"`
	FileUID  string `json:"file_uid"`
}

// handleChat answers a question about one processed file. Validation
// failures are 400, an unindexed file is 404, and downstream failures
// (vector backend or model) are 500.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	result, err := s.assembler.Answer(r.Context(), req.Question, req.FileUID)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, result)
	case errors.Is(err, answer.ErrInvalid):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, vectorindex.ErrCollectionNotFound):
		s.writeError(w, http.StatusNotFound, "file not found or not yet processed")
	default:
		s.logger.Error("chat failed", "file_uid", req.FileUID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to process query")
	}
}
