package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/granthlabs/granth/pkg/pipeline"
	"github.com/granthlabs/granth/pkg/registry"
)

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.registry.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleUpload accepts a multipart batch, registers each file as Pending
// and kicks off background indexing. The entries are returned
// immediately.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	active, err := s.coordinator.GetActivePipeline(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	maxFiles := s.config.Uploads.MaxFiles
	maxSize := s.config.Uploads.MaxFileSize

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files in request")
		return
	}
	if len(files) > maxFiles {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("too many files: %d (limit %d)", len(files), maxFiles))
		return
	}

	for _, fh := range files {
		if !pipeline.SupportedUploadExtensions[pipeline.ExtensionOf(fh.Filename)] {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("unsupported file type: %s", fh.Filename))
			return
		}
		if fh.Size > maxSize {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("file too large: %s (limit %d bytes)", fh.Filename, maxSize))
			return
		}
	}

	if err := os.MkdirAll(s.config.Uploads.Dir, 0o755); err != nil {
		respondError(w, err)
		return
	}

	docs := make([]*registry.Document, 0, len(files))
	for _, fh := range files {
		id := uuid.NewString()
		ext := pipeline.ExtensionOf(fh.Filename)
		storagePath := filepath.Join(s.config.Uploads.Dir, id+"."+ext)

		if err := saveUpload(fh, storagePath); err != nil {
			respondError(w, err)
			return
		}

		doc := &registry.Document{
			ID:          id,
			Filename:    fh.Filename,
			Extension:   ext,
			Size:        fh.Size,
			StoragePath: storagePath,
			Status:      registry.StatusPending,
			UploadedAt:  time.Now().UTC(),
		}
		if err := s.registry.Create(r.Context(), doc); err != nil {
			respondError(w, err)
			return
		}
		docs = append(docs, doc)
	}

	go func() {
		result := active.Processor.ProcessSequentially(context.Background(), docs, nil)
		slog.Info("Upload batch processed",
			"processed", result.Processed, "failed", result.Failed)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"documents": docs})
}

func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, err := s.registry.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	if active, err := s.coordinator.GetActivePipeline(r.Context()); err == nil {
		if err := active.Processor.DeleteDocumentChunks(r.Context(), id); err != nil {
			respondError(w, err)
			return
		}
	}

	if doc.StoragePath != "" {
		if err := os.Remove(doc.StoragePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove upload file", "path", doc.StoragePath, "error", err)
		}
	}
	if err := s.registry.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleReindexDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, err := s.registry.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	active, err := s.coordinator.GetActivePipeline(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	if err := active.Processor.DeleteDocumentChunks(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	if _, err := active.Processor.Process(r.Context(), doc, pipeline.DefaultOptions()); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	active, err := s.coordinator.GetActivePipeline(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if err := active.Processor.ClearAllDocuments(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	if err := s.registry.ClearAll(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
