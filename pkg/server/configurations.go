package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/granthlabs/granth/pkg/embedders"
	"github.com/granthlabs/granth/pkg/extract"
	"github.com/granthlabs/granth/pkg/llms"
	"github.com/granthlabs/granth/pkg/runtime"
	"github.com/granthlabs/granth/pkg/vector"
)

func (s *Server) handleListConfigurations(w http.ResponseWriter, r *http.Request) {
	configs, err := s.coordinator.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configurations": configs})
}

func (s *Server) handleCreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var cfg runtime.Configuration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.coordinator.Create(r.Context(), &cfg); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.coordinator.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	var patch runtime.Configuration
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg, err := s.coordinator.Update(r.Context(), chi.URLParam(r, "id"), &patch)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.coordinator.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleActivateConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.coordinator.Activate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.coordinator.SystemStatus(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type providerTestRequest struct {
	Provider string         `json:"provider"`
	Config   map[string]any `json:"config"`
}

type providerTestResponse struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func testResult(err error) providerTestResponse {
	if err != nil {
		return providerTestResponse{Connected: false, Error: err.Error()}
	}
	return providerTestResponse{Connected: true}
}

// handleTestLLM builds a transient LLM provider and probes it.
func (s *Server) handleTestLLM(w http.ResponseWriter, r *http.Request) {
	var req providerTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" {
		writeError(w, http.StatusBadRequest, "provider and config are required")
		return
	}

	provider, err := llms.New(req.Provider, req.Config)
	if err != nil {
		writeJSON(w, http.StatusOK, testResult(err))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, testResult(provider.TestConnection(ctx)))
}

// handleTestVector builds a transient vector provider and probes it.
func (s *Server) handleTestVector(w http.ResponseWriter, r *http.Request) {
	var req providerTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" {
		writeError(w, http.StatusBadRequest, "provider and config are required")
		return
	}

	provider, err := vector.New(req.Provider, req.Config)
	if err != nil {
		writeJSON(w, http.StatusOK, testResult(err))
		return
	}
	defer provider.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, testResult(provider.TestConnection(ctx)))
}

// handleTestEmbedding builds a transient embedder and probes it.
func (s *Server) handleTestEmbedding(w http.ResponseWriter, r *http.Request) {
	var req providerTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" {
		writeError(w, http.StatusBadRequest, "provider and config are required")
		return
	}

	embedder, err := embedders.New(req.Provider, req.Config)
	if err != nil {
		writeJSON(w, http.StatusOK, testResult(err))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, testResult(embedder.TestConnection(ctx)))
}

// handleTestOCR runs the OCR engine standalone over one uploaded file and
// reports what it saw.
func (s *Server) handleTestOCR(w http.ResponseWriter, r *http.Request) {
	if s.ocr == nil || !s.ocr.Available() {
		writeError(w, http.StatusBadRequest, "OCR engine is not available")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "a single file upload is required")
		return
	}
	defer file.Close()

	tmpPath := filepath.Join(os.TempDir(), uuid.NewString()+"_"+header.Filename)
	dst, err := os.Create(tmpPath)
	if err != nil {
		respondError(w, err)
		return
	}
	defer os.Remove(tmpPath)
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		respondError(w, err)
		return
	}
	dst.Close()

	pages, err := s.ocr.ExtractPages(r.Context(), tmpPath)
	if err != nil {
		respondError(w, err)
		return
	}

	var text string
	for _, p := range pages {
		text += p.Text
	}
	language, _ := extract.DetectLanguage(text)
	version, _ := s.ocr.Version(r.Context())

	pageStats := make([]map[string]any, len(pages))
	for i, p := range pages {
		pageStats[i] = map[string]any{
			"page":       p.Page,
			"confidence": p.Confidence,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"textLength":       len(text),
		"pages":            pageStats,
		"language":         language,
		"tesseractVersion": version,
	})
}
