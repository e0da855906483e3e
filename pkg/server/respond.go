package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/granthlabs/granth/pkg/embedders"
	"github.com/granthlabs/granth/pkg/llms"
	"github.com/granthlabs/granth/pkg/registry"
	"github.com/granthlabs/granth/pkg/runtime"
	"github.com/granthlabs/granth/pkg/vector"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// respondError maps the error taxonomy onto status codes: unknown ids to
// 404, invalid input to 400, missing active configuration to 409,
// provider failures to 502, everything else to 500.
func respondError(w http.ResponseWriter, err error) {
	var (
		docNotFound *registry.NotFoundError
		cfgNotFound *runtime.ConfigNotFoundError
		noActive    *runtime.NoActiveConfigurationError
		cfgErr      *runtime.ConfigurationError
		llmErr      *llms.LLMError
		embedErr    *embedders.EmbeddingError
		vectorErr   *vector.VectorStoreError
	)

	switch {
	case errors.As(err, &docNotFound), errors.As(err, &cfgNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &noActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &llmErr), errors.As(err, &embedErr), errors.As(err, &vectorErr):
		slog.Error("Provider failure", "error", err)
		writeError(w, http.StatusBadGateway, "upstream provider failure")
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
