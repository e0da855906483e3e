// Package server exposes the document and chat API over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/granthlabs/granth/pkg/config"
	"github.com/granthlabs/granth/pkg/extract"
	"github.com/granthlabs/granth/pkg/registry"
	"github.com/granthlabs/granth/pkg/runtime"
	"github.com/granthlabs/granth/pkg/session"
)

const shutdownTimeout = 10 * time.Second

// Server wires the HTTP surface over the coordinator, registry and
// session store.
type Server struct {
	config      *config.Config
	coordinator *runtime.Coordinator
	registry    registry.Registry
	sessions    session.Store
	ocr         *extract.OCREngine

	router     chi.Router
	httpServer *http.Server
}

// New builds the server and its routes.
func New(cfg *config.Config, coord *runtime.Coordinator, reg registry.Registry, sessions session.Store, ocr *extract.OCREngine) *Server {
	s := &Server{
		config:      cfg,
		coordinator: coord,
		registry:    reg,
		sessions:    sessions,
		ocr:         ocr,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: s.router,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/documents", func(r chi.Router) {
		r.Get("/", s.handleListDocuments)
		r.Post("/upload", s.handleUpload)
		r.Post("/clear-all", s.handleClearAll)
		r.Delete("/{id}", s.handleDeleteDocument)
		r.Post("/{id}/reindex", s.handleReindexDocument)
	})

	r.Post("/chat", s.handleChat)
	r.Post("/chat/stream", s.handleChatStream)
	r.Get("/sessions/{id}/messages", s.handleSessionMessages)

	r.Route("/configurations", func(r chi.Router) {
		r.Get("/", s.handleListConfigurations)
		r.Post("/", s.handleCreateConfiguration)
		r.Get("/{id}", s.handleGetConfiguration)
		r.Put("/{id}", s.handleUpdateConfiguration)
		r.Delete("/{id}", s.handleDeleteConfiguration)
		r.Post("/{id}/activate", s.handleActivateConfiguration)
	})

	r.Get("/system/status", s.handleSystemStatus)
	r.Post("/test/llm", s.handleTestLLM)
	r.Post("/test/vector", s.handleTestVector)
	r.Post("/test/embedding", s.handleTestEmbedding)
	r.Post("/test/ocr", s.handleTestOCR)

	return r
}

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
