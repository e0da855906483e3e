package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/granthlabs/granth/pkg/llms"
	"github.com/granthlabs/granth/pkg/pipeline"
	"github.com/granthlabs/granth/pkg/session"
)

type chatRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"sessionId,omitempty"`
	History   []llms.Message `json:"history,omitempty"`
}

func (s *Server) decodeChatRequest(r *http.Request) (*chatRequest, error) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Message == "" {
		return nil, fmt.Errorf("message is required")
	}

	// A session id without explicit history pulls the stored
	// conversation.
	if req.SessionID != "" && len(req.History) == 0 {
		stored, err := s.sessions.History(r.Context(), req.SessionID)
		if err != nil {
			return nil, err
		}
		for _, m := range stored {
			req.History = append(req.History, llms.Message{Role: m.Role, Content: m.Content})
		}
	}
	return &req, nil
}

func (s *Server) persistExchange(r *http.Request, sessionID, question, answer string) {
	if sessionID == "" {
		return
	}
	ctx := r.Context()
	if err := s.sessions.Append(ctx, sessionID, session.Message{Role: string(llms.RoleUser), Content: question}); err != nil {
		slog.Warn("Failed to persist user message", "sessionId", sessionID, "error", err)
		return
	}
	if answer == "" {
		return
	}
	if err := s.sessions.Append(ctx, sessionID, session.Message{Role: string(llms.RoleAssistant), Content: answer}); err != nil {
		slog.Warn("Failed to persist assistant message", "sessionId", sessionID, "error", err)
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	active, err := s.coordinator.GetActivePipeline(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	result, err := active.Query.Query(r.Context(), req.Message, req.History)
	if err != nil {
		respondError(w, err)
		return
	}

	s.persistExchange(r, req.SessionID, req.Message, result.Content)
	writeJSON(w, http.StatusOK, result)
}

// handleChatStream answers over SSE: one sources frame, content frames,
// then a done frame. Failures after the stream starts arrive as a single
// terminal error frame.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	active, err := s.coordinator.GetActivePipeline(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	frames, err := active.Query.QueryStream(r.Context(), req.Message, req.History)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var answer string
	for frame := range frames {
		if frame.Type == pipeline.FrameContent {
			answer += frame.Content
		}
		data, err := json.Marshal(frame)
		if err != nil {
			slog.Warn("Failed to encode stream frame", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}

	s.persistExchange(r, req.SessionID, req.Message, answer)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messages, err := s.sessions.History(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": id, "messages": messages})
}
