package embedders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newEmbedServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", got)
		}

		var req openAIEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Input) > maxBatchSize {
			t.Errorf("batch of %d exceeds limit %d", len(req.Input), maxBatchSize)
		}

		var resp openAIEmbedResponse
		resp.Model = req.Model
		resp.Usage = Usage{PromptTokens: len(req.Input), TotalTokens: len(req.Input)}
		// Return items in reverse order to exercise index realignment.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(i), 1}, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestEmbedder(t *testing.T, url string) *OpenAIEmbedder {
	t.Helper()
	e, err := NewOpenAIEmbedder(&OpenAIConfig{APIKey: "test-key", BaseURL: url})
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder: %v", err)
	}
	return e
}

func TestOpenAIEmbedder_EmbedMany(t *testing.T) {
	var requests atomic.Int32
	server := newEmbedServer(t, &requests)
	defer server.Close()

	e := newTestEmbedder(t, server.URL)

	texts := make([]string, 45)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}

	result, err := e.EmbedMany(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	if len(result.Vectors) != 45 {
		t.Fatalf("expected 45 vectors, got %d", len(result.Vectors))
	}
	// 45 texts at 20 per request is 3 backend calls.
	if got := requests.Load(); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
	// Usage summed across the batches.
	if result.Usage == nil || result.Usage.TotalTokens != 45 {
		t.Errorf("expected summed usage 45, got %+v", result.Usage)
	}
	// Vectors aligned with input despite reversed response order.
	for i, vec := range result.Vectors {
		want := float32(i % maxBatchSize)
		if vec[0] != want {
			t.Fatalf("vector %d misaligned: got %v, want first element %v", i, vec, want)
		}
	}
}

func TestOpenAIEmbedder_EmbedMany_Empty(t *testing.T) {
	e := newTestEmbedder(t, "http://unused.invalid")
	result, err := e.EmbedMany(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	if len(result.Vectors) != 0 {
		t.Errorf("expected no vectors, got %d", len(result.Vectors))
	}
}

func TestOpenAIEmbedder_EmbedOne(t *testing.T) {
	server := newEmbedServer(t, nil)
	defer server.Close()

	vec, err := newTestEmbedder(t, server.URL).EmbedOne(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "invalid key", "type": "auth", "code": "401"}}`)
	}))
	defer server.Close()

	_, err := newTestEmbedder(t, server.URL).EmbedOne(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError, got %T: %v", err, err)
	}
	if embErr.Provider != "openai" {
		t.Errorf("unexpected provider: %s", embErr.Provider)
	}
}

func TestOpenAIEmbedder_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewOpenAIEmbedder(&OpenAIConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestFactory(t *testing.T) {
	e, err := New("openai", map[string]any{"api_key": "k", "model": "text-embedding-3-small"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.ModelName() != "text-embedding-3-small" {
		t.Errorf("unexpected model: %s", e.ModelName())
	}
	if e.Dimension() != 1536 {
		t.Errorf("unexpected dimension: %d", e.Dimension())
	}

	if _, err := New("nope", nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
