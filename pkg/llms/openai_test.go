package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildSystemPrompt_NoContext(t *testing.T) {
	got := BuildSystemPrompt(nil)
	want := "You are an AI assistant that helps people find information."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildSystemPrompt_WithContext(t *testing.T) {
	got := BuildSystemPrompt([]string{"first excerpt", "second excerpt"})
	if !strings.Contains(got, "Context:\nfirst excerpt\n\nsecond excerpt") {
		t.Errorf("context not joined correctly:\n%s", got)
	}
	if !strings.Contains(got, "If the information is not") {
		t.Errorf("missing context instructions:\n%s", got)
	}
}

func TestOpenAIProvider_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		if len(req.Messages) == 0 || req.Messages[0].Role != RoleSystem {
			t.Error("expected system message first")
		}
		if !strings.Contains(req.Messages[0].Content, "retrieved excerpt") {
			t.Error("context missing from system prompt")
		}

		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "the answer"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(&OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	result, err := p.Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "question"}},
		[]string{"retrieved excerpt"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Content != "the answer" {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if result.Usage == nil || result.Usage.TotalTokens != 15 {
		t.Errorf("unexpected usage: %+v", result.Usage)
	}
}

func TestOpenAIProvider_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream || req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Error("expected streaming request with usage")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\": [], \"usage\": {\"prompt_tokens\": 7, \"completion_tokens\": 2, \"total_tokens\": 9}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(&OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	ch, err := p.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var content strings.Builder
	var doneCount int
	var finalUsage *Usage
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		if chunk.Done {
			doneCount++
			finalUsage = chunk.Usage
			continue
		}
		content.WriteString(chunk.Content)
	}

	if content.String() != "Hello" {
		t.Errorf("unexpected content: %q", content.String())
	}
	if doneCount != 1 {
		t.Errorf("expected exactly one done chunk, got %d", doneCount)
	}
	if finalUsage == nil || finalUsage.TotalTokens != 9 {
		t.Errorf("unexpected final usage: %+v", finalUsage)
	}
}

func TestOpenAIProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "bad model", "type": "invalid_request_error", "code": "model_not_found"}}`)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(&OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}

	_, err = p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "bad model") {
		t.Errorf("error should carry API message: %v", err)
	}
}

func TestOpenAIProvider_Defaults(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "")
	cfg := &OpenAIConfig{APIKey: "k"}
	p, err := NewOpenAIProvider(cfg)
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	if p.ModelName() != "gpt-4o" {
		t.Errorf("unexpected default model: %s", p.ModelName())
	}
	if cfg.Temperature != defaultTemperature || cfg.TopP != defaultTopP || cfg.MaxTokens != defaultMaxTokens {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestFactory_UnknownKind(t *testing.T) {
	if _, err := New("nope", nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestFactory_Openai(t *testing.T) {
	p, err := New("openai", map[string]any{"api_key": "k", "model": "gpt-4o-mini", "temperature": "0.2"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelName() != "gpt-4o-mini" {
		t.Errorf("unexpected model: %s", p.ModelName())
	}
}
