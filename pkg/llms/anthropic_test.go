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

func TestAnthropicProvider_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("unexpected api key header: %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("unexpected version header: %q", got)
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		// The system prompt travels in its own field, never as a message.
		if req.System == "" {
			t.Error("expected system field to be set")
		}
		for _, m := range req.Messages {
			if m.Role != "user" && m.Role != "assistant" {
				t.Errorf("unexpected message role %q", m.Role)
			}
		}

		fmt.Fprint(w, `{
			"content": [{"type": "text", "text": "the answer"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`)
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(&AnthropicConfig{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}

	result, err := p.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "extra instructions"},
		{Role: RoleUser, Content: "question"},
	}, []string{"excerpt"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Content != "the answer" {
		t.Errorf("unexpected content: %q", result.Content)
	}
	if result.Usage == nil || result.Usage.TotalTokens != 16 {
		t.Errorf("unexpected usage: %+v", result.Usage)
	}
}

func TestAnthropicProvider_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\n")
		fmt.Fprint(w, "data: {\"type\": \"message_start\", \"message\": {\"usage\": {\"input_tokens\": 8, \"output_tokens\": 0}}}\n\n")
		fmt.Fprint(w, "data: {\"type\": \"content_block_delta\", \"delta\": {\"type\": \"text_delta\", \"text\": \"Hel\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\": \"content_block_delta\", \"delta\": {\"type\": \"text_delta\", \"text\": \"lo\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\": \"message_delta\", \"usage\": {\"output_tokens\": 2}}\n\n")
		fmt.Fprint(w, "data: {\"type\": \"message_stop\"}\n\n")
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(&AnthropicConfig{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}

	ch, err := p.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var content strings.Builder
	var finalUsage *Usage
	var doneCount int
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
	if finalUsage == nil || finalUsage.PromptTokens != 8 || finalUsage.CompletionTokens != 2 || finalUsage.TotalTokens != 10 {
		t.Errorf("unexpected final usage: %+v", finalUsage)
	}
}

func TestAnthropicProvider_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewAnthropicProvider(&AnthropicConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
