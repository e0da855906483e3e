package pipeline

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/granthlabs/granth/pkg/llms"
	"github.com/granthlabs/granth/pkg/vector"
)

func hitsForTest() []vector.Hit {
	return []vector.Hit{
		{ID: "d1_chunk_0", Content: "highly relevant text", Score: 0.92,
			Metadata: map[string]any{"documentId": "d1", "filename": "a.txt"}},
		{ID: "d1_chunk_3", Content: "somewhat relevant text", Score: 0.61,
			Metadata: map[string]any{"documentId": "d1", "filename": "a.txt"}},
		{ID: "d2_chunk_1", Content: "barely related text", Score: 0.3,
			Metadata: map[string]any{"documentId": "d2", "filename": "b.txt"}},
	}
}

func TestQuery_FiltersAndGrounds(t *testing.T) {
	store := newFakeStore()
	store.hits = hitsForTest()
	llm := &fakeLLM{}
	engine := NewQueryEngine(&fakeEmbedder{}, store, llm, 0, -1)

	res, err := engine.Query(context.Background(), "what is relevant?", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Content != "the answer" {
		t.Errorf("content = %q", res.Content)
	}
	if len(res.Sources) != 2 {
		t.Fatalf("sources = %d, want 2 (score filter)", len(res.Sources))
	}
	if res.Sources[0].ChunkID != "d1_chunk_0" || res.Sources[1].ChunkID != "d1_chunk_3" {
		t.Errorf("sources out of rank order: %+v", res.Sources)
	}
	if res.Sources[0].Filename != "a.txt" || res.Sources[0].DocumentID != "d1" {
		t.Errorf("source metadata not mapped: %+v", res.Sources[0])
	}
	if res.Usage == nil || res.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", res.Usage)
	}

	llm.mu.Lock()
	defer llm.mu.Unlock()
	if len(llm.lastContexts) != 2 {
		t.Fatalf("llm got %d contexts, want 2", len(llm.lastContexts))
	}
	if llm.lastContexts[0] != "highly relevant text" {
		t.Errorf("context[0] = %q", llm.lastContexts[0])
	}
	last := llm.lastMessages[len(llm.lastMessages)-1]
	if last.Role != llms.RoleUser || last.Content != "what is relevant?" {
		t.Errorf("final message = %+v", last)
	}
}

func TestQuery_EmptyIndexStillAnswers(t *testing.T) {
	store := newFakeStore()
	llm := &fakeLLM{}
	engine := NewQueryEngine(&fakeEmbedder{}, store, llm, 0, -1)

	res, err := engine.Query(context.Background(), "anything?", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Sources) != 0 {
		t.Errorf("sources = %d, want 0", len(res.Sources))
	}
	llm.mu.Lock()
	defer llm.mu.Unlock()
	if len(llm.lastContexts) != 0 {
		t.Errorf("llm got %d contexts, want 0", len(llm.lastContexts))
	}
}

func TestQuery_HistoryPrecedesQuestion(t *testing.T) {
	store := newFakeStore()
	llm := &fakeLLM{}
	engine := NewQueryEngine(&fakeEmbedder{}, store, llm, 0, -1)

	history := []llms.Message{
		{Role: llms.RoleUser, Content: "earlier question"},
		{Role: llms.RoleAssistant, Content: "earlier answer"},
	}
	if _, err := engine.Query(context.Background(), "follow-up", history); err != nil {
		t.Fatal(err)
	}

	llm.mu.Lock()
	defer llm.mu.Unlock()
	if len(llm.lastMessages) != 3 {
		t.Fatalf("messages = %d, want 3", len(llm.lastMessages))
	}
	if llm.lastMessages[0].Content != "earlier question" {
		t.Errorf("messages[0] = %+v", llm.lastMessages[0])
	}
	if llm.lastMessages[2].Content != "follow-up" {
		t.Errorf("messages[2] = %+v", llm.lastMessages[2])
	}
}

func TestAssembleContext_Budget(t *testing.T) {
	long := strings.Repeat("x", contextWindowChars+1000)
	contexts := assembleContext([]Source{{Content: long}})
	if len(contexts) != 1 {
		t.Fatalf("contexts = %d, want 1", len(contexts))
	}
	if len(contexts[0]) != contextWindowChars+3 {
		t.Errorf("truncated length = %d, want %d", len(contexts[0]), contextWindowChars+3)
	}
	if !strings.HasSuffix(contexts[0], "...") {
		t.Error("expected ellipsis suffix")
	}
}

func TestAssembleContext_TruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("क", contextWindowChars+1000)
	contexts := assembleContext([]Source{{Content: long}})
	if len(contexts) != 1 {
		t.Fatalf("contexts = %d, want 1", len(contexts))
	}
	if !utf8.ValidString(contexts[0]) {
		t.Error("truncated context is not valid UTF-8")
	}
	if got := utf8.RuneCountInString(contexts[0]); got != contextWindowChars+3 {
		t.Errorf("truncated rune count = %d, want %d", got, contextWindowChars+3)
	}
	if !strings.HasSuffix(contexts[0], "...") {
		t.Error("expected ellipsis suffix")
	}
}

func TestAssembleContext_SkipsTinyLeftoverBudget(t *testing.T) {
	first := strings.Repeat("a", contextWindowChars-minTruncateBudget+10)
	second := strings.Repeat("b", 500)
	contexts := assembleContext([]Source{{Content: first}, {Content: second}})
	if len(contexts) != 1 {
		t.Fatalf("contexts = %d, want 1 (leftover budget too small)", len(contexts))
	}
}

func TestQueryStream_FrameOrder(t *testing.T) {
	store := newFakeStore()
	store.hits = hitsForTest()
	engine := NewQueryEngine(&fakeEmbedder{}, store, &fakeLLM{}, 0, -1)

	frames, err := engine.QueryStream(context.Background(), "what is relevant?", nil)
	if err != nil {
		t.Fatalf("QueryStream: %v", err)
	}

	var got []Frame
	for f := range frames {
		got = append(got, f)
	}
	if len(got) != 4 {
		t.Fatalf("frames = %d, want 4: %+v", len(got), got)
	}
	if got[0].Type != FrameSources || len(got[0].Sources) != 2 {
		t.Errorf("first frame = %+v", got[0])
	}
	if got[1].Type != FrameContent || got[1].Content != "the " {
		t.Errorf("second frame = %+v", got[1])
	}
	if got[2].Type != FrameContent || got[2].Content != "answer" {
		t.Errorf("third frame = %+v", got[2])
	}
	if got[3].Type != FrameDone {
		t.Errorf("final frame = %+v", got[3])
	}
	if got[3].Usage == nil || got[3].Usage.TotalTokens != 15 {
		t.Errorf("done usage = %+v", got[3].Usage)
	}
}
