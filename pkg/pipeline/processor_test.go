package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/granthlabs/granth/pkg/embedders"
	"github.com/granthlabs/granth/pkg/extract"
	"github.com/granthlabs/granth/pkg/llms"
	"github.com/granthlabs/granth/pkg/registry"
	"github.com/granthlabs/granth/pkg/vector"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeEmbedder) EmbedMany(ctx context.Context, texts []string) (*embedders.EmbeddingResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return nil, errors.New("embedder unavailable")
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0, 0}
	}
	return &embedders.EmbeddingResult{
		Vectors: vectors,
		Usage:   &embedders.Usage{PromptTokens: len(texts), TotalTokens: len(texts)},
		Model:   "fake-embed",
	}, nil
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	res, err := f.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return res.Vectors[0], nil
}

func (f *fakeEmbedder) Dimension() int                           { return 4 }
func (f *fakeEmbedder) ModelName() string                        { return "fake-embed" }
func (f *fakeEmbedder) TestConnection(ctx context.Context) error { return nil }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]vector.Record
	hits    []vector.Hit
	clears  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]vector.Record)}
}

func (s *fakeStore) Initialize(ctx context.Context) error { return nil }

func (s *fakeStore) AddDocuments(ctx context.Context, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.ID] = r
	}
	return nil
}

func (s *fakeStore) Search(ctx context.Context, vec []float32, k int) ([]vector.Hit, error) {
	return s.hits, nil
}

func (s *fakeStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

func (s *fakeStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]vector.Record)
	s.clears++
	return nil
}

func (s *fakeStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

func (s *fakeStore) TestConnection(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                             { return nil }

func (s *fakeStore) stored() map[string]vector.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]vector.Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

type fakeLLM struct {
	mu           sync.Mutex
	lastContexts []string
	lastMessages []llms.Message
}

func (l *fakeLLM) Chat(ctx context.Context, messages []llms.Message, contexts []string) (*llms.ChatResult, error) {
	l.mu.Lock()
	l.lastMessages = messages
	l.lastContexts = contexts
	l.mu.Unlock()
	return &llms.ChatResult{
		Content: "the answer",
		Usage:   &llms.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (l *fakeLLM) ChatStream(ctx context.Context, messages []llms.Message, contexts []string) (<-chan llms.StreamChunk, error) {
	l.mu.Lock()
	l.lastMessages = messages
	l.lastContexts = contexts
	l.mu.Unlock()

	ch := make(chan llms.StreamChunk)
	go func() {
		defer close(ch)
		ch <- llms.StreamChunk{Content: "the "}
		ch <- llms.StreamChunk{Content: "answer"}
		ch <- llms.StreamChunk{Done: true, Usage: &llms.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	}()
	return ch, nil
}

func (l *fakeLLM) ModelName() string                        { return "fake-llm" }
func (l *fakeLLM) TestConnection(ctx context.Context) error { return nil }

func writeUpload(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestDoc(t *testing.T, dir, name, content string) *registry.Document {
	t.Helper()
	path := writeUpload(t, dir, name, content)
	return &registry.Document{
		ID:          "doc-" + strings.TrimSuffix(name, filepath.Ext(name)),
		Filename:    name,
		Extension:   ExtensionOf(name),
		Size:        int64(len(content)),
		StoragePath: path,
		Status:      registry.StatusPending,
		UploadedAt:  time.Now().UTC(),
	}
}

func newTestProcessor(embedder embedders.Embedder, store vector.Provider, reg registry.Registry) *Processor {
	return NewProcessor(extract.NewExtractor(nil), embedder, store, reg)
}

func TestProcess_IndexesDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := registry.NewMemoryRegistry()
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	proc := newTestProcessor(embedder, store, reg)

	doc := newTestDoc(t, dir, "notes.txt", strings.Repeat("An important sentence about storage. ", 80))
	if err := reg.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}

	chunks, err := proc.Process(ctx, doc, DefaultOptions())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	if chunks[0].ID != doc.ID+"_chunk_0" {
		t.Errorf("chunk id = %q", chunks[0].ID)
	}
	if got := chunks[0].Metadata["documentId"]; got != doc.ID {
		t.Errorf("metadata documentId = %v", got)
	}
	if got := chunks[0].Metadata["filename"]; got != "notes.txt" {
		t.Errorf("metadata filename = %v", got)
	}

	stored, err := reg.Get(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != registry.StatusIndexed {
		t.Errorf("status = %s, want indexed", stored.Status)
	}
	if stored.ProcessedAt == nil {
		t.Error("expected ProcessedAt to be set")
	}
	if len(stored.Chunks) != len(chunks) {
		t.Errorf("registry has %d chunk refs, want %d", len(stored.Chunks), len(chunks))
	}

	if got := len(store.stored()); got != len(chunks) {
		t.Errorf("vector store has %d records, want %d", got, len(chunks))
	}
}

func TestProcess_EmptyFileIndexesWithZeroChunks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := registry.NewMemoryRegistry()
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	proc := newTestProcessor(embedder, store, reg)

	doc := newTestDoc(t, dir, "empty.txt", "")
	if err := reg.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}

	chunks, err := proc.Process(ctx, doc, DefaultOptions())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected zero chunks, got %d", len(chunks))
	}
	if embedder.callCount() != 0 {
		t.Error("embedder should not be called for an empty document")
	}
	if got := len(store.stored()); got != 0 {
		t.Errorf("vector store has %d records, want 0", got)
	}

	stored, _ := reg.Get(ctx, doc.ID)
	if stored.Status != registry.StatusIndexed {
		t.Errorf("status = %s, want indexed", stored.Status)
	}
}

func TestProcess_ExtractFailureMarksError(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	proc := newTestProcessor(&fakeEmbedder{}, newFakeStore(), reg)

	doc := &registry.Document{
		ID:          "doc-missing",
		Filename:    "missing.txt",
		Extension:   "txt",
		StoragePath: filepath.Join(t.TempDir(), "does-not-exist.txt"),
		Status:      registry.StatusPending,
		UploadedAt:  time.Now().UTC(),
	}
	if err := reg.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}

	_, err := proc.Process(ctx, doc, DefaultOptions())
	if err == nil {
		t.Fatal("expected an error")
	}
	var perr *ProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProcessingError, got %T", err)
	}
	if perr.Stage != "extract" {
		t.Errorf("stage = %s, want extract", perr.Stage)
	}

	stored, _ := reg.Get(ctx, doc.ID)
	if stored.Status != registry.StatusError {
		t.Errorf("status = %s, want error", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("expected an error message")
	}
}

func TestProcess_EmbedFailureMarksError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := registry.NewMemoryRegistry()
	proc := newTestProcessor(&fakeEmbedder{fail: true}, newFakeStore(), reg)

	doc := newTestDoc(t, dir, "notes.txt", "Some content that needs an embedding.")
	if err := reg.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}

	if _, err := proc.Process(ctx, doc, DefaultOptions()); err == nil {
		t.Fatal("expected an error")
	}
	stored, _ := reg.Get(ctx, doc.ID)
	if stored.Status != registry.StatusError {
		t.Errorf("status = %s, want error", stored.Status)
	}
}

func TestProcessSequentially_CountsFailures(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := registry.NewMemoryRegistry()
	proc := newTestProcessor(&fakeEmbedder{}, newFakeStore(), reg)

	docs := []*registry.Document{
		newTestDoc(t, dir, "one.txt", "First document content."),
		{
			ID:          "doc-broken",
			Filename:    "broken.txt",
			Extension:   "txt",
			StoragePath: filepath.Join(dir, "never-written.txt"),
			Status:      registry.StatusPending,
			UploadedAt:  time.Now().UTC(),
		},
		newTestDoc(t, dir, "two.txt", "Second document content."),
	}
	for _, d := range docs {
		if err := reg.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	var progress []string
	result := proc.ProcessSequentially(ctx, docs, func(current, total int, filename string) {
		progress = append(progress, fmt.Sprintf("%d/%d %s", current, total, filename))
	})

	if result.Processed != 2 {
		t.Errorf("processed = %d, want 2", result.Processed)
	}
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}
	want := []string{"1/3 one.txt", "2/3 broken.txt", "3/3 two.txt"}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v", progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d] = %q, want %q", i, progress[i], want[i])
		}
	}
}

func TestDeleteDocumentChunks(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	store := newFakeStore()
	proc := newTestProcessor(&fakeEmbedder{}, store, reg)

	doc := &registry.Document{
		ID:         "doc-1",
		Filename:   "a.txt",
		Extension:  "txt",
		Status:     registry.StatusIndexed,
		UploadedAt: time.Now().UTC(),
		Chunks: []registry.ChunkRef{
			{ID: "doc-1_chunk_0", Content: "a"},
			{ID: "doc-1_chunk_1", Content: "b"},
		},
	}
	if err := reg.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}
	store.AddDocuments(ctx, []vector.Record{
		{ID: "doc-1_chunk_0", Embedding: []float32{1}},
		{ID: "doc-1_chunk_1", Embedding: []float32{1}},
		{ID: "doc-2_chunk_0", Embedding: []float32{1}},
	})

	if err := proc.DeleteDocumentChunks(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteDocumentChunks: %v", err)
	}
	stored := store.stored()
	if _, ok := stored["doc-1_chunk_0"]; ok {
		t.Error("doc-1 chunk 0 should be gone")
	}
	if _, ok := stored["doc-2_chunk_0"]; !ok {
		t.Error("doc-2 chunk should survive")
	}
}

func TestClearAllDocuments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := registry.NewMemoryRegistry()
	store := newFakeStore()
	proc := newTestProcessor(&fakeEmbedder{}, store, reg)

	doc := newTestDoc(t, dir, "gone.txt", "to be removed")
	if err := reg.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}
	store.AddDocuments(ctx, []vector.Record{{ID: "x", Embedding: []float32{1}}})

	if err := proc.ClearAllDocuments(ctx); err != nil {
		t.Fatalf("ClearAllDocuments: %v", err)
	}
	if got := len(store.stored()); got != 0 {
		t.Errorf("vector store has %d records, want 0", got)
	}
	if _, err := os.Stat(doc.StoragePath); !os.IsNotExist(err) {
		t.Error("upload file should be removed")
	}
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := registry.NewMemoryRegistry()
	store := newFakeStore()
	proc := newTestProcessor(&fakeEmbedder{}, store, reg)

	docs := []*registry.Document{
		newTestDoc(t, dir, "a.txt", "Alpha document content."),
		newTestDoc(t, dir, "b.txt", "Beta document content."),
	}
	for _, d := range docs {
		if err := reg.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	store.AddDocuments(ctx, []vector.Record{{ID: "stale", Embedding: []float32{1}}})

	if err := proc.Reindex(ctx, docs, DefaultOptions()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	store.mu.Lock()
	clears := store.clears
	store.mu.Unlock()
	if clears != 1 {
		t.Errorf("clears = %d, want 1", clears)
	}
	stored := store.stored()
	if _, ok := stored["stale"]; ok {
		t.Error("stale record should be gone")
	}
	if len(stored) != 2 {
		t.Errorf("vector store has %d records, want 2", len(stored))
	}
	for _, d := range docs {
		got, _ := reg.Get(ctx, d.ID)
		if got.Status != registry.StatusIndexed {
			t.Errorf("%s status = %s, want indexed", d.ID, got.Status)
		}
	}
}

func TestWatcher_IngestsNewFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	reg := registry.NewMemoryRegistry()
	store := newFakeStore()
	proc := newTestProcessor(&fakeEmbedder{}, store, reg)

	w, err := NewWatcher(dir, proc, reg)
	if err != nil {
		t.Fatal(err)
	}
	defer w.watcher.Close()

	path := writeUpload(t, dir, "dropped.md", "Content that arrived via the watch directory.")
	w.ingest(ctx, path)

	docs, err := reg.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("registry has %d documents, want 1", len(docs))
	}
	if docs[0].Status != registry.StatusIndexed {
		t.Errorf("status = %s, want indexed", docs[0].Status)
	}
	if docs[0].Filename != "dropped.md" {
		t.Errorf("filename = %s", docs[0].Filename)
	}

	// A second event for the same path is a no-op.
	w.ingest(ctx, path)
	docs, _ = reg.List(ctx)
	if len(docs) != 1 {
		t.Errorf("registry has %d documents after re-ingest, want 1", len(docs))
	}
}
