// Package pipeline turns uploaded files into searchable chunks and answers
// questions over them.
//
// The processor owns the extract -> chunk -> embed -> store path and the
// registry status transitions that make it observable. The query engine
// owns the reverse path from question to grounded answer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/granthlabs/granth/pkg/chunk"
	"github.com/granthlabs/granth/pkg/embedders"
	"github.com/granthlabs/granth/pkg/extract"
	"github.com/granthlabs/granth/pkg/observability"
	"github.com/granthlabs/granth/pkg/registry"
	"github.com/granthlabs/granth/pkg/vector"
)

const (
	// DefaultChunkSize is the processing chunk window in characters.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the overlap between processing chunks.
	DefaultChunkOverlap = 100

	// embedBatchSize caps the texts sent to the embedder per request.
	embedBatchSize = 20

	// storeBatchSize caps the records upserted into the vector store
	// per request.
	storeBatchSize = 50
)

// SupportedUploadExtensions lists the file types the service accepts,
// lowercase and without the leading dot.
var SupportedUploadExtensions = map[string]bool{
	"pdf":  true,
	"docx": true,
	"txt":  true,
	"md":   true,
	"html": true,
	"json": true,
	"xlsx": true,
}

// Options control one processing run.
type Options struct {
	ChunkSize       int
	ChunkOverlap    int
	ExtractMetadata bool
}

// DefaultOptions returns the standard processing options.
func DefaultOptions() Options {
	return Options{
		ChunkSize:       DefaultChunkSize,
		ChunkOverlap:    DefaultChunkOverlap,
		ExtractMetadata: true,
	}
}

// ProcessedChunk is one chunk after embedding, ready for the vector store.
type ProcessedChunk struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]any
}

// Processor runs documents through extraction, chunking, embedding and
// vector storage, keeping the registry in sync.
type Processor struct {
	extractor *extract.Extractor
	embedder  embedders.Embedder
	store     vector.Provider
	registry  registry.Registry
}

// NewProcessor wires a processor over its four collaborators.
func NewProcessor(extractor *extract.Extractor, embedder embedders.Embedder, store vector.Provider, reg registry.Registry) *Processor {
	return &Processor{
		extractor: extractor,
		embedder:  embedder,
		store:     store,
		registry:  reg,
	}
}

// Process indexes one document end to end. The registry entry moves to
// Processing immediately and ends at Indexed or Error; the returned chunks
// are durable in the vector store before Process returns.
func (p *Processor) Process(ctx context.Context, doc *registry.Document, opts Options) ([]ProcessedChunk, error) {
	start := time.Now()

	chunks, err := p.process(ctx, doc, opts)

	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordIngest(ctx, time.Since(start), len(chunks), err)
	}
	if err != nil {
		p.markError(ctx, doc, err)
		return nil, err
	}
	return chunks, nil
}

func (p *Processor) process(ctx context.Context, doc *registry.Document, opts Options) ([]ProcessedChunk, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = DefaultChunkOverlap
	}

	doc.Status = registry.StatusProcessing
	doc.ErrorMessage = ""
	if err := p.registry.Update(ctx, doc); err != nil {
		return nil, NewProcessingError(doc.ID, "registry", "failed to mark processing", err)
	}

	text, err := p.extractor.Extract(ctx, doc.StoragePath, doc.Extension)
	if err != nil {
		return nil, NewProcessingError(doc.ID, "extract", doc.Filename, err)
	}

	pieces, err := chunk.Split(text, opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, NewProcessingError(doc.ID, "chunk", doc.Filename, err)
	}
	pieces = dropEmpty(pieces)

	// An empty file indexes cleanly with zero chunks; the embedder and
	// the vector store are never called.
	if len(pieces) == 0 {
		if err := p.finish(ctx, doc, nil); err != nil {
			return nil, err
		}
		return []ProcessedChunk{}, nil
	}

	processed := p.assemble(doc, pieces, opts)

	if err := p.embed(ctx, doc, processed); err != nil {
		return nil, err
	}
	if err := p.storeChunks(ctx, doc, processed); err != nil {
		return nil, err
	}

	refs := make([]registry.ChunkRef, len(processed))
	for i, pc := range processed {
		refs[i] = registry.ChunkRef{
			ID:        pc.ID,
			Content:   pc.Content,
			StartChar: pieces[i].StartChar,
			EndChar:   pieces[i].EndChar,
		}
	}
	if err := p.finish(ctx, doc, refs); err != nil {
		return nil, err
	}

	slog.Info("Document indexed",
		"documentId", doc.ID,
		"filename", doc.Filename,
		"chunks", len(processed))
	return processed, nil
}

// assemble builds the chunk records and their metadata.
func (p *Processor) assemble(doc *registry.Document, pieces []chunk.Chunk, opts Options) []ProcessedChunk {
	processed := make([]ProcessedChunk, len(pieces))
	for i, c := range pieces {
		pc := ProcessedChunk{
			ID:      fmt.Sprintf("%s_chunk_%d", doc.ID, i),
			Content: c.Content,
		}
		if opts.ExtractMetadata {
			pc.Metadata = map[string]any{
				"documentId": doc.ID,
				"filename":   doc.Filename,
				"chunkIndex": i,
				"startChar":  c.StartChar,
				"endChar":    c.EndChar,
				"language":   c.Language,
				"tokenCount": c.TokenCount,
			}
		}
		processed[i] = pc
	}
	return processed
}

// embed fills in the embedding of every chunk, batching requests and
// running batches concurrently.
func (p *Processor) embed(ctx context.Context, doc *registry.Document, processed []ProcessedChunk) error {
	start := time.Now()
	var totalTokens int64

	g, gctx := errgroup.WithContext(ctx)
	tokens := make([]int, (len(processed)+embedBatchSize-1)/embedBatchSize)
	for b := 0; b*embedBatchSize < len(processed); b++ {
		b := b
		lo := b * embedBatchSize
		hi := min(lo+embedBatchSize, len(processed))
		g.Go(func() error {
			texts := make([]string, hi-lo)
			for i := lo; i < hi; i++ {
				texts[i-lo] = processed[i].Content
			}
			res, err := p.embedder.EmbedMany(gctx, texts)
			if err != nil {
				return NewProcessingError(doc.ID, "embed", fmt.Sprintf("batch %d", b), err)
			}
			if len(res.Vectors) != hi-lo {
				return NewProcessingError(doc.ID, "embed",
					fmt.Sprintf("batch %d returned %d vectors for %d texts", b, len(res.Vectors), hi-lo), nil)
			}
			for i := lo; i < hi; i++ {
				processed[i].Embedding = res.Vectors[i-lo]
			}
			if res.Usage != nil {
				tokens[b] = res.Usage.TotalTokens
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, t := range tokens {
		totalTokens += int64(t)
	}
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordEmbedding(ctx, p.embedder.ModelName(), time.Since(start), int(totalTokens))
	}
	return nil
}

// storeChunks upserts the embedded chunks, batching and running batches
// concurrently. All batches are durable when it returns nil.
func (p *Processor) storeChunks(ctx context.Context, doc *registry.Document, processed []ProcessedChunk) error {
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(processed); lo += storeBatchSize {
		lo := lo
		hi := min(lo+storeBatchSize, len(processed))
		g.Go(func() error {
			records := make([]vector.Record, hi-lo)
			for i := lo; i < hi; i++ {
				records[i-lo] = vector.Record{
					ID:        processed[i].ID,
					Content:   processed[i].Content,
					Embedding: processed[i].Embedding,
					Metadata:  processed[i].Metadata,
				}
			}
			if err := p.store.AddDocuments(gctx, records); err != nil {
				return NewProcessingError(doc.ID, "store", fmt.Sprintf("records %d-%d", lo, hi-1), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Processor) finish(ctx context.Context, doc *registry.Document, refs []registry.ChunkRef) error {
	now := time.Now().UTC()
	doc.Status = registry.StatusIndexed
	doc.ProcessedAt = &now
	doc.Chunks = refs
	doc.ErrorMessage = ""
	if err := p.registry.Update(ctx, doc); err != nil {
		return NewProcessingError(doc.ID, "registry", "failed to mark indexed", err)
	}
	return nil
}

func (p *Processor) markError(ctx context.Context, doc *registry.Document, cause error) {
	doc.Status = registry.StatusError
	doc.ErrorMessage = cause.Error()
	if err := p.registry.Update(ctx, doc); err != nil {
		slog.Warn("Failed to record processing error",
			"documentId", doc.ID, "error", err)
	}
}

// Reindex clears the vector index and re-processes the supplied documents
// concurrently. Per-document failures are recorded in the registry; the
// first one is returned.
func (p *Processor) Reindex(ctx context.Context, docs []*registry.Document, opts Options) error {
	if err := p.store.Clear(ctx); err != nil {
		return NewProcessingError("", "store", "failed to clear index", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			_, err := p.Process(gctx, doc, opts)
			return err
		})
	}
	return g.Wait()
}

// DeleteDocumentChunks removes a document's vectors using the chunk ids
// stored in the registry.
func (p *Processor) DeleteDocumentChunks(ctx context.Context, docID string) error {
	doc, err := p.registry.Get(ctx, docID)
	if err != nil {
		return err
	}
	ids := doc.ChunkIDs()
	if len(ids) == 0 {
		return nil
	}
	if err := p.store.Delete(ctx, ids); err != nil {
		return NewProcessingError(docID, "store", "failed to delete chunks", err)
	}
	return nil
}

// ClearAllDocuments wipes the vector index and removes upload files from
// the registry's storage paths. File removal is best-effort.
func (p *Processor) ClearAllDocuments(ctx context.Context) error {
	if err := p.store.Clear(ctx); err != nil {
		return NewProcessingError("", "store", "failed to clear index", err)
	}

	docs, err := p.registry.List(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.StoragePath == "" {
			continue
		}
		if err := os.Remove(doc.StoragePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove upload file",
				"path", doc.StoragePath, "error", err)
		}
	}
	return nil
}

// dropEmpty removes chunks that contain no text, which is what an empty
// or whitespace-only file splits into.
func dropEmpty(pieces []chunk.Chunk) []chunk.Chunk {
	kept := pieces[:0]
	for _, c := range pieces {
		if strings.TrimSpace(c.Content) != "" {
			kept = append(kept, c)
		}
	}
	return kept
}

// ExtensionOf returns the lowercase extension of a filename without the
// leading dot.
func ExtensionOf(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}
