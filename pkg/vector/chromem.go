package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemConfig configures the embedded chromem provider.
type ChromemConfig struct {
	PersistPath string `mapstructure:"persist_path"`
	Compress    bool   `mapstructure:"compress"`
	Collection  string `mapstructure:"collection"`
}

func (c *ChromemConfig) SetDefaults() {
	if c.Collection == "" {
		c.Collection = "documents"
	}
}

// ChromemProvider stores vectors in an embedded chromem-go database.
// Everything lives in process memory; persistence is a gob export next
// to the service data.
type ChromemProvider struct {
	config *ChromemConfig

	mu  sync.Mutex
	db  *chromem.DB
	col *chromem.Collection
}

// NewChromemProvider creates an embedded chromem provider from config.
func NewChromemProvider(cfg *ChromemConfig) (*ChromemProvider, error) {
	cfg.SetDefaults()
	return &ChromemProvider{config: cfg}, nil
}

func (p *ChromemProvider) dbPath() string {
	path := p.config.PersistPath + "/vectors.gob"
	if p.config.Compress {
		path += ".gz"
	}
	return path
}

// Embeddings always arrive pre-computed, so the collection's embedding
// function must never fire.
func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("chromem asked to embed text, but vectors are pre-computed")
}

func (p *ChromemProvider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openLocked()
}

func (p *ChromemProvider) openLocked() error {
	if p.col != nil {
		return nil
	}

	var db *chromem.DB
	if p.config.PersistPath != "" {
		if err := os.MkdirAll(p.config.PersistPath, 0o755); err != nil {
			return NewVectorStoreError("chromem", "initialize", "failed to create persist dir", err)
		}
		if _, err := os.Stat(p.dbPath()); err == nil {
			loaded, err := chromem.NewPersistentDB(p.dbPath(), p.config.Compress)
			if err != nil {
				slog.Warn("Could not load persisted chromem database, starting empty",
					"path", p.dbPath(), "error", err)
				db = chromem.NewDB()
			} else {
				db = loaded
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(p.config.Collection, nil, rejectEmbedding)
	if err != nil {
		return NewVectorStoreError("chromem", "initialize",
			fmt.Sprintf("failed to open collection %s", p.config.Collection), err)
	}

	p.db = db
	p.col = col
	return nil
}

func (p *ChromemProvider) collection() (*chromem.Collection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openLocked(); err != nil {
		return nil, err
	}
	return p.col, nil
}

func (p *ChromemProvider) AddDocuments(ctx context.Context, records []Record) error {
	col, err := p.collection()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, rec := range records {
		// chromem metadata is string-typed.
		metadata := make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			metadata[k] = fmt.Sprint(v)
		}
		docs = append(docs, chromem.Document{
			ID:        rec.ID,
			Content:   rec.Content,
			Metadata:  metadata,
			Embedding: l2Normalize(rec.Embedding),
		})
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return NewVectorStoreError("chromem", "add", "failed to add documents", err)
	}
	if err := p.persist(); err != nil {
		return NewVectorStoreError("chromem", "add", "failed to persist database", err)
	}
	return nil
}

func (p *ChromemProvider) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	col, err := p.collection()
	if err != nil {
		return nil, err
	}

	// chromem errors when asked for more results than stored.
	if count := col.Count(); k > count {
		k = count
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	results, err := col.QueryEmbedding(ctx, l2Normalize(vector), k, nil, nil)
	if err != nil {
		return nil, NewVectorStoreError("chromem", "search", "query failed", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		metadata := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		hits = append(hits, Hit{
			ID:       r.ID,
			Content:  r.Content,
			Score:    clampScore(r.Similarity),
			Metadata: metadata,
		})
	}
	return hits, nil
}

func (p *ChromemProvider) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := p.collection()
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return NewVectorStoreError("chromem", "delete", "failed to delete documents", err)
	}
	if err := p.persist(); err != nil {
		return NewVectorStoreError("chromem", "delete", "failed to persist database", err)
	}
	return nil
}

func (p *ChromemProvider) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openLocked(); err != nil {
		return err
	}

	if err := p.db.DeleteCollection(p.config.Collection); err != nil {
		return NewVectorStoreError("chromem", "clear", "failed to drop collection", err)
	}
	col, err := p.db.GetOrCreateCollection(p.config.Collection, nil, rejectEmbedding)
	if err != nil {
		return NewVectorStoreError("chromem", "clear", "failed to recreate collection", err)
	}
	p.col = col

	if err := p.persistLocked(); err != nil {
		return NewVectorStoreError("chromem", "clear", "failed to persist database", err)
	}
	return nil
}

func (p *ChromemProvider) Count(ctx context.Context) (int, error) {
	col, err := p.collection()
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (p *ChromemProvider) TestConnection(ctx context.Context) error {
	_, err := p.collection()
	return err
}

func (p *ChromemProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	return p.persistLocked()
}

func (p *ChromemProvider) persist() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persistLocked()
}

func (p *ChromemProvider) persistLocked() error {
	if p.config.PersistPath == "" || p.db == nil {
		return nil
	}
	return p.db.Export(p.dbPath(), p.config.Compress, "")
}
