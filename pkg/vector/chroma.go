package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/granthlabs/granth/pkg/httpclient"
)

// chromaUpsertBatch caps records per add request.
const chromaUpsertBatch = 100

// ChromaConfig configures the Chroma HTTP vector provider.
type ChromaConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	SSL        bool   `mapstructure:"ssl"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
	Timeout    int    `mapstructure:"timeout"`
}

func (c *ChromaConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

func (c *ChromaConfig) baseURL() string {
	scheme := "http"
	if c.SSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// ChromaProvider stores vectors in a Chroma server over its HTTP API.
// The collection is addressed by id, resolved once during Initialize.
type ChromaProvider struct {
	config       *ChromaConfig
	client       *httpclient.Client
	collectionID string
}

// NewChromaProvider creates a Chroma provider from config.
func NewChromaProvider(cfg *ChromaConfig) (*ChromaProvider, error) {
	cfg.SetDefaults()

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
	)

	return &ChromaProvider{config: cfg, client: client}, nil
}

func (p *ChromaProvider) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.config.baseURL()+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("X-Api-Key", p.config.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Initialize resolves or creates the configured collection.
func (p *ChromaProvider) Initialize(ctx context.Context) error {
	var created struct {
		ID string `json:"id"`
	}
	err := p.doJSON(ctx, http.MethodPost, "/api/v1/collections", map[string]any{
		"name":          p.config.Collection,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}, &created)
	if err != nil {
		return NewVectorStoreError("chroma", "initialize",
			fmt.Sprintf("failed to get or create collection %s", p.config.Collection), err)
	}
	p.collectionID = created.ID
	return nil
}

func (p *ChromaProvider) collection(ctx context.Context) (string, error) {
	if p.collectionID == "" {
		if err := p.Initialize(ctx); err != nil {
			return "", err
		}
	}
	return p.collectionID, nil
}

func (p *ChromaProvider) AddDocuments(ctx context.Context, records []Record) error {
	col, err := p.collection(ctx)
	if err != nil {
		return err
	}

	for i := 0; i < len(records); i += chromaUpsertBatch {
		end := i + chromaUpsertBatch
		if end > len(records) {
			end = len(records)
		}
		batch := records[i:end]

		ids := make([]string, len(batch))
		embeddings := make([][]float32, len(batch))
		documents := make([]string, len(batch))
		metadatas := make([]map[string]any, len(batch))
		for j, rec := range batch {
			ids[j] = rec.ID
			embeddings[j] = l2Normalize(rec.Embedding)
			documents[j] = rec.Content
			metadatas[j] = rec.Metadata
		}

		err := p.doJSON(ctx, http.MethodPost,
			fmt.Sprintf("/api/v1/collections/%s/upsert", col),
			map[string]any{
				"ids":        ids,
				"embeddings": embeddings,
				"documents":  documents,
				"metadatas":  metadatas,
			}, nil)
		if err != nil {
			return NewVectorStoreError("chroma", "add", "upsert failed", err)
		}
	}
	return nil
}

func (p *ChromaProvider) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	col, err := p.collection(ctx)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	var result struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	err = p.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/collections/%s/query", col),
		map[string]any{
			"query_embeddings": [][]float32{l2Normalize(vector)},
			"n_results":        k,
			"include":          []string{"documents", "metadatas", "distances"},
		}, &result)
	if err != nil {
		return nil, NewVectorStoreError("chroma", "search", "query failed", err)
	}

	if len(result.IDs) == 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, len(result.IDs[0]))
	for i, id := range result.IDs[0] {
		hit := Hit{ID: id}
		if len(result.Documents) > 0 && i < len(result.Documents[0]) {
			hit.Content = result.Documents[0][i]
		}
		if len(result.Metadatas) > 0 && i < len(result.Metadatas[0]) {
			hit.Metadata = result.Metadatas[0][i]
		}
		if len(result.Distances) > 0 && i < len(result.Distances[0]) {
			// Cosine distance to similarity.
			hit.Score = clampScore(float32(1 - result.Distances[0][i]))
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (p *ChromaProvider) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := p.collection(ctx)
	if err != nil {
		return err
	}

	err = p.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/collections/%s/delete", col),
		map[string]any{"ids": ids}, nil)
	if err != nil {
		return NewVectorStoreError("chroma", "delete", "delete failed", err)
	}
	return nil
}

func (p *ChromaProvider) Clear(ctx context.Context) error {
	col, err := p.collection(ctx)
	if err != nil {
		return err
	}

	// Chroma has no truncate; drop and recreate the collection.
	err = p.doJSON(ctx, http.MethodDelete, "/api/v1/collections/"+p.config.Collection, nil, nil)
	if err != nil {
		return NewVectorStoreError("chroma", "clear",
			fmt.Sprintf("failed to drop collection %s", col), err)
	}
	p.collectionID = ""
	return p.Initialize(ctx)
}

func (p *ChromaProvider) Count(ctx context.Context) (int, error) {
	col, err := p.collection(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	err = p.doJSON(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/collections/%s/count", col), nil, &count)
	if err != nil {
		return 0, NewVectorStoreError("chroma", "count", "count failed", err)
	}
	return count, nil
}

func (p *ChromaProvider) TestConnection(ctx context.Context) error {
	if err := p.doJSON(ctx, http.MethodGet, "/api/v1/heartbeat", nil, nil); err != nil {
		return NewVectorStoreError("chroma", "test", "server unreachable", err)
	}
	return nil
}

func (p *ChromaProvider) Close() error {
	return nil
}
