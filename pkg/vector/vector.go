// Package vector provides vector index providers for similarity search
// over embedded document chunks.
//
// All providers normalize vectors on insert and query so inner product
// equals cosine similarity, and report scores clamped to [0, 1].
package vector

import (
	"context"
	"math"
)

// Record is one embedded chunk stored in an index.
type Record struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Hit is one search result.
type Hit struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]any
}

// Provider is a vector index backend. AddDocuments must be durable
// before it returns.
type Provider interface {
	Initialize(ctx context.Context) error
	AddDocuments(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Delete(ctx context.Context, ids []string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	TestConnection(ctx context.Context) error
	Close() error
}

// l2Normalize returns a unit-length copy of v. Zero vectors are returned
// unchanged.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// clampScore clips a similarity score to [0, 1].
func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
