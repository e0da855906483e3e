// Package embedders provides embedding providers that turn chunk text
// into dense vectors for similarity search.
//
// All providers batch their inputs (at most 20 texts per backend request)
// and pace consecutive requests to stay under provider rate limits.
package embedders

import "context"

const (
	// maxBatchSize caps the number of inputs sent in one backend request.
	maxBatchSize = 20

	// batchPauseMillis is the pause between consecutive backend requests
	// within one EmbedMany call.
	batchPauseMillis = 100
)

// Usage reports token consumption for an embedding call.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingResult is the outcome of embedding a slice of texts. Vectors
// is index-aligned with the input and Usage is summed across batches.
type EmbeddingResult struct {
	Vectors [][]float32
	Usage   *Usage
	Model   string
}

// Embedder converts text into dense vectors.
type Embedder interface {
	// EmbedMany embeds all texts, preserving input order.
	EmbedMany(ctx context.Context, texts []string) (*EmbeddingResult, error)

	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector dimensionality this embedder produces.
	Dimension() int

	// ModelName returns the backend model identifier.
	ModelName() string

	// TestConnection verifies the backend is reachable and credentials work.
	TestConnection(ctx context.Context) error
}
