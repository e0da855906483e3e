package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/granthlabs/granth/pkg/httpclient"
)

// Ollama's llama runner crashes when it receives concurrent embedding
// requests, so all requests through this process are serialized.
var ollamaEmbedMu sync.Mutex

// OllamaConfig configures the Ollama embedding provider.
type OllamaConfig struct {
	Host      string `mapstructure:"host"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
	Timeout   int    `mapstructure:"timeout"`
}

func (c *OllamaConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "nomic-embed-text"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
}

func (c *OllamaConfig) Validate() error {
	if !strings.HasPrefix(c.Host, "http://") && !strings.HasPrefix(c.Host, "https://") {
		return fmt.Errorf("host must include a scheme: %s", c.Host)
	}
	return nil
}

// OllamaEmbedder embeds text through a local Ollama server. The API
// accepts one prompt per request, so EmbedMany issues serialized
// per-text calls.
type OllamaEmbedder struct {
	config *OllamaConfig
	client *httpclient.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an Ollama embedder from config.
func NewOllamaEmbedder(cfg *OllamaConfig) (*OllamaEmbedder, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
	)

	return &OllamaEmbedder{config: cfg, client: client}, nil
}

func (e *OllamaEmbedder) EmbedMany(ctx context.Context, texts []string) (*EmbeddingResult, error) {
	result := &EmbeddingResult{
		Vectors: make([][]float32, 0, len(texts)),
		Model:   e.config.Model,
	}

	for i, text := range texts {
		if i > 0 && i%maxBatchSize == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(batchPauseMillis * time.Millisecond):
			}
		}

		vec, err := e.EmbedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		result.Vectors = append(result.Vectors, vec)
	}

	return result, nil
}

func (e *OllamaEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Prompt: text})
	if err != nil {
		return nil, NewEmbeddingError("ollama", e.config.Model, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(e.config.Host, "/")+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewEmbeddingError("ollama", e.config.Model, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, NewEmbeddingError("ollama", e.config.Model, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, NewEmbeddingError("ollama", e.config.Model,
			fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var response ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, NewEmbeddingError("ollama", e.config.Model, "failed to decode response", err)
	}
	if len(response.Embedding) == 0 {
		return nil, NewEmbeddingError("ollama", e.config.Model, "received empty embedding", nil)
	}

	return response.Embedding, nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.config.Dimension
}

func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

func (e *OllamaEmbedder) TestConnection(ctx context.Context) error {
	_, err := e.EmbedOne(ctx, "connection test")
	return err
}
