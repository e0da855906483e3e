package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/granthlabs/granth/pkg/httpclient"
)

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	Dimension int    `mapstructure:"dimension"`
	Timeout   int    `mapstructure:"timeout"`
}

func (c *OpenAIConfig) SetDefaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Model == "" {
		c.Model = os.Getenv("OPENAI_EMBEDDING_MODEL")
	}
	if c.Model == "" {
		c.Model = "text-embedding-ada-002"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Dimension == 0 {
		switch c.Model {
		case "text-embedding-3-large":
			c.Dimension = 3072
		default:
			c.Dimension = 1536
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

func (c *OpenAIConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required for openai embedder")
	}
	return nil
}

// OpenAIEmbedder embeds text through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	config *OpenAIConfig
	client *httpclient.Client
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIEmbedder creates an OpenAI embedder from config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) (*OpenAIEmbedder, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	return &OpenAIEmbedder{config: cfg, client: client}, nil
}

func (e *OpenAIEmbedder) EmbedMany(ctx context.Context, texts []string) (*EmbeddingResult, error) {
	result := &EmbeddingResult{
		Vectors: make([][]float32, 0, len(texts)),
		Usage:   &Usage{},
		Model:   e.config.Model,
	}
	if len(texts) == 0 {
		return result, nil
	}

	for i := 0; i < len(texts); i += maxBatchSize {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(batchPauseMillis * time.Millisecond):
			}
		}

		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, usage, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		result.Vectors = append(result.Vectors, vectors...)
		result.Usage.PromptTokens += usage.PromptTokens
		result.Usage.TotalTokens += usage.TotalTokens
	}

	return result, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, Usage, error) {
	reqBody, err := json.Marshal(openAIEmbedRequest{Model: e.config.Model, Input: batch})
	if err != nil {
		return nil, Usage{}, NewEmbeddingError("openai", e.config.Model, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, Usage{}, NewEmbeddingError("openai", e.config.Model, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, Usage{}, NewEmbeddingError("openai", e.config.Model, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Usage{}, NewEmbeddingError("openai", e.config.Model, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return nil, Usage{}, NewEmbeddingError("openai", e.config.Model,
				fmt.Sprintf("API error (type: %s, code: %s): %s", errResp.Error.Type, errResp.Error.Code, errResp.Error.Message), nil)
		}
		return nil, Usage{}, NewEmbeddingError("openai", e.config.Model,
			fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var response openAIEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, Usage{}, NewEmbeddingError("openai", e.config.Model, "failed to decode response", err)
	}
	if len(response.Data) != len(batch) {
		return nil, Usage{}, NewEmbeddingError("openai", e.config.Model,
			fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(response.Data)), nil)
	}

	// The API may return items out of order; realign by index.
	vectors := make([][]float32, len(batch))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, Usage{}, NewEmbeddingError("openai", e.config.Model,
				fmt.Sprintf("embedding index %d out of range", item.Index), nil)
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, response.Usage, nil
}

func (e *OpenAIEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	result, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(result.Vectors) == 0 {
		return nil, NewEmbeddingError("openai", e.config.Model, "received empty embedding", nil)
	}
	return result.Vectors[0], nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.config.Dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

func (e *OpenAIEmbedder) TestConnection(ctx context.Context) error {
	_, err := e.EmbedOne(ctx, "connection test")
	return err
}
