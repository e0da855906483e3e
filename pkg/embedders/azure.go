package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/granthlabs/granth/pkg/httpclient"
)

// AzureConfig configures the Azure OpenAI embedding provider. Azure speaks
// the same wire format as OpenAI but routes by deployment and authenticates
// with an api-key header.
type AzureConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Endpoint   string `mapstructure:"endpoint"`
	Deployment string `mapstructure:"deployment"`
	APIVersion string `mapstructure:"api_version"`
	Model      string `mapstructure:"model"`
	Dimension  int    `mapstructure:"dimension"`
	Timeout    int    `mapstructure:"timeout"`
}

func (c *AzureConfig) SetDefaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
	}
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")
	}
	if c.Deployment == "" {
		c.Deployment = os.Getenv("AZURE_OPENAI_DEPLOYMENT")
	}
	if c.APIVersion == "" {
		c.APIVersion = os.Getenv("AZURE_OPENAI_API_VERSION")
	}
	if c.APIVersion == "" {
		c.APIVersion = "2024-02-01"
	}
	if c.Model == "" {
		c.Model = c.Deployment
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

func (c *AzureConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required for azure embedder")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required for azure embedder")
	}
	if c.Deployment == "" {
		return fmt.Errorf("deployment is required for azure embedder")
	}
	return nil
}

// AzureEmbedder embeds text through an Azure OpenAI deployment.
type AzureEmbedder struct {
	config *AzureConfig
	client *httpclient.Client
	url    string
}

// NewAzureEmbedder creates an Azure OpenAI embedder from config.
func NewAzureEmbedder(cfg *AzureConfig) (*AzureEmbedder, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	url := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Deployment, cfg.APIVersion)

	return &AzureEmbedder{config: cfg, client: client, url: url}, nil
}

func (e *AzureEmbedder) EmbedMany(ctx context.Context, texts []string) (*EmbeddingResult, error) {
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

func (e *AzureEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, Usage, error) {
	// Deployment is addressed by URL; the model field is ignored by Azure
	// but harmless to include.
	reqBody, err := json.Marshal(openAIEmbedRequest{Model: e.config.Model, Input: batch})
	if err != nil {
		return nil, Usage{}, NewEmbeddingError("azure", e.config.Model, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, Usage{}, NewEmbeddingError("azure", e.config.Model, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", e.config.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, Usage{}, NewEmbeddingError("azure", e.config.Model, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Usage{}, NewEmbeddingError("azure", e.config.Model, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return nil, Usage{}, NewEmbeddingError("azure", e.config.Model, "API error: "+errResp.Error.Message, nil)
		}
		return nil, Usage{}, NewEmbeddingError("azure", e.config.Model,
			fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var response openAIEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, Usage{}, NewEmbeddingError("azure", e.config.Model, "failed to decode response", err)
	}
	if len(response.Data) != len(batch) {
		return nil, Usage{}, NewEmbeddingError("azure", e.config.Model,
			fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(response.Data)), nil)
	}

	vectors := make([][]float32, len(batch))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, Usage{}, NewEmbeddingError("azure", e.config.Model,
				fmt.Sprintf("embedding index %d out of range", item.Index), nil)
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, response.Usage, nil
}

func (e *AzureEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	result, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(result.Vectors) == 0 {
		return nil, NewEmbeddingError("azure", e.config.Model, "received empty embedding", nil)
	}
	return result.Vectors[0], nil
}

func (e *AzureEmbedder) Dimension() int {
	return e.config.Dimension
}

func (e *AzureEmbedder) ModelName() string {
	return e.config.Model
}

func (e *AzureEmbedder) TestConnection(ctx context.Context) error {
	_, err := e.EmbedOne(ctx, "connection test")
	return err
}
