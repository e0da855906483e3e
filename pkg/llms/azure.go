package llms

import (
	"bufio"
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

// AzureConfig configures the Azure OpenAI chat provider. The wire format
// matches OpenAI; routing is per deployment with an api-key header.
type AzureConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	Endpoint    string   `mapstructure:"endpoint"`
	Deployment  string   `mapstructure:"deployment"`
	APIVersion  string   `mapstructure:"api_version"`
	Model       string   `mapstructure:"model"`
	Temperature float64  `mapstructure:"temperature"`
	TopP        float64  `mapstructure:"top_p"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	Stop        []string `mapstructure:"stop"`
	Timeout     int      `mapstructure:"timeout"`
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
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.TopP == 0 {
		c.TopP = defaultTopP
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout == 0 {
		c.Timeout = defaultChatTimeout
	}
}

func (c *AzureConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required for azure provider")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required for azure provider")
	}
	if c.Deployment == "" {
		return fmt.Errorf("deployment is required for azure provider")
	}
	return nil
}

// AzureProvider chats through an Azure OpenAI deployment.
type AzureProvider struct {
	config *AzureConfig
	client *httpclient.Client
	url    string
}

// NewAzureProvider creates an Azure OpenAI chat provider from config.
func NewAzureProvider(cfg *AzureConfig) (*AzureProvider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Deployment, cfg.APIVersion)

	return &AzureProvider{config: cfg, client: client, url: url}, nil
}

func (p *AzureProvider) buildRequest(messages []Message, contexts []string, stream bool) openAIChatRequest {
	req := openAIChatRequest{
		Model:       p.config.Model,
		Messages:    buildMessages(messages, contexts),
		Temperature: p.config.Temperature,
		TopP:        p.config.TopP,
		MaxTokens:   p.config.MaxTokens,
		Stop:        p.config.Stop,
		Stream:      stream,
	}
	if stream {
		req.StreamOptions = &openAIStreamOption{IncludeUsage: true}
	}
	return req
}

func (p *AzureProvider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", p.config.APIKey)
	return req, nil
}

func (p *AzureProvider) Chat(ctx context.Context, messages []Message, contexts []string) (*ChatResult, error) {
	body, err := json.Marshal(p.buildRequest(messages, contexts, false))
	if err != nil {
		return nil, NewLLMError("azure", p.config.Model, "failed to marshal request", err)
	}

	httpReq, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, NewLLMError("azure", p.config.Model, "failed to create request", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewLLMError("azure", p.config.Model, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError("azure", p.config.Model, "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseOpenAIError("azure", p.config.Model, resp.StatusCode, respBody)
	}

	var response openAIChatResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, NewLLMError("azure", p.config.Model, "failed to decode response", err)
	}
	if len(response.Choices) == 0 {
		return nil, NewLLMError("azure", p.config.Model, "response contained no choices", nil)
	}

	return &ChatResult{
		Content: response.Choices[0].Message.Content,
		Usage:   &response.Usage,
	}, nil
}

func (p *AzureProvider) ChatStream(ctx context.Context, messages []Message, contexts []string) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(messages, contexts, true))
	if err != nil {
		return nil, NewLLMError("azure", p.config.Model, "failed to marshal request", err)
	}

	httpReq, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, NewLLMError("azure", p.config.Model, "failed to create request", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewLLMError("azure", p.config.Model, "request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, parseOpenAIError("azure", p.config.Model, resp.StatusCode, respBody)
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var usage Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk openAIStreamResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				out <- StreamChunk{Err: NewLLMError("azure", p.config.Model, "failed to decode stream chunk", err)}
				return
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				select {
				case out <- StreamChunk{Content: chunk.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: NewLLMError("azure", p.config.Model, "stream read failed", err)}
			return
		}
		out <- StreamChunk{Done: true, Usage: &usage}
	}()

	return out, nil
}

func (p *AzureProvider) ModelName() string {
	return p.config.Model
}

func (p *AzureProvider) TestConnection(ctx context.Context) error {
	_, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: "ping"}}, nil)
	return err
}
