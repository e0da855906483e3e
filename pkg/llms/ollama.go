package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/granthlabs/granth/pkg/httpclient"
)

// OllamaConfig configures the Ollama chat provider.
type OllamaConfig struct {
	Host        string   `mapstructure:"host"`
	Model       string   `mapstructure:"model"`
	Temperature float64  `mapstructure:"temperature"`
	TopP        float64  `mapstructure:"top_p"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	Stop        []string `mapstructure:"stop"`
	Timeout     int      `mapstructure:"timeout"`
}

func (c *OllamaConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "llama3.2"
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
		c.Timeout = 300
	}
}

func (c *OllamaConfig) Validate() error {
	if !strings.HasPrefix(c.Host, "http://") && !strings.HasPrefix(c.Host, "https://") {
		return fmt.Errorf("host must include a scheme: %s", c.Host)
	}
	return nil
}

// OllamaProvider chats through a local Ollama server. Streaming uses
// Ollama's newline-delimited JSON rather than SSE.
type OllamaProvider struct {
	config *OllamaConfig
	client *httpclient.Client
}

type ollamaChatRequest struct {
	Model    string             `json:"model"`
	Messages []Message          `json:"messages"`
	Stream   bool               `json:"stream"`
	Options  *ollamaChatOptions `json:"options,omitempty"`
}

type ollamaChatOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatResponse struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error,omitempty"`
}

// NewOllamaProvider creates an Ollama chat provider from config.
func NewOllamaProvider(cfg *OllamaConfig) (*OllamaProvider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
	)

	return &OllamaProvider{config: cfg, client: client}, nil
}

func (p *OllamaProvider) buildRequest(messages []Message, contexts []string, stream bool) ollamaChatRequest {
	return ollamaChatRequest{
		Model:    p.config.Model,
		Messages: buildMessages(messages, contexts),
		Stream:   stream,
		Options: &ollamaChatOptions{
			Temperature: p.config.Temperature,
			TopP:        p.config.TopP,
			NumPredict:  p.config.MaxTokens,
			Stop:        p.config.Stop,
		},
	}
}

func (p *OllamaProvider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(p.config.Host, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message, contexts []string) (*ChatResult, error) {
	body, err := json.Marshal(p.buildRequest(messages, contexts, false))
	if err != nil {
		return nil, NewLLMError("ollama", p.config.Model, "failed to marshal request", err)
	}

	httpReq, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, NewLLMError("ollama", p.config.Model, "failed to create request", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewLLMError("ollama", p.config.Model, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError("ollama", p.config.Model, "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewLLMError("ollama", p.config.Model,
			fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var response ollamaChatResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, NewLLMError("ollama", p.config.Model, "failed to decode response", err)
	}
	if response.Error != "" {
		return nil, NewLLMError("ollama", p.config.Model, "API error: "+response.Error, nil)
	}

	return &ChatResult{
		Content: response.Message.Content,
		Usage: &Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
			TotalTokens:      response.PromptEvalCount + response.EvalCount,
		},
	}, nil
}

func (p *OllamaProvider) ChatStream(ctx context.Context, messages []Message, contexts []string) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(messages, contexts, true))
	if err != nil {
		return nil, NewLLMError("ollama", p.config.Model, "failed to marshal request", err)
	}

	httpReq, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, NewLLMError("ollama", p.config.Model, "failed to create request", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewLLMError("ollama", p.config.Model, "request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, NewLLMError("ollama", p.config.Model,
			fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	out := make(chan StreamChunk, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var usage Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var chunk ollamaChatResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				out <- StreamChunk{Err: NewLLMError("ollama", p.config.Model, "failed to decode stream chunk", err)}
				return
			}
			if chunk.Error != "" {
				out <- StreamChunk{Err: NewLLMError("ollama", p.config.Model, "API error: "+chunk.Error, nil)}
				return
			}
			if chunk.Message.Content != "" {
				select {
				case out <- StreamChunk{Content: chunk.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				usage = Usage{
					PromptTokens:     chunk.PromptEvalCount,
					CompletionTokens: chunk.EvalCount,
					TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
				}
				out <- StreamChunk{Done: true, Usage: &usage}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: NewLLMError("ollama", p.config.Model, "stream read failed", err)}
			return
		}
		out <- StreamChunk{Done: true, Usage: &usage}
	}()

	return out, nil
}

func (p *OllamaProvider) ModelName() string {
	return p.config.Model
}

func (p *OllamaProvider) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(p.config.Host, "/")+"/api/tags", nil)
	if err != nil {
		return NewLLMError("ollama", p.config.Model, "failed to create request", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return NewLLMError("ollama", p.config.Model, "server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NewLLMError("ollama", p.config.Model,
			fmt.Sprintf("server returned status %d", resp.StatusCode), nil)
	}
	return nil
}
