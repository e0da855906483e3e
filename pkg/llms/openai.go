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

// Generation defaults shared by all chat providers.
const (
	defaultTemperature = 0.7
	defaultTopP        = 1.0
	defaultMaxTokens   = 2048
	defaultChatTimeout = 120
)

// OpenAIConfig configures the OpenAI chat provider.
type OpenAIConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	Model       string   `mapstructure:"model"`
	BaseURL     string   `mapstructure:"base_url"`
	Temperature float64  `mapstructure:"temperature"`
	TopP        float64  `mapstructure:"top_p"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	Stop        []string `mapstructure:"stop"`
	Timeout     int      `mapstructure:"timeout"`
}

func (c *OpenAIConfig) SetDefaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Model == "" {
		c.Model = os.Getenv("OPENAI_MODEL")
	}
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
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

func (c *OpenAIConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required for openai provider")
	}
	return nil
}

// OpenAIProvider chats through the OpenAI chat completions API.
type OpenAIProvider struct {
	config *OpenAIConfig
	client *httpclient.Client
}

type openAIChatRequest struct {
	Model         string              `json:"model"`
	Messages      []Message           `json:"messages"`
	Temperature   float64             `json:"temperature"`
	TopP          float64             `json:"top_p"`
	MaxTokens     int                 `json:"max_tokens,omitempty"`
	Stop          []string            `json:"stop,omitempty"`
	Stream        bool                `json:"stream"`
	StreamOptions *openAIStreamOption `json:"stream_options,omitempty"`
}

type openAIStreamOption struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

type openAIChatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIProvider creates an OpenAI chat provider from config.
func NewOpenAIProvider(cfg *OpenAIConfig) (*OpenAIProvider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	return &OpenAIProvider{config: cfg, client: client}, nil
}

// buildMessages prepends the context-bearing system prompt to the
// conversation.
func buildMessages(messages []Message, contexts []string) []Message {
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: BuildSystemPrompt(contexts)})
	out = append(out, messages...)
	return out
}

func (p *OpenAIProvider) buildRequest(messages []Message, contexts []string, stream bool) openAIChatRequest {
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

func (p *OpenAIProvider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	return req, nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, contexts []string) (*ChatResult, error) {
	body, err := json.Marshal(p.buildRequest(messages, contexts, false))
	if err != nil {
		return nil, NewLLMError("openai", p.config.Model, "failed to marshal request", err)
	}

	httpReq, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, NewLLMError("openai", p.config.Model, "failed to create request", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewLLMError("openai", p.config.Model, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError("openai", p.config.Model, "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseOpenAIError("openai", p.config.Model, resp.StatusCode, respBody)
	}

	var response openAIChatResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, NewLLMError("openai", p.config.Model, "failed to decode response", err)
	}
	if len(response.Choices) == 0 {
		return nil, NewLLMError("openai", p.config.Model, "response contained no choices", nil)
	}

	return &ChatResult{
		Content: response.Choices[0].Message.Content,
		Usage:   &response.Usage,
	}, nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []Message, contexts []string) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(messages, contexts, true))
	if err != nil {
		return nil, NewLLMError("openai", p.config.Model, "failed to marshal request", err)
	}

	httpReq, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, NewLLMError("openai", p.config.Model, "failed to create request", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewLLMError("openai", p.config.Model, "request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, parseOpenAIError("openai", p.config.Model, resp.StatusCode, respBody)
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
				out <- StreamChunk{Err: NewLLMError("openai", p.config.Model, "failed to decode stream chunk", err)}
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
			out <- StreamChunk{Err: NewLLMError("openai", p.config.Model, "stream read failed", err)}
			return
		}
		out <- StreamChunk{Done: true, Usage: &usage}
	}()

	return out, nil
}

func (p *OpenAIProvider) ModelName() string {
	return p.config.Model
}

func (p *OpenAIProvider) TestConnection(ctx context.Context) error {
	_, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: "ping"}}, nil)
	return err
}

func parseOpenAIError(provider, model string, status int, body []byte) error {
	var errResp openAIChatError
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		return NewLLMError(provider, model,
			fmt.Sprintf("API error (type: %s, code: %s): %s", errResp.Error.Type, errResp.Error.Code, errResp.Error.Message), nil)
	}
	return NewLLMError(provider, model,
		fmt.Sprintf("API returned status %d: %s", status, string(body)), nil)
}
