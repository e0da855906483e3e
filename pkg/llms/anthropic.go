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

const anthropicVersion = "2023-06-01"

// AnthropicConfig configures the Anthropic chat provider.
type AnthropicConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	Model       string   `mapstructure:"model"`
	BaseURL     string   `mapstructure:"base_url"`
	Temperature float64  `mapstructure:"temperature"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	Stop        []string `mapstructure:"stop"`
	Timeout     int      `mapstructure:"timeout"`
}

func (c *AnthropicConfig) SetDefaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Model == "" {
		c.Model = os.Getenv("ANTHROPIC_MODEL")
	}
	if c.Model == "" {
		c.Model = "claude-3-5-sonnet-20241022"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.anthropic.com"
	}
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout == 0 {
		c.Timeout = defaultChatTimeout
	}
}

func (c *AnthropicConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required for anthropic provider")
	}
	return nil
}

// AnthropicProvider chats through the Anthropic messages API.
type AnthropicProvider struct {
	config *AnthropicConfig
	client *httpclient.Client
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   float64            `json:"temperature,omitempty"`
	System        string             `json:"system,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      anthropicUsage  `json:"usage"`
	Error      *anthropicError `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Message *anthropicResponse `json:"message,omitempty"`
	Usage   *anthropicUsage    `json:"usage,omitempty"`
}

// NewAnthropicProvider creates an Anthropic chat provider from config.
func NewAnthropicProvider(cfg *AnthropicConfig) (*AnthropicProvider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	)

	return &AnthropicProvider{config: cfg, client: client}, nil
}

// buildRequest maps the conversation into Anthropic's shape: the system
// prompt travels in its own field, and system-role turns are folded into
// it rather than the messages array.
func (p *AnthropicProvider) buildRequest(messages []Message, contexts []string, stream bool) anthropicRequest {
	systemParts := []string{BuildSystemPrompt(contexts)}
	msgs := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, m.Content)
		case RoleAssistant:
			msgs = append(msgs, anthropicMessage{Role: "assistant", Content: m.Content})
		default:
			msgs = append(msgs, anthropicMessage{Role: "user", Content: m.Content})
		}
	}

	return anthropicRequest{
		Model:         p.config.Model,
		Messages:      msgs,
		MaxTokens:     p.config.MaxTokens,
		Temperature:   p.config.Temperature,
		System:        strings.Join(systemParts, "\n\n"),
		StopSequences: p.config.Stop,
		Stream:        stream,
	}
}

func (p *AnthropicProvider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	return req, nil
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, contexts []string) (*ChatResult, error) {
	body, err := json.Marshal(p.buildRequest(messages, contexts, false))
	if err != nil {
		return nil, NewLLMError("anthropic", p.config.Model, "failed to marshal request", err)
	}

	httpReq, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, NewLLMError("anthropic", p.config.Model, "failed to create request", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewLLMError("anthropic", p.config.Model, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError("anthropic", p.config.Model, "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewLLMError("anthropic", p.config.Model,
			fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var response anthropicResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, NewLLMError("anthropic", p.config.Model, "failed to decode response", err)
	}
	if response.Error != nil {
		return nil, NewLLMError("anthropic", p.config.Model, "API error: "+response.Error.Message, nil)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &ChatResult{
		Content: text.String(),
		Usage: &Usage{
			PromptTokens:     response.Usage.InputTokens,
			CompletionTokens: response.Usage.OutputTokens,
			TotalTokens:      response.Usage.InputTokens + response.Usage.OutputTokens,
		},
	}, nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, messages []Message, contexts []string) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(messages, contexts, true))
	if err != nil {
		return nil, NewLLMError("anthropic", p.config.Model, "failed to marshal request", err)
	}

	httpReq, err := p.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, NewLLMError("anthropic", p.config.Model, "failed to create request", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewLLMError("anthropic", p.config.Model, "request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, NewLLMError("anthropic", p.config.Model,
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
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				out <- StreamChunk{Err: NewLLMError("anthropic", p.config.Model, "failed to decode stream event", err)}
				return
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					usage.PromptTokens = event.Message.Usage.InputTokens
				}
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Text != "" {
					select {
					case out <- StreamChunk{Content: event.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_delta":
				if event.Usage != nil {
					usage.CompletionTokens = event.Usage.OutputTokens
				}
			case "message_stop":
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
				out <- StreamChunk{Done: true, Usage: &usage}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: NewLLMError("anthropic", p.config.Model, "stream read failed", err)}
			return
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		out <- StreamChunk{Done: true, Usage: &usage}
	}()

	return out, nil
}

func (p *AnthropicProvider) ModelName() string {
	return p.config.Model
}

func (p *AnthropicProvider) TestConnection(ctx context.Context) error {
	_, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: "ping"}}, nil)
	return err
}
