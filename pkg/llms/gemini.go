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

// GeminiConfig configures the Google Gemini chat provider.
type GeminiConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	Model       string   `mapstructure:"model"`
	BaseURL     string   `mapstructure:"base_url"`
	Temperature float64  `mapstructure:"temperature"`
	TopP        float64  `mapstructure:"top_p"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	Stop        []string `mapstructure:"stop"`
	Timeout     int      `mapstructure:"timeout"`
}

func (c *GeminiConfig) SetDefaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Model == "" {
		c.Model = "gemini-1.5-flash"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://generativelanguage.googleapis.com"
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

func (c *GeminiConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required for gemini provider")
	}
	return nil
}

// GeminiProvider chats through the Gemini generateContent API.
type GeminiProvider struct {
	config *GeminiConfig
	client *httpclient.Client
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64  `json:"temperature,omitempty"`
	TopP            float64  `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// NewGeminiProvider creates a Gemini chat provider from config.
func NewGeminiProvider(cfg *GeminiConfig) (*GeminiProvider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
	)

	return &GeminiProvider{config: cfg, client: client}, nil
}

func (p *GeminiProvider) buildRequest(messages []Message, contexts []string) geminiRequest {
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	return geminiRequest{
		Contents: contents,
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: BuildSystemPrompt(contexts)}},
		},
		GenerationConfig: &geminiGenConfig{
			Temperature:     p.config.Temperature,
			TopP:            p.config.TopP,
			MaxOutputTokens: p.config.MaxTokens,
			StopSequences:   p.config.Stop,
		},
	}
}

func (p *GeminiProvider) newHTTPRequest(ctx context.Context, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message, contexts []string) (*ChatResult, error) {
	body, err := json.Marshal(p.buildRequest(messages, contexts))
	if err != nil {
		return nil, NewLLMError("gemini", p.config.Model, "failed to marshal request", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimSuffix(p.config.BaseURL, "/"), p.config.Model, p.config.APIKey)
	httpReq, err := p.newHTTPRequest(ctx, url, body)
	if err != nil {
		return nil, NewLLMError("gemini", p.config.Model, "failed to create request", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewLLMError("gemini", p.config.Model, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError("gemini", p.config.Model, "failed to read response", err)
	}

	var response geminiResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, NewLLMError("gemini", p.config.Model, "failed to decode response", err)
	}
	if response.Error != nil {
		return nil, NewLLMError("gemini", p.config.Model,
			fmt.Sprintf("API error %d (%s): %s", response.Error.Code, response.Error.Status, response.Error.Message), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewLLMError("gemini", p.config.Model,
			fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}
	if len(response.Candidates) == 0 {
		return nil, NewLLMError("gemini", p.config.Model, "response contained no candidates", nil)
	}

	var text strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	result := &ChatResult{Content: text.String()}
	if response.UsageMetadata != nil {
		result.Usage = &Usage{
			PromptTokens:     response.UsageMetadata.PromptTokenCount,
			CompletionTokens: response.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      response.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

func (p *GeminiProvider) ChatStream(ctx context.Context, messages []Message, contexts []string) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(messages, contexts))
	if err != nil {
		return nil, NewLLMError("gemini", p.config.Model, "failed to marshal request", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse",
		strings.TrimSuffix(p.config.BaseURL, "/"), p.config.Model, p.config.APIKey)
	httpReq, err := p.newHTTPRequest(ctx, url, body)
	if err != nil {
		return nil, NewLLMError("gemini", p.config.Model, "failed to create request", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewLLMError("gemini", p.config.Model, "request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, NewLLMError("gemini", p.config.Model,
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
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				out <- StreamChunk{Err: NewLLMError("gemini", p.config.Model, "failed to decode stream chunk", err)}
				return
			}
			if chunk.Error != nil {
				out <- StreamChunk{Err: NewLLMError("gemini", p.config.Model, "API error: "+chunk.Error.Message, nil)}
				return
			}
			if chunk.UsageMetadata != nil {
				usage = Usage{
					PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
					CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
					TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
				}
			}
			for _, cand := range chunk.Candidates {
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					select {
					case out <- StreamChunk{Content: part.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}

		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: NewLLMError("gemini", p.config.Model, "stream read failed", err)}
			return
		}
		out <- StreamChunk{Done: true, Usage: &usage}
	}()

	return out, nil
}

func (p *GeminiProvider) ModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) TestConnection(ctx context.Context) error {
	_, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: "ping"}}, nil)
	return err
}
