package llms

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// New builds a chat provider of the given kind from loosely typed
// provider params, as stored in a configuration record.
func New(kind string, params map[string]any) (Provider, error) {
	switch kind {
	case "openai":
		var cfg OpenAIConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewOpenAIProvider(&cfg)
	case "azure", "azure-openai":
		var cfg AzureConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewAzureProvider(&cfg)
	case "anthropic":
		var cfg AnthropicConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewAnthropicProvider(&cfg)
	case "gemini":
		var cfg GeminiConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewGeminiProvider(&cfg)
	case "ollama":
		var cfg OllamaConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewOllamaProvider(&cfg)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", kind)
	}
}

func decodeParams(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build params decoder: %w", err)
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("invalid LLM params: %w", err)
	}
	return nil
}
