package embedders

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// New builds an embedder of the given kind from loosely typed provider
// params, as stored in a configuration record.
func New(kind string, params map[string]any) (Embedder, error) {
	switch kind {
	case "openai":
		var cfg OpenAIConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewOpenAIEmbedder(&cfg)
	case "azure", "azure-openai":
		var cfg AzureConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewAzureEmbedder(&cfg)
	case "ollama":
		var cfg OllamaConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewOllamaEmbedder(&cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", kind)
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
		return fmt.Errorf("invalid embedder params: %w", err)
	}
	return nil
}
