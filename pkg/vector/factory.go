package vector

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// New builds a vector provider of the given kind from loosely typed
// provider params, as stored in a configuration record. "faiss" is the
// historical name of the local file-backed index.
func New(kind string, params map[string]any) (Provider, error) {
	switch kind {
	case "faiss", "local":
		var cfg LocalConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewLocalProvider(&cfg)
	case "pinecone":
		var cfg PineconeConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewPineconeProvider(&cfg)
	case "chroma":
		var cfg ChromaConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewChromaProvider(&cfg)
	case "chromem":
		var cfg ChromemConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewChromemProvider(&cfg)
	case "qdrant":
		var cfg QdrantConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewQdrantProvider(&cfg)
	default:
		return nil, fmt.Errorf("unknown vector provider: %s", kind)
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
		return fmt.Errorf("invalid vector provider params: %w", err)
	}
	return nil
}
