package embedders

import "fmt"

// EmbeddingError wraps failures from an embedding backend with enough
// context to tell which provider and model produced them.
type EmbeddingError struct {
	Provider string
	Model    string
	Message  string
	Err      error
}

func (e *EmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Provider, e.Model, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Provider, e.Model, e.Message)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// NewEmbeddingError creates a new EmbeddingError.
func NewEmbeddingError(provider, model, message string, err error) *EmbeddingError {
	return &EmbeddingError{
		Provider: provider,
		Model:    model,
		Message:  message,
		Err:      err,
	}
}
