package llms

import "fmt"

// LLMError wraps failures from a chat backend.
type LLMError struct {
	Provider string
	Model    string
	Message  string
	Err      error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Provider, e.Model, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Provider, e.Model, e.Message)
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

// NewLLMError creates a new LLMError.
func NewLLMError(provider, model, message string, err error) *LLMError {
	return &LLMError{
		Provider: provider,
		Model:    model,
		Message:  message,
		Err:      err,
	}
}
