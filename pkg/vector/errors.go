package vector

import "fmt"

// VectorStoreError wraps failures from a vector index backend.
type VectorStoreError struct {
	Provider string
	Op       string
	Message  string
	Err      error
}

func (e *VectorStoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s failed: %s: %v", e.Provider, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s failed: %s", e.Provider, e.Op, e.Message)
}

func (e *VectorStoreError) Unwrap() error {
	return e.Err
}

// NewVectorStoreError creates a new VectorStoreError.
func NewVectorStoreError(provider, op, message string, err error) *VectorStoreError {
	return &VectorStoreError{
		Provider: provider,
		Op:       op,
		Message:  message,
		Err:      err,
	}
}
