package pipeline

import "fmt"

// ProcessingError reports a failure at a named stage of document
// processing.
type ProcessingError struct {
	DocumentID string
	Stage      string
	Message    string
	Err        error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s failed: %s: %v", e.DocumentID, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s failed: %s", e.DocumentID, e.Stage, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func NewProcessingError(documentID, stage, message string, err error) *ProcessingError {
	return &ProcessingError{
		DocumentID: documentID,
		Stage:      stage,
		Message:    message,
		Err:        err,
	}
}
