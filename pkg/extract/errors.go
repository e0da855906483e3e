package extract

import "fmt"

// ExtractionError represents a failure to extract text from a document.
type ExtractionError struct {
	Extractor string // Extractor name (e.g., "pdf", "docx", "ocr")
	Path      string // File path
	Message   string // Error message
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("[%s] extraction failed for %s: %s", e.Extractor, e.Path, e.Message)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// NewExtractionError creates a new ExtractionError.
func NewExtractionError(extractor, path, message string, err error) *ExtractionError {
	return &ExtractionError{
		Extractor: extractor,
		Path:      path,
		Message:   message,
		Err:       err,
	}
}
