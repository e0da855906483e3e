package httpclient

import (
	"fmt"
	"time"
)

// RetryExhaustedError reports that every retry attempt failed.
type RetryExhaustedError struct {
	StatusCode int
	Attempts   int
	RetryAfter time.Duration
}

func (e *RetryExhaustedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d after %d attempts (backend asked to retry after %v)",
			e.StatusCode, e.Attempts, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d after %d attempts", e.StatusCode, e.Attempts)
}
