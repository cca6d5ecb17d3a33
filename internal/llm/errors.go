package llm

import "fmt"

// CompletionError reports a failed completion round trip: transport error,
// non-success status, or an empty reply. It is never retried.
type CompletionError struct {
	Cause      string
	StatusCode int
	Err        error
}

func (e *CompletionError) Error() string {
	if e.StatusCode != 0 && e.Err == nil {
		return fmt.Sprintf("completion failed (status %d): %s", e.StatusCode, e.Cause)
	}
	return "completion failed: " + e.Cause
}

func (e *CompletionError) Unwrap() error { return e.Err }
