package transport

import (
	"errors"
	"fmt"
)

// ErrMissingProjectKey fails a delivery attempt the same way a network
// error does, so it goes through retry and backoff.
var ErrMissingProjectKey = errors.New("project key not configured")

// StatusError is a confirmed request answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}
