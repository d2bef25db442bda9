package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound matches any API error with a 404 status via errors.Is.
var ErrNotFound = errors.New("not found")

// APIError represents a non-2xx response from the platform.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}
