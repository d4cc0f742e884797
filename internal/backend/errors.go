package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedResponse is returned when a 2xx body lacks required fields.
var ErrMalformedResponse = errors.New("malformed backend response")

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	return StatusCodeOf(err) == http.StatusNotFound
}

// IsUnauthorized reports whether err is a backend 401 or 403.
func IsUnauthorized(err error) bool {
	code := StatusCodeOf(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
