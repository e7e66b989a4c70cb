package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nhle/teamboard/internal/transport"
)

// Error is a failed REST call: a non-2xx answer, or retries exhausted on
// 429. Callers show Message to the user.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (%d) on %s %s", e.StatusCode, e.Method, e.Path)
	}
	return fmt.Sprintf("api error (%d) on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Message)
}

// Unwrap lets errors.Is(err, transport.ErrUnauthenticated) match a 401.
func (e *Error) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return transport.ErrUnauthenticated
	}
	return nil
}

// IsAPIError reports whether err (or any error in its chain) is an *Error.
func IsAPIError(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr)
}

// StatusCode returns the HTTP status of an *Error in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// errorBody is the server's error envelope.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (b errorBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	return b.Error
}
