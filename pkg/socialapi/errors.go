package socialapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized maps 401 and 403 responses.
	ErrUnauthorized = errors.New("social api: unauthorized")
	// ErrNotFound maps 404 responses.
	ErrNotFound = errors.New("social api: not found")
)

// APIError is any other non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("social api: status %d: %s", e.Status, e.Body)
}

// FormatError reports a response missing its expected envelope key.
type FormatError struct {
	Key string
	Err error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("social api: malformed %q envelope: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("social api: response missing %q key", e.Key)
}

func (e *FormatError) Unwrap() error { return e.Err }

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrUnauthorized, status)
	case status == http.StatusNotFound:
		return ErrNotFound
	default:
		return &APIError{Status: status, Body: truncateBody(body)}
	}
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
