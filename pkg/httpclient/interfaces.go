package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Response is the buffered result of an HTTP call.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// File is one multipart file part.
type File struct {
	Field   string
	Name    string
	Content []byte
}

// Request carries per-call options. Body is JSON encoded; FormData or Files
// switch the request to multipart.
type Request struct {
	Headers  map[string]string
	Query    map[string]string
	Body     any
	FormData map[string]string
	Files    []File
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
// Non-2xx statuses are returned as responses, never as errors.
type Client interface {
	Get(ctx context.Context, url string, req Request) (*Response, error)
	Post(ctx context.Context, url string, req Request) (*Response, error)
	Put(ctx context.Context, url string, req Request) (*Response, error)
	Delete(ctx context.Context, url string, req Request) (*Response, error)
}

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	KindGeneric    ErrorKind = "generic"
	KindConnection ErrorKind = "connection"
	KindTimeout    ErrorKind = "timeout"
)

// Error is a transport-level failure: the request never produced a response.
type Error struct {
	Kind   ErrorKind
	Method string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s error: %v", e.Method, e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTimeout
}

// IsConnection reports whether err is a connection failure.
func IsConnection(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindConnection
}
