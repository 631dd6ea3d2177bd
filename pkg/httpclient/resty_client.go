package httpclient

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Options configures the resty transport.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
}

// RestyClient adapts resty.Client to the httpclient.Client interface.
type RestyClient struct {
	client *resty.Client
}

// NewRestyClient creates a new RestyClient with a fixed timeout and bounded redirects.
func NewRestyClient(opts Options) *RestyClient {
	return &RestyClient{client: NewRestyHTTPClient(opts)}
}

// NewRestyHTTPClient exposes a configured resty.Client for callers needing custom verbs.
func NewRestyHTTPClient(opts Options) *resty.Client {
	c := resty.New()
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}
	if opts.MaxRedirects > 0 {
		c.SetRedirectPolicy(resty.FlexibleRedirectPolicy(opts.MaxRedirects))
	} else {
		c.SetRedirectPolicy(resty.NoRedirectPolicy())
	}
	if opts.UserAgent != "" {
		c.SetHeader("User-Agent", opts.UserAgent)
	}
	return c
}

func (r *RestyClient) Get(ctx context.Context, url string, req Request) (*Response, error) {
	return r.do(ctx, http.MethodGet, url, req)
}

func (r *RestyClient) Post(ctx context.Context, url string, req Request) (*Response, error) {
	return r.do(ctx, http.MethodPost, url, req)
}

func (r *RestyClient) Put(ctx context.Context, url string, req Request) (*Response, error) {
	return r.do(ctx, http.MethodPut, url, req)
}

func (r *RestyClient) Delete(ctx context.Context, url string, req Request) (*Response, error) {
	return r.do(ctx, http.MethodDelete, url, req)
}

func (r *RestyClient) do(ctx context.Context, method, url string, in Request) (*Response, error) {
	req := r.client.R().SetContext(ctx)
	if len(in.Headers) > 0 {
		req.SetHeaders(in.Headers)
	}
	if len(in.Query) > 0 {
		req.SetQueryParams(in.Query)
	}
	switch {
	case len(in.FormData) > 0 || len(in.Files) > 0:
		req.SetMultipartFormData(in.FormData)
		for _, f := range in.Files {
			req.SetFileReader(f.Field, f.Name, bytes.NewReader(f.Content))
		}
	case in.Body != nil:
		req.SetHeader("Content-Type", "application/json")
		req.SetBody(in.Body)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, &Error{Kind: classify(err), Method: method, URL: url, Err: err}
	}
	return &Response{
		Status: resp.StatusCode(),
		Body:   resp.Body(),
		Header: resp.Header(),
	}, nil
}

func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnection
	}
	return KindGeneric
}
