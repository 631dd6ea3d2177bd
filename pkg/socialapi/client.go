package socialapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/pkg/httpclient"
)

// TokenSource yields the bearer token for one request. Implementations decrypt
// at use and must not cache the plaintext.
type TokenSource func(ctx context.Context) (string, error)

// Identity is the account behind a token.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Destination is a managed publishing target (page, group, channel).
type Destination struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewPost is the payload for creating a remote post.
type NewPost struct {
	DestinationID string    `json:"destination_id"`
	Message       string    `json:"message"`
	Link          string    `json:"link,omitempty"`
	AttachmentIDs []string  `json:"attachment_ids,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
}

type idPayload struct {
	ID string `json:"id"`
}

// Client calls the upstream REST API on behalf of one credential.
type Client struct {
	baseURL string
	http    httpclient.Client
	reads   httpclient.Client
	token   TokenSource
}

// New builds a Client. reads serves GET endpoints and may be a caching
// decorator; writes always go through transport.
func New(baseURL string, transport, reads httpclient.Client, token TokenSource) *Client {
	if reads == nil {
		reads = transport
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    transport,
		reads:   reads,
		token:   token,
	}
}

// Identity returns the token owner.
func (c *Client) Identity(ctx context.Context) (Identity, error) {
	var out Identity
	err := c.call(ctx, c.reads.Get, "/identity", httpclient.Request{}, "identity", &out)
	return out, err
}

// Destinations lists the destinations the token may publish to.
func (c *Client) Destinations(ctx context.Context) ([]Destination, error) {
	var out []Destination
	err := c.call(ctx, c.reads.Get, "/managed-destinations", httpclient.Request{}, "destinations", &out)
	return out, err
}

// UploadAttachment registers a remote media URL and returns its attachment id.
func (c *Client) UploadAttachment(ctx context.Context, mediaURL string) (string, error) {
	var out idPayload
	req := httpclient.Request{FormData: map[string]string{"url": mediaURL}}
	if err := c.call(ctx, c.http.Post, "/attachments", req, "attachments", &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreatePost creates a remote post and returns its id.
func (c *Client) CreatePost(ctx context.Context, p NewPost) (string, error) {
	var out idPayload
	if err := c.call(ctx, c.http.Post, "/posts", httpclient.Request{Body: p}, "posts", &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateComment adds a comment under a remote post.
func (c *Client) CreateComment(ctx context.Context, postID, message string) (string, error) {
	var out idPayload
	body := map[string]string{"post_id": postID, "message": message}
	if err := c.call(ctx, c.http.Post, "/comments", httpclient.Request{Body: body}, "comments", &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// DeletePost removes a remote post. Delete responses carry no envelope.
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	return c.call(ctx, c.http.Delete, "/posts/"+url.PathEscape(postID), httpclient.Request{}, "", nil)
}

type verb func(ctx context.Context, url string, req httpclient.Request) (*httpclient.Response, error)

func (c *Client) call(ctx context.Context, do verb, path string, req httpclient.Request, key string, out any) error {
	if c.token == nil {
		return fmt.Errorf("social api: no token source")
	}
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	headers := make(map[string]string, len(req.Headers)+2)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers["Authorization"] = "Bearer " + token
	headers["Accept"] = "application/json"
	req.Headers = headers

	resp, err := do(ctx, c.baseURL+path, req)
	if err != nil {
		return err
	}
	if err := classifyStatus(resp.Status, resp.Body); err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	return decodeEnvelope(resp.Body, key, out)
}

func decodeEnvelope(body []byte, key string, out any) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &FormatError{Key: key, Err: err}
	}
	raw, ok := envelope[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return &FormatError{Key: key}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &FormatError{Key: key, Err: err}
	}
	return nil
}
