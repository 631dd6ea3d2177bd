package httpclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore keeps cached responses keyed by request digest.
type CacheStore interface {
	Get(ctx context.Context, key string) (*Response, bool, error)
	Set(ctx context.Context, key string, resp *Response, ttl time.Duration) error
}

// CachingClient serves repeated GETs from a CacheStore. Writes always reach the
// wrapped client. Only 2xx responses are cached.
type CachingClient struct {
	next  Client
	store CacheStore
	ttl   time.Duration
}

// NewCachingClient wraps next with a write-through GET cache.
func NewCachingClient(next Client, store CacheStore, ttl time.Duration) *CachingClient {
	return &CachingClient{next: next, store: store, ttl: ttl}
}

func (c *CachingClient) Get(ctx context.Context, url string, req Request) (*Response, error) {
	if c.store == nil || c.ttl <= 0 {
		return c.next.Get(ctx, url, req)
	}

	key := CacheKey(http.MethodGet, url, req)
	if resp, ok, err := c.store.Get(ctx, key); err == nil && ok {
		return resp, nil
	}

	resp, err := c.next.Get(ctx, url, req)
	if err != nil {
		return nil, err
	}
	if resp.OK() {
		// A failed cache write still returns the live response.
		_ = c.store.Set(ctx, key, resp, c.ttl)
	}
	return resp, nil
}

func (c *CachingClient) Post(ctx context.Context, url string, req Request) (*Response, error) {
	return c.next.Post(ctx, url, req)
}

func (c *CachingClient) Put(ctx context.Context, url string, req Request) (*Response, error) {
	return c.next.Put(ctx, url, req)
}

func (c *CachingClient) Delete(ctx context.Context, url string, req Request) (*Response, error) {
	return c.next.Delete(ctx, url, req)
}

// CacheKey digests method, URL, sorted headers and sorted query options.
func CacheKey(method, url string, req Request) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(url)
	b.WriteByte('\n')
	writeSorted(&b, req.Headers, true)
	b.WriteByte('\n')
	writeSorted(&b, req.Query, false)

	sum := sha256.Sum256([]byte(b.String()))
	return "httpcache:" + hex.EncodeToString(sum[:])
}

func writeSorted(b *strings.Builder, m map[string]string, canonical bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := k
		if canonical {
			name = http.CanonicalHeaderKey(k)
		}
		fmt.Fprintf(b, "%s=%s;", name, m[k])
	}
}

// NewCacheStore builds the configured cache backend.
func NewCacheStore(typ, redisURL string) (CacheStore, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "memory":
		return NewMemoryCache(nil), nil
	case "redis":
		rc, err := NewRedisCache(redisURL)
		if err != nil {
			return nil, err
		}
		return rc, nil
	case "none", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported api cache type %q", typ)
	}
}

// MemoryCache is an in-process TTL map. Expired entries are dropped on read
// and swept on every write.
type MemoryCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	resp      Response
	expiresAt time.Time
}

// NewMemoryCache returns an empty cache; now defaults to time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{now: now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*Response, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	resp := e.resp
	return &resp, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, resp *Response, ttl time.Duration) error {
	if resp == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.entries[key] = memoryEntry{resp: *resp, expiresAt: now.Add(ttl)}
	return nil
}

// RedisCache stores responses as JSON blobs with a native TTL.
type RedisCache struct {
	client redisCommands
}

// redisCommands is the subset of *redis.Client the cache uses.
type redisCommands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

type redisEntry struct {
	Status int         `json:"status"`
	Body   []byte      `json:"body"`
	Header http.Header `json:"header,omitempty"`
}

// NewRedisCache connects to the redis URL and pings it.
func NewRedisCache(url string) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (*Response, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get key %s: %w", key, err)
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		r.client.Del(ctx, key)
		return nil, false, nil
	}
	return &Response{Status: e.Status, Body: e.Body, Header: e.Header}, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, resp *Response, ttl time.Duration) error {
	if resp == nil {
		return nil
	}
	raw, err := json.Marshal(redisEntry{Status: resp.Status, Body: resp.Body, Header: resp.Header})
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set key %s: %w", key, err)
	}
	return nil
}

// Close closes the redis connection.
func (r *RedisCache) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
