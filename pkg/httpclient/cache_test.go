package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestCachingClientHitsTransportOnceForGet(t *testing.T) {
	var gets, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			gets.Add(1)
		case http.MethodPost:
			posts.Add(1)
		}
		_, _ = w.Write([]byte(`{"identity":{"id":"u1"}}`))
	}))
	defer srv.Close()

	client := NewCachingClient(NewRestyClient(Options{Timeout: 2 * time.Second}), NewMemoryCache(nil), time.Minute)
	ctx := context.Background()
	req := Request{Headers: map[string]string{"Authorization": "Bearer t"}, Query: map[string]string{"a": "1"}}

	first, err := client.Get(ctx, srv.URL+"/identity", req)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, err := client.Get(ctx, srv.URL+"/identity", req)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if gets.Load() != 1 {
		t.Fatalf("expected one transport GET, got %d", gets.Load())
	}
	if string(first.Body) != string(second.Body) {
		t.Fatalf("cached body differs: %q vs %q", first.Body, second.Body)
	}

	for i := 0; i < 2; i++ {
		if _, err := client.Post(ctx, srv.URL+"/posts", Request{Body: map[string]string{"m": "x"}}); err != nil {
			t.Fatalf("post: %v", err)
		}
	}
	if posts.Load() != 2 {
		t.Fatalf("expected every POST to reach the transport, got %d", posts.Load())
	}
}

func TestCachingClientSkipsNon2xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewCachingClient(NewRestyClient(Options{Timeout: 2 * time.Second}), NewMemoryCache(nil), time.Minute)
	for i := 0; i < 2; i++ {
		resp, err := client.Get(context.Background(), srv.URL, Request{})
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if resp.Status != http.StatusServiceUnavailable {
			t.Fatalf("unexpected status %d", resp.Status)
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("expected error responses to bypass cache, hits=%d", hits.Load())
	}
}

func TestMemoryCacheExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(func() time.Time { return now })
	ctx := context.Background()

	if err := cache.Set(ctx, "k", &Response{Status: 200, Body: []byte("x")}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "k"); !ok {
		t.Fatalf("expected hit before expiry")
	}
	now = now.Add(time.Minute)
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatalf("expected miss at expiry")
	}
}

func TestMemoryCacheSweepsExpiredOnSet(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(func() time.Time { return now })
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_ = cache.Set(ctx, k, &Response{Status: 200}, time.Minute)
	}
	_ = cache.Set(ctx, "long", &Response{Status: 200}, time.Hour)

	now = now.Add(2 * time.Minute)
	_ = cache.Set(ctx, "d", &Response{Status: 200}, time.Minute)

	if len(cache.entries) != 2 {
		t.Fatalf("expired entries must be swept, have %d", len(cache.entries))
	}
	if _, ok, _ := cache.Get(ctx, "long"); !ok {
		t.Fatalf("live entry swept")
	}
}

type failingCache struct {
	gets, sets int
}

func (f *failingCache) Get(context.Context, string) (*Response, bool, error) {
	f.gets++
	return nil, false, errors.New("cache down")
}

func (f *failingCache) Set(context.Context, string, *Response, time.Duration) error {
	f.sets++
	return errors.New("cache down")
}

func TestCachingClientFallsThroughOnCacheErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	cache := &failingCache{}
	client := NewCachingClient(NewRestyClient(Options{Timeout: 2 * time.Second}), cache, time.Minute)
	for i := 0; i < 2; i++ {
		resp, err := client.Get(context.Background(), srv.URL, Request{})
		if err != nil {
			t.Fatalf("cache errors must not fail the request: %v", err)
		}
		if string(resp.Body) != "ok" {
			t.Fatalf("unexpected body %q", resp.Body)
		}
	}
	if hits.Load() != 2 || cache.gets != 2 || cache.sets != 2 {
		t.Fatalf("hits=%d gets=%d sets=%d", hits.Load(), cache.gets, cache.sets)
	}
}

// fakeRedis keeps raw values in a map and answers with go-redis result types.
type fakeRedis struct {
	values  map[string]string
	deleted []string
	getErr  error
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.values[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.values, k)
	}
	f.deleted = append(f.deleted, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisCacheRoundTripMissAndCorrupt(t *testing.T) {
	fake := &fakeRedis{values: map[string]string{}}
	cache := &RedisCache{client: fake}
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "absent"); ok || err != nil {
		t.Fatalf("redis.Nil must be a clean miss, ok=%v err=%v", ok, err)
	}

	want := &Response{Status: 200, Body: []byte("hello"), Header: http.Header{"Etag": {"v1"}}}
	if err := cache.Set(ctx, "k", want, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := cache.Get(ctx, "k")
	if err != nil || !ok || got.Status != 200 || string(got.Body) != "hello" || got.Header.Get("Etag") != "v1" {
		t.Fatalf("round trip = %+v ok=%v err=%v", got, ok, err)
	}

	fake.values["bad"] = "{not json"
	if _, ok, err := cache.Get(ctx, "bad"); ok || err != nil {
		t.Fatalf("corrupt entry must read as a miss, ok=%v err=%v", ok, err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "bad" {
		t.Fatalf("corrupt entry must be deleted, deleted=%v", fake.deleted)
	}

	fake.getErr = errors.New("connection refused")
	if _, _, err := cache.Get(ctx, "k"); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestCachingClientOverRedisMissReachesTransport(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	fake := &fakeRedis{values: map[string]string{}}
	client := NewCachingClient(NewRestyClient(Options{Timeout: 2 * time.Second}), &RedisCache{client: fake}, time.Minute)
	key := CacheKey(http.MethodGet, srv.URL, Request{})
	fake.values[key] = "garbage"

	for i := 0; i < 2; i++ {
		if _, err := client.Get(context.Background(), srv.URL, Request{}); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("corrupt entry must be replaced by the live response, hits=%d", hits.Load())
	}
}

func TestCacheKeyIgnoresMapOrderAndHeaderCase(t *testing.T) {
	a := CacheKey("GET", "http://x/y", Request{
		Headers: map[string]string{"authorization": "Bearer t", "Accept": "json"},
		Query:   map[string]string{"b": "2", "a": "1"},
	})
	b := CacheKey("get", "http://x/y", Request{
		Headers: map[string]string{"Accept": "json", "Authorization": "Bearer t"},
		Query:   map[string]string{"a": "1", "b": "2"},
	})
	if a != b {
		t.Fatalf("expected equal keys")
	}
	c := CacheKey("GET", "http://x/y", Request{Headers: map[string]string{"Authorization": "Bearer other"}})
	if a == c {
		t.Fatalf("expected different tokens to produce different keys")
	}
}
