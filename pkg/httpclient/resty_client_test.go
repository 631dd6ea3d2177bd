package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRestyClientReturnsStatusWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	defer srv.Close()

	resp, err := NewRestyClient(Options{Timeout: time.Second}).Get(context.Background(), srv.URL, Request{})
	if err != nil {
		t.Fatalf("expected no transport error, got %v", err)
	}
	if resp.Status != http.StatusNotFound || resp.OK() {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestRestyClientClassifiesTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewRestyClient(Options{Timeout: 50 * time.Millisecond}).Get(context.Background(), srv.URL, Request{})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestRestyClientClassifiesConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewRestyClient(Options{Timeout: time.Second}).Get(context.Background(), url, Request{})
	if !IsConnection(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestRestyClientFollowsBoundedRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewRestyClient(Options{Timeout: time.Second, MaxRedirects: 3})
	resp, err := client.Get(context.Background(), srv.URL+"/start", Request{})
	if err != nil || string(resp.Body) != "ok" {
		t.Fatalf("expected redirect to be followed, resp=%+v err=%v", resp, err)
	}
	if _, err := client.Get(context.Background(), srv.URL+"/loop", Request{}); err == nil {
		t.Fatalf("expected redirect loop to fail")
	}
}

func TestRestyClientSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if got := r.FormValue("url"); got != "https://img/x.png" {
			t.Errorf("unexpected url field %q", got)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	resp, err := NewRestyClient(Options{Timeout: time.Second}).Post(context.Background(), srv.URL, Request{
		FormData: map[string]string{"url": "https://img/x.png"},
	})
	if err != nil || resp.Status != http.StatusCreated {
		t.Fatalf("post multipart: resp=%+v err=%v", resp, err)
	}
}
