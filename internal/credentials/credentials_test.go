package credentials

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/storage"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/httpclient"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/secrets"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/socialapi"
)

func newBox(t *testing.T) *secrets.SecretBox {
	t.Helper()
	box, err := secrets.NewSecretBox([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}
	return box
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewStore("bbolt", filepath.Join(t.TempDir(), "cred.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type fakeIdentity struct {
	identity socialapi.Identity
	err      error
}

func (f fakeIdentity) Identity(context.Context) (socialapi.Identity, error) { return f.identity, f.err }

func TestSealAndTokenSource(t *testing.T) {
	box := newBox(t)
	sealed, err := Seal(box, " tok-123 ")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if sealed == "tok-123" {
		t.Fatalf("token stored in plaintext")
	}
	token, err := TokenSource(box, domain.Credential{ID: "c", EncryptedSecret: sealed})(context.Background())
	if err != nil || token != "tok-123" {
		t.Fatalf("token = %q err=%v", token, err)
	}
	if _, err := TokenSource(box, domain.Credential{ID: "c", EncryptedSecret: "garbage"})(context.Background()); err == nil {
		t.Fatalf("expected error for tampered secret")
	}
	if _, err := Seal(box, "  "); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestValidateActivatesCredential(t *testing.T) {
	store := newStore(t)
	_ = store.SaveCredential(domain.Credential{ID: "c1", Status: domain.CredentialPending})

	var during domain.CredentialStatus
	v := newValidator(store, func(cred domain.Credential) IdentityAPI {
		during = cred.Status
		return fakeIdentity{identity: socialapi.Identity{ID: "owner-9", Name: "Desk"}}
	}, nil, nil)

	cred, err := v.Validate(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if during != domain.CredentialValidating {
		t.Fatalf("credential must be validating during the identity call, got %s", during)
	}
	if cred.Status != domain.CredentialActive || cred.OwnerID != "owner-9" || cred.ValidatedAt.IsZero() {
		t.Fatalf("unexpected credential %+v", cred)
	}
}

func TestValidateFailureMarksInactiveWithoutError(t *testing.T) {
	store := newStore(t)
	_ = store.SaveCredential(domain.Credential{ID: "c1", Status: domain.CredentialActive, OwnerID: "old"})

	v := newValidator(store, func(domain.Credential) IdentityAPI {
		return fakeIdentity{err: socialapi.ErrUnauthorized}
	}, nil, nil)

	cred, err := v.Validate(context.Background(), "c1")
	if err != nil {
		t.Fatalf("API failure must not be returned: %v", err)
	}
	if cred.Status != domain.CredentialInactive || cred.LastError == "" {
		t.Fatalf("unexpected credential %+v", cred)
	}
}

func TestValidateUnknownCredential(t *testing.T) {
	v := newValidator(newStore(t), func(domain.Credential) IdentityAPI { return fakeIdentity{} }, nil, nil)
	if _, err := v.Validate(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFactoryActiveAgainstServer(t *testing.T) {
	box := newBox(t)
	sealed, _ := Seal(box, "secret-token")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"identity":{"id":"u1","name":"n"}}`))
	}))
	defer srv.Close()

	store := newStore(t)
	_ = store.SaveCredential(domain.Credential{ID: "live", Host: srv.URL, EncryptedSecret: sealed, Status: domain.CredentialActive})
	_ = store.SaveCredential(domain.Credential{ID: "off", Host: srv.URL, EncryptedSecret: sealed, Status: domain.CredentialInactive})

	factory := &Factory{
		Store:     store,
		Box:       box,
		Transport: httpclient.NewRestyClient(httpclient.Options{Timeout: 2 * time.Second}),
	}

	client, err := factory.Active(context.Background(), "live")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	id, err := client.Identity(context.Background())
	if err != nil || id.ID != "u1" {
		t.Fatalf("Identity = %+v err=%v", id, err)
	}

	if _, err := factory.Active(context.Background(), "off"); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
}

func TestRevalidationIgnoresCachedIdentity(t *testing.T) {
	box := newBox(t)
	sealed, _ := Seal(box, "secret-token")

	var revoked atomic.Bool
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if revoked.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"identity":{"id":"u1","name":"n"}}`))
	}))
	defer srv.Close()

	store := newStore(t)
	_ = store.SaveCredential(domain.Credential{ID: "c1", Host: srv.URL, EncryptedSecret: sealed, Status: domain.CredentialPending})

	transport := httpclient.NewRestyClient(httpclient.Options{Timeout: 2 * time.Second})
	factory := &Factory{
		Store:     store,
		Box:       box,
		Transport: transport,
		Reads:     httpclient.NewCachingClient(transport, httpclient.NewMemoryCache(nil), time.Hour),
	}
	v := NewValidator(store, factory, nil, nil)

	cred, err := v.Validate(context.Background(), "c1")
	if err != nil || cred.Status != domain.CredentialActive {
		t.Fatalf("first validation: %+v err=%v", cred, err)
	}
	// Warm the read cache the way publishing code would.
	if _, err := factory.Client(cred).Identity(context.Background()); err != nil {
		t.Fatalf("cached identity: %v", err)
	}

	revoked.Store(true)
	cred, err = v.Validate(context.Background(), "c1")
	if err != nil {
		t.Fatalf("second validation: %v", err)
	}
	if cred.Status != domain.CredentialInactive {
		t.Fatalf("revoked token must deactivate the credential, got %+v", cred)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected every validation to reach the API, got %d calls", got)
	}
}
