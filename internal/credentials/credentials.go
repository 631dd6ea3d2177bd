package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/events"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/httpclient"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/secrets"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/socialapi"
)

// ErrInactive is returned when a credential exists but may not call the API.
var ErrInactive = errors.New("credential is not active")

// Store is the subset of storage.Store used for credentials.
type Store interface {
	GetCredential(id string) (domain.Credential, error)
	UpdateCredential(id string, mutate func(*domain.Credential) error) (domain.Credential, error)
}

// Seal encrypts a plaintext token for storage.
func Seal(box secrets.Box, plain string) (string, error) {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return "", errors.New("token must not be empty")
	}
	sealed, err := box.Seal([]byte(plain))
	if err != nil {
		return "", fmt.Errorf("seal token: %w", err)
	}
	return sealed, nil
}

// TokenSource opens the credential's sealed secret on every call; the
// plaintext lives only for the request it authorizes.
func TokenSource(box secrets.Box, cred domain.Credential) socialapi.TokenSource {
	sealed := cred.EncryptedSecret
	id := cred.ID
	return func(context.Context) (string, error) {
		if box == nil {
			return "", errors.New("secret box is not configured")
		}
		plain, err := box.Open(sealed)
		if err != nil {
			return "", fmt.Errorf("open credential %s: %w", id, err)
		}
		return string(plain), nil
	}
}

// Factory builds API clients for stored credentials.
type Factory struct {
	Store     Store
	Box       secrets.Box
	BaseURL   string
	Transport httpclient.Client
	// Reads serves GET endpoints; usually a caching decorator over Transport.
	Reads httpclient.Client
}

// Client returns an API client for cred regardless of its status. Callers
// that publish must go through Active instead.
func (f *Factory) Client(cred domain.Credential) *socialapi.Client {
	return socialapi.New(f.baseURL(cred), f.Transport, f.Reads, TokenSource(f.Box, cred))
}

// Uncached returns a client whose reads always reach the API.
func (f *Factory) Uncached(cred domain.Credential) *socialapi.Client {
	return socialapi.New(f.baseURL(cred), f.Transport, f.Transport, TokenSource(f.Box, cred))
}

func (f *Factory) baseURL(cred domain.Credential) string {
	if base := strings.TrimSpace(cred.Host); base != "" {
		return base
	}
	return f.BaseURL
}

// Active loads the credential and returns a client only when it is active.
func (f *Factory) Active(ctx context.Context, credentialID string) (*socialapi.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f == nil || f.Store == nil {
		return nil, errors.New("credential factory is not initialized")
	}
	cred, err := f.Store.GetCredential(credentialID)
	if err != nil {
		return nil, fmt.Errorf("load credential %s: %w", credentialID, err)
	}
	if !cred.Usable() {
		return nil, fmt.Errorf("credential %s is %s: %w", cred.ID, cred.Status, ErrInactive)
	}
	return f.Client(cred), nil
}

// IdentityAPI is what validation needs from the API client.
type IdentityAPI interface {
	Identity(ctx context.Context) (socialapi.Identity, error)
}

// Validator checks tokens against the identity endpoint and records the outcome.
type Validator struct {
	store   Store
	connect func(domain.Credential) IdentityAPI
	events  events.Emitter
	log     logger.Logger
	now     func() time.Time
}

// NewValidator builds a Validator that reaches the API through factory,
// bypassing the read cache so a revoked token is seen at once.
func NewValidator(store Store, factory *Factory, emitter events.Emitter, log logger.Logger) *Validator {
	connect := func(cred domain.Credential) IdentityAPI { return factory.Uncached(cred) }
	return newValidator(store, connect, emitter, log)
}

func newValidator(store Store, connect func(domain.Credential) IdentityAPI, emitter events.Emitter, log logger.Logger) *Validator {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Validator{
		store:   store,
		connect: connect,
		events:  emitter,
		log:     logger.Ensure(log),
		now:     time.Now,
	}
}

// Validate moves the credential through validating to active or inactive.
// API failures are recorded on the credential, not returned; only storage
// failures produce an error.
func (v *Validator) Validate(ctx context.Context, credentialID string) (domain.Credential, error) {
	cred, err := v.store.UpdateCredential(credentialID, func(c *domain.Credential) error {
		c.Status = domain.CredentialValidating
		c.UpdatedAt = v.now().UTC()
		return nil
	})
	if err != nil {
		return domain.Credential{}, fmt.Errorf("mark credential %s validating: %w", credentialID, err)
	}

	identity, apiErr := v.connect(cred).Identity(ctx)
	if apiErr == nil && strings.TrimSpace(identity.ID) == "" {
		apiErr = errors.New("identity response has no id")
	}

	cred, err = v.store.UpdateCredential(credentialID, func(c *domain.Credential) error {
		now := v.now().UTC()
		c.UpdatedAt = now
		c.ValidatedAt = now
		if apiErr != nil {
			c.Status = domain.CredentialInactive
			c.LastError = apiErr.Error()
			return nil
		}
		c.Status = domain.CredentialActive
		c.OwnerID = identity.ID
		c.LastError = ""
		return nil
	})
	if err != nil {
		return domain.Credential{}, fmt.Errorf("record credential %s validation: %w", credentialID, err)
	}

	evt := events.New(events.TypeCredentialValidated, "")
	evt.CredentialID = cred.ID
	evt.Status = string(cred.Status)
	if apiErr != nil {
		evt.Type = events.TypeCredentialRejected
		evt.Reason = apiErr.Error()
		v.log.WarnObj("credential validation failed", "credential_validation", map[string]any{
			"credential_id": cred.ID,
			"unauthorized":  errors.Is(apiErr, socialapi.ErrUnauthorized),
			"error":         apiErr.Error(),
		})
	} else {
		v.log.InfoObj("credential validated", "credential_validation", map[string]any{
			"credential_id": cred.ID,
			"owner_id":      cred.OwnerID,
		})
	}
	v.events.Emit(ctx, evt)
	return cred, nil
}
