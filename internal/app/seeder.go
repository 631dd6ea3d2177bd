package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/credentials"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/queue"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/storage"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/feeds"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/secrets"
)

// SeedReport summarizes what a seed pass changed.
type SeedReport struct {
	Feeds              int      `json:"feeds"`
	CredentialsKept    int      `json:"credentials_kept"`
	CredentialsQueued  []string `json:"credentials_queued,omitempty"`
	CredentialsSkipped []string `json:"credentials_skipped,omitempty"`
}

// Seeder copies the feeds file into the store.
type Seeder struct {
	store  storage.Store
	box    secrets.Box
	queue  queue.Enqueuer
	log    logger.Logger
	getenv func(string) string
	now    func() time.Time
}

// NewSeeder creates a seeder that reads credential tokens from the environment.
func NewSeeder(store storage.Store, box secrets.Box, q queue.Enqueuer, log logger.Logger) *Seeder {
	return &Seeder{
		store:  store,
		box:    box,
		queue:  q,
		log:    logger.Ensure(log),
		getenv: os.Getenv,
		now:    time.Now,
	}
}

// Seed upserts credentials, then feeds. Definitions in the file win over
// stored configuration; run history and creation time are preserved.
func (s *Seeder) Seed(ctx context.Context, file feeds.File) (SeedReport, error) {
	var report SeedReport
	var errs []error

	for _, c := range file.Credentials {
		queued, err := s.seedCredential(ctx, c)
		switch {
		case errors.Is(err, errMissingToken):
			report.CredentialsSkipped = append(report.CredentialsSkipped, c.ID)
			s.log.WarnObj("credential token not set", "credential", map[string]any{
				"id":        c.ID,
				"token_env": c.TokenEnv,
			})
		case err != nil:
			errs = append(errs, err)
		case queued:
			report.CredentialsQueued = append(report.CredentialsQueued, c.ID)
		default:
			report.CredentialsKept++
		}
	}

	for _, d := range file.Feeds {
		if err := s.seedFeed(file.ToFeed(d)); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Feeds++
	}

	s.log.InfoObj("seed completed", "seed_report", report)
	return report, errors.Join(errs...)
}

var errMissingToken = errors.New("credential token not set")

// seedCredential stores the sealed token. It reports whether a validation
// task was queued; an active credential holding the same token is left alone.
func (s *Seeder) seedCredential(ctx context.Context, c feeds.Credential) (bool, error) {
	token := strings.TrimSpace(s.getenv(c.TokenEnv))
	if token == "" {
		return false, errMissingToken
	}

	existing, err := s.store.GetCredential(c.ID)
	switch {
	case err == nil:
		if existing.Usable() && existing.Host == c.Host && s.sameToken(existing, token) {
			return false, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("load credential %s: %w", c.ID, err)
	}

	sealed, err := credentials.Seal(s.box, token)
	if err != nil {
		return false, fmt.Errorf("seal credential %s: %w", c.ID, err)
	}
	cred := domain.Credential{
		ID:              c.ID,
		Host:            c.Host,
		EncryptedSecret: sealed,
		Status:          domain.CredentialPending,
		UpdatedAt:       s.now().UTC(),
	}
	if err := s.store.SaveCredential(cred); err != nil {
		return false, fmt.Errorf("save credential %s: %w", c.ID, err)
	}
	if _, err := s.queue.Enqueue(ctx, queue.TaskValidateCredential, c.ID); err != nil {
		return false, fmt.Errorf("enqueue validation for %s: %w", c.ID, err)
	}
	return true, nil
}

func (s *Seeder) sameToken(cred domain.Credential, token string) bool {
	plain, err := s.box.Open(cred.EncryptedSecret)
	return err == nil && string(plain) == token
}

func (s *Seeder) seedFeed(feed domain.Feed) error {
	now := s.now().UTC()
	existing, err := s.store.GetFeed(feed.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		feed.CreatedAt = now
	case err != nil:
		return fmt.Errorf("load feed %s: %w", feed.ID, err)
	default:
		feed.CreatedAt = existing.CreatedAt
		feed.LastRun = existing.LastRun
		// Suspension is cleared; the next run suspends again if the feed still cannot resolve.
		if existing.SuspendReason != "" {
			s.log.InfoObj("feed suspension cleared", "feed", map[string]any{
				"id":     feed.ID,
				"reason": existing.SuspendReason,
			})
		}
	}
	feed.UpdatedAt = now
	if err := s.store.SaveFeed(feed); err != nil {
		return fmt.Errorf("save feed %s: %w", feed.ID, err)
	}
	return nil
}
