package storage

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore("bbolt", filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCompareAndSwapScheduleHasSingleWinner(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	created, err := store.CreateScheduleIfAbsent(domain.FeedSchedule{FeedID: "f1", NextRunAt: base})
	if err != nil || !created {
		t.Fatalf("CreateScheduleIfAbsent: created=%v err=%v", created, err)
	}

	read, err := store.GetSchedule("f1")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}

	const racers = 8
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.CompareAndSwapSchedule("f1", read.NextRunAt, domain.FeedSchedule{
				NextRunAt: base.Add(time.Hour),
				LastRunAt: base,
			})
			if err != nil {
				t.Errorf("CompareAndSwapSchedule: %v", err)
				return
			}
			wins.Add(n)
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	got, _ := store.GetSchedule("f1")
	if !got.NextRunAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected next_run_at %v", got.NextRunAt)
	}
}

func TestCreateScheduleIfAbsentKeepsExisting(t *testing.T) {
	store := openTestStore(t)
	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if created, _ := store.CreateScheduleIfAbsent(domain.FeedSchedule{FeedID: "f1", NextRunAt: first}); !created {
		t.Fatalf("expected first create to succeed")
	}
	created, err := store.CreateScheduleIfAbsent(domain.FeedSchedule{FeedID: "f1", NextRunAt: first.Add(time.Hour)})
	if err != nil || created {
		t.Fatalf("expected second create to be skipped, created=%v err=%v", created, err)
	}
	got, _ := store.GetSchedule("f1")
	if !got.NextRunAt.Equal(first) {
		t.Fatalf("schedule overwritten: %v", got.NextRunAt)
	}
}

func TestCommitIngestedRejectsDuplicates(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()

	entry := domain.FeedEntry{ID: "e1", FeedID: "f1", ExternalID: "x1", CreatedAt: now}
	post := domain.Post{ID: "p1", FeedID: "f1", EntryID: "e1", Status: domain.PostEnqueued, CreatedAt: now}
	uid := domain.FeedEntryUID{FeedID: "f1", ExternalID: "x1", ImportedAt: now}

	if err := store.CommitIngested(entry, post, uid); err != nil {
		t.Fatalf("CommitIngested: %v", err)
	}

	entry.ID, post.ID = "e2", "p2"
	if err := store.CommitIngested(entry, post, uid); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	entries, _ := store.ListEntries("f1")
	posts, _ := store.ListPosts("f1")
	if len(entries) != 1 || len(posts) != 1 {
		t.Fatalf("duplicate commit leaked rows: entries=%d posts=%d", len(entries), len(posts))
	}
	metric, err := store.GetMetric("f1", domain.MetricDate(now))
	if err != nil || metric.PostsCreated != 1 || metric.InvalidPosts != 0 {
		t.Fatalf("commit must count exactly one created post, got %+v err=%v", metric, err)
	}
	if seen, _ := store.HasEntryUID("f1", "x1"); !seen {
		t.Fatalf("expected ledger row for x1")
	}
	if seen, _ := store.HasEntryUID("f2", "x1"); seen {
		t.Fatalf("ledger must be scoped per feed")
	}
}

func TestListPostsFiltersByStatus(t *testing.T) {
	store := openTestStore(t)
	base := time.Now().UTC()
	for i, status := range []domain.PostStatus{domain.PostEnqueued, domain.PostRejected, domain.PostPublished} {
		p := domain.Post{ID: string(status), FeedID: "f1", Status: status, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := store.SavePost(p); err != nil {
			t.Fatalf("SavePost: %v", err)
		}
	}

	pending, err := store.ListPosts("f1", domain.PostEnqueued, domain.PostFailed)
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if len(pending) != 1 || pending[0].Status != domain.PostEnqueued {
		t.Fatalf("unexpected filtered posts %+v", pending)
	}
	if _, err := store.GetPost("f1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementMetricAccumulates(t *testing.T) {
	store := openTestStore(t)
	if err := store.IncrementMetric("f1", "2024-05-01", 2, 1); err != nil {
		t.Fatalf("IncrementMetric: %v", err)
	}
	if err := store.IncrementMetric("f1", "2024-05-01", 3, 0); err != nil {
		t.Fatalf("IncrementMetric: %v", err)
	}
	m, err := store.GetMetric("f1", "2024-05-01")
	if err != nil {
		t.Fatalf("GetMetric: %v", err)
	}
	if m.PostsCreated != 5 || m.InvalidPosts != 1 {
		t.Fatalf("unexpected metric %+v", m)
	}
	if err := store.IncrementMetric("f1", "2024-05-01", -1, 0); err == nil {
		t.Fatalf("expected negative delta to fail")
	}
}

func TestUpdateFeedAndCredential(t *testing.T) {
	store := openTestStore(t)
	if err := store.SaveFeed(domain.Feed{ID: "f1", State: domain.FeedEnabled}); err != nil {
		t.Fatalf("SaveFeed: %v", err)
	}
	feed, err := store.UpdateFeed("f1", func(f *domain.Feed) error {
		f.State = domain.FeedDisabled
		return nil
	})
	if err != nil || feed.State != domain.FeedDisabled {
		t.Fatalf("UpdateFeed: feed=%+v err=%v", feed, err)
	}
	if _, err := store.UpdateFeed("missing", func(*domain.Feed) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.SaveCredential(domain.Credential{ID: "c1", Status: domain.CredentialPending}); err != nil {
		t.Fatalf("SaveCredential: %v", err)
	}
	cred, err := store.UpdateCredential("c1", func(c *domain.Credential) error {
		c.Status = domain.CredentialActive
		return nil
	})
	if err != nil || !cred.Usable() {
		t.Fatalf("UpdateCredential: cred=%+v err=%v", cred, err)
	}
}

func TestNewStoreRejectsUnknownType(t *testing.T) {
	if _, err := NewStore("postgres", "x"); err == nil {
		t.Fatalf("expected unsupported storage type error")
	}
	if _, err := NewStore("bbolt", " "); err == nil {
		t.Fatalf("expected missing path error")
	}
}
