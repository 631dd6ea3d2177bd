package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	bolt "go.etcd.io/bbolt"
)

const (
	feedBucket       = "feeds"
	scheduleBucket   = "schedules"
	uidBucket        = "entry_uids"
	entryBucket      = "entries"
	postBucket       = "posts"
	credentialBucket = "credentials"
	metricBucket     = "metrics"
)

var rootBuckets = []string{
	feedBucket, scheduleBucket, uidBucket, entryBucket,
	postBucket, credentialBucket, metricBucket,
}

// boltStore implements a Store backed by BoltDB. Per-feed records (ledger
// rows, entries, posts, metrics) live in a nested bucket named after the feed.
// The file lock makes it single-process; goroutines within it share safely.
type boltStore struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range rootBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &boltStore{db: db}, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Feeds ---------------------------------------------------------------------

func (b *boltStore) SaveFeed(feed domain.Feed) error {
	if feed.ID == "" {
		return fmt.Errorf("save feed: missing id")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket([]byte(feedBucket)), feed.ID, feed)
	})
}

func (b *boltStore) GetFeed(id string) (domain.Feed, error) {
	var feed domain.Feed
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket([]byte(feedBucket)), id, &feed)
	})
	return feed, err
}

func (b *boltStore) ListFeeds() ([]domain.Feed, error) {
	var feeds []domain.Feed
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(feedBucket)).ForEach(func(_, v []byte) error {
			var feed domain.Feed
			if err := json.Unmarshal(v, &feed); err != nil {
				return fmt.Errorf("decode feed: %w", err)
			}
			feeds = append(feeds, feed)
			return nil
		})
	})
	return feeds, err
}

// UpdateFeed loads, mutates and writes the feed inside one transaction.
func (b *boltStore) UpdateFeed(id string, mutate func(*domain.Feed) error) (domain.Feed, error) {
	var feed domain.Feed
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(feedBucket))
		if err := getJSON(bucket, id, &feed); err != nil {
			return err
		}
		if err := mutate(&feed); err != nil {
			return err
		}
		feed.ID = id
		return putJSON(bucket, id, feed)
	})
	return feed, err
}

// Schedules -----------------------------------------------------------------

func (b *boltStore) GetSchedule(feedID string) (domain.FeedSchedule, error) {
	var s domain.FeedSchedule
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket([]byte(scheduleBucket)), feedID, &s)
	})
	return s, err
}

func (b *boltStore) CreateScheduleIfAbsent(s domain.FeedSchedule) (bool, error) {
	if s.FeedID == "" {
		return false, fmt.Errorf("create schedule: missing feed id")
	}
	var created bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(scheduleBucket))
		if bucket.Get([]byte(s.FeedID)) != nil {
			return nil
		}
		created = true
		return putJSON(bucket, s.FeedID, normalizeSchedule(s))
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (b *boltStore) CompareAndSwapSchedule(feedID string, expected time.Time, updated domain.FeedSchedule) (int64, error) {
	var affected int64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(scheduleBucket))
		var current domain.FeedSchedule
		if err := getJSON(bucket, feedID, &current); err != nil {
			return err
		}
		if !current.NextRunAt.Equal(expected) {
			return nil
		}
		updated.FeedID = feedID
		affected = 1
		return putJSON(bucket, feedID, normalizeSchedule(updated))
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func normalizeSchedule(s domain.FeedSchedule) domain.FeedSchedule {
	s.NextRunAt = s.NextRunAt.UTC()
	if !s.LastRunAt.IsZero() {
		s.LastRunAt = s.LastRunAt.UTC()
	}
	return s
}

// Ledger and entries --------------------------------------------------------

func (b *boltStore) HasEntryUID(feedID, externalID string) (bool, error) {
	var exists bool
	err := b.db.View(func(tx *bolt.Tx) error {
		feedBkt := tx.Bucket([]byte(uidBucket)).Bucket([]byte(feedID))
		exists = feedBkt != nil && feedBkt.Get([]byte(externalID)) != nil
		return nil
	})
	return exists, err
}

func (b *boltStore) InsertEntryUID(uid domain.FeedEntryUID) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return insertUID(tx, uid)
	})
}

func (b *boltStore) CommitIngested(entry domain.FeedEntry, post domain.Post, uid domain.FeedEntryUID) error {
	if entry.ID == "" || post.ID == "" {
		return fmt.Errorf("commit ingested: missing entry or post id")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := insertUID(tx, uid); err != nil {
			return err
		}
		entries, err := feedSubBucket(tx, entryBucket, entry.FeedID)
		if err != nil {
			return err
		}
		if err := putJSON(entries, entry.ID, entry); err != nil {
			return err
		}
		posts, err := feedSubBucket(tx, postBucket, post.FeedID)
		if err != nil {
			return err
		}
		if err := putJSON(posts, post.ID, post); err != nil {
			return err
		}
		var invalid int64
		if post.Status == domain.PostRejected {
			invalid = 1
		}
		return addMetric(tx, entry.FeedID, domain.MetricDate(uid.ImportedAt), 1, invalid)
	})
}

func insertUID(tx *bolt.Tx, uid domain.FeedEntryUID) error {
	if uid.FeedID == "" || uid.ExternalID == "" {
		return fmt.Errorf("insert entry uid: missing feed or external id")
	}
	bucket, err := feedSubBucket(tx, uidBucket, uid.FeedID)
	if err != nil {
		return err
	}
	if bucket.Get([]byte(uid.ExternalID)) != nil {
		return ErrDuplicate
	}
	return putJSON(bucket, uid.ExternalID, uid)
}

func (b *boltStore) ListEntries(feedID string) ([]domain.FeedEntry, error) {
	var entries []domain.FeedEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(entryBucket)).Bucket([]byte(feedID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			var e domain.FeedEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, err
}

// Posts ---------------------------------------------------------------------

func (b *boltStore) GetPost(feedID, postID string) (domain.Post, error) {
	var post domain.Post
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(postBucket)).Bucket([]byte(feedID))
		if bucket == nil {
			return ErrNotFound
		}
		return getJSON(bucket, postID, &post)
	})
	return post, err
}

func (b *boltStore) SavePost(post domain.Post) error {
	if post.ID == "" || post.FeedID == "" {
		return fmt.Errorf("save post: missing id or feed id")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := feedSubBucket(tx, postBucket, post.FeedID)
		if err != nil {
			return err
		}
		return putJSON(bucket, post.ID, post)
	})
}

// ListPosts returns the feed's posts ordered by creation time, optionally
// restricted to the given statuses.
func (b *boltStore) ListPosts(feedID string, statuses ...domain.PostStatus) ([]domain.Post, error) {
	want := make(map[domain.PostStatus]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}

	var posts []domain.Post
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(postBucket)).Bucket([]byte(feedID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			var p domain.Post
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decode post: %w", err)
			}
			if len(want) > 0 {
				if _, ok := want[p.Status]; !ok {
					return nil
				}
			}
			posts = append(posts, p)
			return nil
		})
	})
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].CreatedAt.Before(posts[j].CreatedAt) })
	return posts, err
}

// Credentials ---------------------------------------------------------------

func (b *boltStore) SaveCredential(cred domain.Credential) error {
	if cred.ID == "" {
		return fmt.Errorf("save credential: missing id")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket([]byte(credentialBucket)), cred.ID, cred)
	})
}

func (b *boltStore) GetCredential(id string) (domain.Credential, error) {
	var cred domain.Credential
	err := b.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket([]byte(credentialBucket)), id, &cred)
	})
	return cred, err
}

func (b *boltStore) UpdateCredential(id string, mutate func(*domain.Credential) error) (domain.Credential, error) {
	var cred domain.Credential
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(credentialBucket))
		if err := getJSON(bucket, id, &cred); err != nil {
			return err
		}
		if err := mutate(&cred); err != nil {
			return err
		}
		cred.ID = id
		return putJSON(bucket, id, cred)
	})
	return cred, err
}

// Metrics -------------------------------------------------------------------

func (b *boltStore) IncrementMetric(feedID, date string, created, invalid int64) error {
	if created < 0 || invalid < 0 {
		return fmt.Errorf("increment metric: negative delta")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return addMetric(tx, feedID, date, created, invalid)
	})
}

func addMetric(tx *bolt.Tx, feedID, date string, created, invalid int64) error {
	bucket, err := feedSubBucket(tx, metricBucket, feedID)
	if err != nil {
		return err
	}
	m := domain.FeedMetric{FeedID: feedID, Date: date}
	if err := getJSON(bucket, date, &m); err != nil && err != ErrNotFound {
		return err
	}
	m.PostsCreated += created
	m.InvalidPosts += invalid
	return putJSON(bucket, date, m)
}

func (b *boltStore) GetMetric(feedID, date string) (domain.FeedMetric, error) {
	var m domain.FeedMetric
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(metricBucket)).Bucket([]byte(feedID))
		if bucket == nil {
			return ErrNotFound
		}
		return getJSON(bucket, date, &m)
	})
	return m, err
}

// helpers -------------------------------------------------------------------

func feedSubBucket(tx *bolt.Tx, root, feedID string) (*bolt.Bucket, error) {
	if feedID == "" {
		return nil, fmt.Errorf("%s: missing feed id", root)
	}
	bucket, err := tx.Bucket([]byte(root)).CreateBucketIfNotExists([]byte(feedID))
	if err != nil {
		return nil, fmt.Errorf("%s bucket for feed %s: %w", root, feedID, err)
	}
	return bucket, nil
}

func getJSON(bucket *bolt.Bucket, key string, out any) error {
	raw := bucket.Get([]byte(key))
	if raw == nil {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func putJSON(bucket *bolt.Bucket, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return bucket.Put([]byte(key), raw)
}
