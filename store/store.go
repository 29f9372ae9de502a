// Package store provides versioned persistence for sessions and review
// items using NATS JetStream KV buckets. Writes use optimistic concurrency
// control: every record carries the KV revision it was read at, and a write
// against a stale revision is rejected with ErrConflict. Records expire
// after the configured retention window and are then treated as not found.
//
// The store performs no business logic; it validates structural shape only.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/taskforge-ai/taskforge/workflow"
)

// Bucket names for each record type.
const (
	BucketSessions = "TASKFORGE_SESSIONS"
	BucketReviews  = "TASKFORGE_REVIEWS"
)

// DefaultRetention is the retention window applied when none is configured.
const DefaultRetention = 24 * time.Hour

// Config holds per-bucket retention windows.
type Config struct {
	SessionTTL time.Duration
	ReviewTTL  time.Duration
}

// kvEntry is the subset of a KV entry the store reads.
type kvEntry interface {
	Value() []byte
	Revision() uint64
}

// kvBucket is the subset of jetstream.KeyValue the store uses. Extracted as
// an interface so unit tests can run against an in-memory implementation.
type kvBucket interface {
	Get(ctx context.Context, key string) (kvEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, expectedRevision uint64) (uint64, error)
	Keys(ctx context.Context) ([]string, error)
}

// natsBucket adapts jetstream.KeyValue to the kvBucket interface.
type natsBucket struct {
	kv jetstream.KeyValue
}

func (b *natsBucket) Get(ctx context.Context, key string) (kvEntry, error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (b *natsBucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return b.kv.Create(ctx, key, value)
}

func (b *natsBucket) Update(ctx context.Context, key string, value []byte, expectedRevision uint64) (uint64, error) {
	return b.kv.Update(ctx, key, value, expectedRevision)
}

func (b *natsBucket) Keys(ctx context.Context) ([]string, error) {
	return b.kv.Keys(ctx)
}

// Store persists sessions and review items.
type Store struct {
	sessions kvBucket
	reviews  kvBucket
}

// New creates a Store backed by JetStream KV, creating the buckets with
// their retention TTLs if they don't exist.
func New(ctx context.Context, js jetstream.JetStream, cfg Config) (*Store, error) {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultRetention
	}
	if cfg.ReviewTTL <= 0 {
		cfg.ReviewTTL = DefaultRetention
	}

	sessions, err := getOrCreateBucket(ctx, js, BucketSessions, "taskforge session records", cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}

	reviews, err := getOrCreateBucket(ctx, js, BucketReviews, "taskforge review items", cfg.ReviewTTL)
	if err != nil {
		return nil, fmt.Errorf("create reviews bucket: %w", err)
	}

	return &Store{
		sessions: &natsBucket{kv: sessions},
		reviews:  &natsBucket{kv: reviews},
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name, description string, ttl time.Duration) (jetstream.KeyValue, error) {
	// CreateOrUpdateKeyValue is idempotent and handles race conditions
	return js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: description,
		TTL:         ttl,
		History:     5,
	})
}

// CreateSession persists a new session. The session must not exist yet;
// on success its Version is set to the initial revision.
func (s *Store) CreateSession(ctx context.Context, sess *workflow.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	rev, err := s.sessions.Create(ctx, sess.ID, data)
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("session %s: %w", sess.ID, ErrConflict)
		}
		return fmt.Errorf("store session: %w", err)
	}

	sess.Version = rev
	return nil
}

// GetSession loads a session; its Version carries the revision it was read at.
func (s *Store) GetSession(ctx context.Context, id string) (*workflow.Session, error) {
	entry, err := s.sessions.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess workflow.Session
	if err := json.Unmarshal(entry.Value(), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	sess.Version = entry.Revision()
	return &sess, nil
}

// SaveSession writes a session read at sess.Version. A stale version yields
// ErrConflict and leaves the stored record unchanged; on success the
// session's Version advances to the new revision.
func (s *Store) SaveSession(ctx context.Context, sess *workflow.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	sess.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	rev, err := s.sessions.Update(ctx, sess.ID, data, sess.Version)
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("session %s at version %d: %w", sess.ID, sess.Version, ErrConflict)
		}
		if isNotFound(err) {
			return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
		}
		return fmt.Errorf("update session: %w", err)
	}

	sess.Version = rev
	return nil
}

// ExtendSessionRetention rewrites the session record in place, resetting
// its age against the bucket TTL so the retention window restarts.
func (s *Store) ExtendSessionRetention(ctx context.Context, id string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return s.SaveSession(ctx, sess)
}

// CreateReview persists a new review item.
func (s *Store) CreateReview(ctx context.Context, item *workflow.ReviewItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid review item: %w", err)
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal review item: %w", err)
	}

	rev, err := s.reviews.Create(ctx, item.ID, data)
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("review %s: %w", item.ID, ErrConflict)
		}
		return fmt.Errorf("store review item: %w", err)
	}

	item.Version = rev
	return nil
}

// GetReview loads a review item by id.
func (s *Store) GetReview(ctx context.Context, id string) (*workflow.ReviewItem, error) {
	entry, err := s.reviews.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("review %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get review: %w", err)
	}

	var item workflow.ReviewItem
	if err := json.Unmarshal(entry.Value(), &item); err != nil {
		return nil, fmt.Errorf("unmarshal review item: %w", err)
	}

	item.Version = entry.Revision()
	return &item, nil
}

// SaveReview writes a review item read at item.Version, with the same
// conflict semantics as SaveSession.
func (s *Store) SaveReview(ctx context.Context, item *workflow.ReviewItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid review item: %w", err)
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal review item: %w", err)
	}

	rev, err := s.reviews.Update(ctx, item.ID, data, item.Version)
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("review %s at version %d: %w", item.ID, item.Version, ErrConflict)
		}
		if isNotFound(err) {
			return fmt.Errorf("review %s: %w", item.ID, ErrNotFound)
		}
		return fmt.Errorf("update review: %w", err)
	}

	item.Version = rev
	return nil
}

// ListReviews returns review items, optionally filtered by status.
// Individual records that fail to load are skipped.
func (s *Store) ListReviews(ctx context.Context, status workflow.ReviewStatus) ([]*workflow.ReviewItem, error) {
	keys, err := s.reviews.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list review keys: %w", err)
	}

	items := make([]*workflow.ReviewItem, 0, len(keys))
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		entry, err := s.reviews.Get(ctx, key)
		if err != nil {
			continue
		}

		var item workflow.ReviewItem
		if err := json.Unmarshal(entry.Value(), &item); err != nil {
			continue
		}

		if status != "" && item.Status != status {
			continue
		}

		item.Version = entry.Revision()
		items = append(items, &item)
	}

	return items, nil
}

// isNotFound checks if an error indicates a missing or expired key.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		errors.Is(err, ErrNotFound) ||
		strings.Contains(err.Error(), "key not found")
}

// isConflict checks if an error indicates an OCC mismatch: a Create against
// an existing key, or an Update against a stale revision.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, jetstream.ErrKeyExists) ||
		errors.Is(err, ErrConflict) ||
		strings.Contains(err.Error(), "wrong last sequence") ||
		strings.Contains(err.Error(), "key exists")
}
