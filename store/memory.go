package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryEntry implements kvEntry for the in-memory bucket.
type memoryEntry struct {
	value    []byte
	revision uint64
}

func (e *memoryEntry) Value() []byte    { return e.value }
func (e *memoryEntry) Revision() uint64 { return e.revision }

type memoryRecord struct {
	value    []byte
	revision uint64
	written  time.Time
}

// memoryBucket is an in-memory kvBucket with the same OCC and TTL semantics
// as JetStream KV. Error strings match the server's so the store's
// classification helpers work against both backends.
type memoryBucket struct {
	mu      sync.Mutex
	ttl     time.Duration
	nextRev uint64
	records map[string]*memoryRecord
	now     func() time.Time
}

func newMemoryBucket(ttl time.Duration) *memoryBucket {
	return &memoryBucket{
		ttl:     ttl,
		records: make(map[string]*memoryRecord),
		now:     time.Now,
	}
}

// get returns the live record for key, pruning it if expired. Caller holds mu.
func (b *memoryBucket) get(key string) (*memoryRecord, bool) {
	rec, ok := b.records[key]
	if !ok {
		return nil, false
	}
	if b.ttl > 0 && b.now().Sub(rec.written) >= b.ttl {
		delete(b.records, key)
		return nil, false
	}
	return rec, true
}

func (b *memoryBucket) Get(_ context.Context, key string) (kvEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.get(key)
	if !ok {
		return nil, fmt.Errorf("nats: key not found")
	}
	return &memoryEntry{value: append([]byte(nil), rec.value...), revision: rec.revision}, nil
}

func (b *memoryBucket) Create(_ context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.get(key); ok {
		return 0, fmt.Errorf("nats: key exists")
	}

	b.nextRev++
	b.records[key] = &memoryRecord{
		value:    append([]byte(nil), value...),
		revision: b.nextRev,
		written:  b.now(),
	}
	return b.nextRev, nil
}

func (b *memoryBucket) Update(_ context.Context, key string, value []byte, expectedRevision uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.get(key)
	if !ok {
		return 0, fmt.Errorf("nats: key not found")
	}
	if rec.revision != expectedRevision {
		return 0, fmt.Errorf("nats: wrong last sequence: %d", rec.revision)
	}

	b.nextRev++
	b.records[key] = &memoryRecord{
		value:    append([]byte(nil), value...),
		revision: b.nextRev,
		written:  b.now(),
	}
	return b.nextRev, nil
}

func (b *memoryBucket) Keys(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.records))
	for key := range b.records {
		if _, ok := b.get(key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// NewMemory creates a Store backed by in-memory buckets. Intended for tests
// and local development without a NATS server.
func NewMemory(cfg Config) *Store {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultRetention
	}
	if cfg.ReviewTTL <= 0 {
		cfg.ReviewTTL = DefaultRetention
	}
	return &Store{
		sessions: newMemoryBucket(cfg.SessionTTL),
		reviews:  newMemoryBucket(cfg.ReviewTTL),
	}
}
