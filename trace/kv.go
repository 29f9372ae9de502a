package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// BucketTraces is the KV bucket holding trace records.
const BucketTraces = "TASKFORGE_TRACES"

// KVSink persists trace records to a JetStream KV bucket.
type KVSink struct {
	kv jetstream.KeyValue
}

// NewKVSink creates the traces bucket if needed and returns a sink over it.
func NewKVSink(ctx context.Context, js jetstream.JetStream, ttl time.Duration) (*KVSink, error) {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketTraces,
		Description: "taskforge orchestration trace records",
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("create traces bucket: %w", err)
	}

	return &KVSink{kv: kv}, nil
}

// Record persists the record keyed by its trace id.
func (s *KVSink) Record(ctx context.Context, rec *Record) (string, error) {
	stamp(rec)
	rec.Metadata = truncateMetadata(rec.Metadata)

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal trace record: %w", err)
	}

	if _, err := s.kv.Create(ctx, rec.ID, data); err != nil {
		return "", fmt.Errorf("store trace record: %w", err)
	}

	return rec.ID, nil
}
