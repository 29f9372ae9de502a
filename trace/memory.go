package trace

import (
	"context"
	"sync"
)

// MemorySink collects trace records in memory. Intended for tests.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record stores a copy of the record.
func (s *MemorySink) Record(_ context.Context, rec *Record) (string, error) {
	stamp(rec)
	rec.Metadata = truncateMetadata(rec.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return rec.ID, nil
}

// Records returns a snapshot of all recorded entries.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// ByAction returns recorded entries with the given action type.
func (s *MemorySink) ByAction(actionType string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.ActionType == actionType {
			out = append(out, rec)
		}
	}
	return out
}
