package stats

import (
	"context"
	"sync"

	"github.com/tickerlens/tickerlens/internal/core/governor"
)

// MemoryStore keeps decision counters for the current process. Nothing
// expires.
type MemoryStore struct {
	mu          sync.Mutex
	total       Counters
	byOperation map[string]Counters
	byKey       map[string]Counters

	trackKeys bool
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTrackKeys enables per-key counters.
func WithTrackKeys(track bool) MemoryOption {
	return func(s *MemoryStore) { s.trackKeys = track }
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		total:       Counters{},
		byOperation: make(map[string]Counters),
		byKey:       make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements governor.Recorder.
func (s *MemoryStore) Record(_ context.Context, ev governor.Event) error {
	field := string(ev.Outcome)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = s.total.inc(field)
	s.byOperation[ev.Operation] = s.byOperation[ev.Operation].inc(field)
	if s.trackKeys && ev.Key != "" {
		s.byKey[ev.Key] = s.byKey[ev.Key].inc(field)
	}
	return nil
}

// Summary implements Reader.
func (s *MemoryStore) Summary(_ context.Context) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Summary{
		Total:       s.total.clone(),
		ByOperation: make(map[string]Counters, len(s.byOperation)),
	}
	for op, c := range s.byOperation {
		out.ByOperation[op] = c.clone()
	}
	if s.trackKeys {
		out.ByKey = make(map[string]Counters, len(s.byKey))
		for k, c := range s.byKey {
			out.ByKey[k] = c.clone()
		}
	}
	return out, nil
}
