package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends a record event.
func (s *MemoryStore) Record(_ context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Op: OpRecord, Entry: entry, At: time.Now().UTC()})
	return nil
}

// List returns the active entries.
func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Fold(s.events), nil
}

// Remove appends a tombstone for ref.
func (s *MemoryStore) Remove(_ context.Context, ref Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !Has(Fold(s.events), ref) {
		return ErrNotFound
	}
	s.events = append(s.events, Event{
		Op:    OpRemove,
		Entry: Entry{Kind: ref.Kind, Key: ref.Key},
		At:    time.Now().UTC(),
	})
	return nil
}

// History returns every event.
func (s *MemoryStore) History(_ context.Context) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...), nil
}

var _ Store = (*MemoryStore)(nil)
