package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rajfnu/answer-sheet-marker-sub000/internal/ports"
)

// MemoryStore is a process-local ports.CacheStore for tests and ephemeral
// runs. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]ports.CacheEntry
}

var _ ports.CacheStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]ports.CacheEntry)}
}

// Get returns a copy of the stored entry.
func (s *MemoryStore) Get(_ context.Context, collection, id string) (ports.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[collection][id]
	if !ok {
		return ports.CacheEntry{}, ports.NewCacheError(collection+"/"+id, "get", ports.ErrCacheMiss)
	}
	return cloneEntry(entry), nil
}

// Put stores a copy of entry.
func (s *MemoryStore) Put(_ context.Context, entry ports.CacheEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries[entry.Collection] == nil {
		s.entries[entry.Collection] = make(map[string]ports.CacheEntry)
	}
	s.entries[entry.Collection][entry.ID] = cloneEntry(entry)
	return nil
}

// Index lists entry metadata sorted by creation time.
func (s *MemoryStore) Index(_ context.Context, collection string) ([]ports.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ports.IndexEntry, 0, len(s.entries[collection]))
	for _, e := range s.entries[collection] {
		out = append(out, ports.IndexEntry{ID: e.ID, Hash: e.Hash, CreatedAt: e.CreatedAt})
	}
	sortIndex(out)
	return out, nil
}

func cloneEntry(e ports.CacheEntry) ports.CacheEntry {
	e.Value = append([]byte(nil), e.Value...)
	return e
}

func validateEntry(e ports.CacheEntry) error {
	switch {
	case e.Collection == "":
		return fmt.Errorf("cache entry has no collection")
	case e.ID == "":
		return fmt.Errorf("cache entry has no id")
	case e.Hash == "":
		return fmt.Errorf("cache entry %s has no hash", e.ID)
	}
	return nil
}

func sortIndex(entries []ports.IndexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}
