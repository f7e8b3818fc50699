package offline

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Storage holds named cache generations of response entries. Single-key
// reads and writes are atomic; PutAll creates a generation and all of its
// entries in one step so a partially written generation is never visible.
type Storage interface {
	Generations(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, generation string) error
	PutAll(ctx context.Context, generation string, entries []Entry) error
	// Put stores one entry, creating the generation when it is missing.
	Put(ctx context.Context, generation string, entry Entry) error
	Match(ctx context.Context, generation, key string) (Entry, bool, error)
}

// MemoryStorage is a process-local Storage.
type MemoryStorage struct {
	mu          sync.RWMutex
	generations map[string]map[string]Entry
	clock       func() time.Time
}

// NewMemoryStorage constructs an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		generations: make(map[string]map[string]Entry),
		clock:       time.Now,
	}
}

// Generations implements Storage.
func (s *MemoryStorage) Generations(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.generations))
	for name := range s.generations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Storage.
func (s *MemoryStorage) Delete(_ context.Context, generation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generations[generation]; !ok {
		return ErrGenerationNotFound
	}
	delete(s.generations, generation)
	return nil
}

// PutAll implements Storage.
func (s *MemoryStorage) PutAll(_ context.Context, generation string, entries []Entry) error {
	if err := validateGeneration(generation); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.generations[generation]
	if !ok {
		bucket = make(map[string]Entry, len(entries))
	}
	for _, entry := range entries {
		bucket[entry.Key] = s.stamp(entry)
	}
	s.generations[generation] = bucket
	return nil
}

// Put implements Storage.
func (s *MemoryStorage) Put(ctx context.Context, generation string, entry Entry) error {
	return s.PutAll(ctx, generation, []Entry{entry})
}

// Match implements Storage.
func (s *MemoryStorage) Match(_ context.Context, generation, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.generations[generation]
	if !ok {
		return Entry{}, false, nil
	}
	entry, ok := bucket[key]
	if !ok {
		return Entry{}, false, nil
	}
	return entry.clone(), true, nil
}

func (s *MemoryStorage) stamp(entry Entry) Entry {
	stored := entry.clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = s.clock().UTC()
	}
	return stored
}
