package lock

import (
	"context"
	"sync"
)

// MemoryStore holds lock ownership in process memory. Repositories sharing a
// store behave like separate processes sharing a database.
type MemoryStore struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{owners: make(map[string]string)}
}

// Owner returns the current owner of id.
func (s *MemoryStore) Owner(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.owners[id]
	return owner, ok
}

func (s *MemoryStore) acquire(_ context.Context, id, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.owners[id]
	if ok && current != owner {
		return false, nil
	}
	s.owners[id] = owner
	return true, nil
}

func (s *MemoryStore) release(_ context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[id] != owner {
		return ErrLockNotHeld
	}
	delete(s.owners, id)
	return nil
}

func (s *MemoryStore) refresh(context.Context, string, string) error {
	return nil
}

// MemoryRepository hands out locks backed by a MemoryStore.
type MemoryRepository struct {
	store *MemoryStore
	opts  Options
}

// NewMemoryRepository creates a repository over store.
func NewMemoryRepository(store *MemoryStore, opts Options) *MemoryRepository {
	return &MemoryRepository{store: store, opts: opts.withDefaults()}
}

// Obtain implements Repository.
func (r *MemoryRepository) Obtain(id string) Lock {
	return newHandle(id, r.opts, r.store)
}

// Owner implements Repository.
func (r *MemoryRepository) Owner() string { return r.opts.Owner }
