package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/modctx/internal/logging"
)

// RepositoryLookup finds the lock repository when the lock is first needed.
type RepositoryLookup func(ctx context.Context) (Repository, error)

// Manager holds the single lock of a bootstrap run. The lock is resolved and
// acquired on first need only, so a run without installers never touches it.
type Manager struct {
	lockID string
	lookup RepositoryLookup
	logger logging.Logger

	mu       sync.Mutex
	lock     Lock
	acquired int
}

// NewManager creates a manager for lockID; an empty id uses DefaultLockID.
func NewManager(lockID string, lookup RepositoryLookup, logger logging.Logger) *Manager {
	if lockID == "" {
		lockID = DefaultLockID
	}
	return &Manager{lockID: lockID, lookup: lookup, logger: logging.OrNop(logger)}
}

// EnsureLocked blocks until the lock is held, unless it already is.
func (m *Manager) EnsureLocked(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock == nil {
		if m.lookup == nil {
			return ErrNoRepository
		}
		repo, err := m.lookup(ctx)
		if err != nil {
			return fmt.Errorf("failed to find lock repository: %w", err)
		}
		if repo == nil {
			return ErrNoRepository
		}
		m.lock = repo.Obtain(m.lockID)
	}

	if m.lock.IsHeldByCurrentOwner() {
		return nil
	}

	m.logger.Info("Acquiring bootstrap lock", "lock", m.lockID)
	if err := m.lock.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", m.lockID, err)
	}
	m.acquired++
	m.logger.Info("Acquired bootstrap lock", "lock", m.lockID)
	return nil
}

// EnsureUnlocked releases the lock if held. Release failures are logged and
// never returned.
func (m *Manager) EnsureUnlocked(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock == nil || !m.lock.IsHeldByCurrentOwner() {
		return
	}
	if err := m.lock.Unlock(ctx); err != nil {
		m.logger.Error("Failed to release bootstrap lock", "lock", m.lockID, "error", err)
		return
	}
	m.logger.Info("Released bootstrap lock", "lock", m.lockID)
}

// IsLocked reports whether the manager currently holds the lock.
func (m *Manager) IsLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lock != nil && m.lock.IsHeldByCurrentOwner()
}

// Acquisitions returns how many times the lock was acquired.
func (m *Manager) Acquisitions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired
}
