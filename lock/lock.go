// Package lock provides the distributed lock that guards installer execution
// across application instances sharing one installer store.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/modctx/internal/logging"
)

// DefaultLockID is the lock taken for a bootstrap run.
const DefaultLockID = "bootstrap"

// Default timings.
const (
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultStaleTimeout      = time.Minute
)

var (
	// ErrLockNotHeld is returned when unlocking a lock the owner does not hold.
	ErrLockNotHeld = errors.New("lock not held by current owner")

	// ErrInvalidTableName is returned for table names that are not plain identifiers.
	ErrInvalidTableName = errors.New("invalid table name")

	// ErrNoRepository is returned when no lock repository can be found.
	ErrNoRepository = errors.New("no lock repository available")
)

// Lock is a named lock shared between processes.
type Lock interface {
	ID() string

	// Lock blocks until the lock is acquired or ctx is done. Locking a lock
	// already held by the owner only increments its hold count.
	Lock(ctx context.Context) error

	// TryLock acquires the lock if it is free.
	TryLock(ctx context.Context) (bool, error)

	// Unlock releases one hold of the lock.
	Unlock(ctx context.Context) error

	// IsHeldByCurrentOwner reports whether this owner holds the lock.
	IsHeldByCurrentOwner() bool
}

// Repository hands out locks owned by one process.
type Repository interface {
	Obtain(id string) Lock
	Owner() string
}

// Options tune lock behavior.
type Options struct {
	// Owner identifies this process; a UUID when empty.
	Owner string

	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	// StaleTimeout is how long a lock survives without a heartbeat before
	// another owner may take it over.
	StaleTimeout time.Duration

	Logger logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Owner == "" {
		o.Owner = newOwnerID()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.StaleTimeout <= 0 {
		o.StaleTimeout = DefaultStaleTimeout
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

func newOwnerID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// backend is the storage a lock handle acquires against.
type backend interface {
	acquire(ctx context.Context, id, owner string) (bool, error)
	release(ctx context.Context, id, owner string) error
	refresh(ctx context.Context, id, owner string) error
}

// handle implements Lock on top of a backend with polling, re-entrance and
// a heartbeat that keeps the lock from going stale while held.
type handle struct {
	id      string
	opts    Options
	backend backend

	mu    sync.Mutex
	holds int
	stop  chan struct{}
	done  chan struct{}
}

func newHandle(id string, opts Options, b backend) *handle {
	return &handle{id: id, opts: opts, backend: b}
}

func (h *handle) ID() string { return h.id }

func (h *handle) IsHeldByCurrentOwner() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.holds > 0
}

func (h *handle) TryLock(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.holds > 0 {
		h.holds++
		return true, nil
	}

	ok, err := h.backend.acquire(ctx, h.id, h.opts.Owner)
	if err != nil || !ok {
		return false, err
	}
	h.holds = 1
	h.startHeartbeat()
	return true, nil
}

func (h *handle) Lock(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := h.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		h.opts.Logger.Debug("Waiting for lock", "lock", h.id, "owner", h.opts.Owner)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *handle) Unlock(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.holds == 0 {
		return ErrLockNotHeld
	}
	h.holds--
	if h.holds > 0 {
		return nil
	}

	h.stopHeartbeat()
	return h.backend.release(ctx, h.id, h.opts.Owner)
}

func (h *handle) startHeartbeat() {
	h.stop = make(chan struct{})
	h.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(h.opts.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := h.backend.refresh(context.Background(), h.id, h.opts.Owner); err != nil {
					h.opts.Logger.Warn("Lock heartbeat failed", "lock", h.id, "error", err)
				}
			}
		}
	}(h.stop, h.done)
}

func (h *handle) stopHeartbeat() {
	if h.stop == nil {
		return
	}
	close(h.stop)
	<-h.done
	h.stop = nil
	h.done = nil
}
