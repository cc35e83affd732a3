package lock

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(string, ...any)  {}
func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

// openTestDB opens an in-memory SQLite database. One connection keeps every
// statement on the same database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func fastOptions(owner string) Options {
	return Options{Owner: owner, PollInterval: 5 * time.Millisecond, HeartbeatInterval: time.Hour}
}

// exerciseRepositories runs the contract every repository must honor.
func exerciseRepositories(t *testing.T, first, second Repository) {
	t.Helper()
	ctx := context.Background()

	a := first.Obtain("bootstrap")
	b := second.Obtain("bootstrap")
	assert.Equal(t, "bootstrap", a.ID())

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, a.IsHeldByCurrentOwner())

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, b.IsHeldByCurrentOwner())

	// re-entrant for the same owner
	require.NoError(t, a.Lock(ctx))
	require.NoError(t, a.Unlock(ctx))
	assert.True(t, a.IsHeldByCurrentOwner())

	timeout, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Lock(timeout), context.DeadlineExceeded)

	acquired := make(chan error, 1)
	go func() { acquired <- b.Lock(ctx) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.Unlock(ctx))
	assert.False(t, a.IsHeldByCurrentOwner())

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second owner never acquired the lock")
	}
	assert.True(t, b.IsHeldByCurrentOwner())
	require.NoError(t, b.Unlock(ctx))

	assert.ErrorIs(t, a.Unlock(ctx), ErrLockNotHeld)
}

func TestMemoryRepository(t *testing.T) {
	store := NewMemoryStore()
	first := NewMemoryRepository(store, fastOptions("node-1"))
	second := NewMemoryRepository(store, fastOptions("node-2"))
	exerciseRepositories(t, first, second)

	_, held := store.Owner("bootstrap")
	assert.False(t, held)

	generated := NewMemoryRepository(store, Options{})
	assert.NotEmpty(t, generated.Owner())
}

func TestSQLRepository(t *testing.T) {
	db := openTestDB(t)
	first, err := NewSQLRepository(db, "", fastOptions("node-1"))
	require.NoError(t, err)
	require.NoError(t, first.CreateSchema(context.Background()))
	second, err := NewSQLRepository(db, "", fastOptions("node-2"))
	require.NoError(t, err)

	exerciseRepositories(t, first, second)

	t.Run("stale_takeover", func(t *testing.T) {
		ctx := context.Background()
		stale := first.Obtain("stale")
		ok, err := stale.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		second.now = func() time.Time { return time.Now().Add(2 * DefaultStaleTimeout) }
		defer func() { second.now = time.Now }()

		ok, err = second.Obtain("stale").TryLock(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		owner, found, err := second.CurrentOwner(ctx, "stale")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "node-2", owner)

		assert.ErrorIs(t, stale.Unlock(ctx), ErrLockNotHeld)
	})

	t.Run("invalid_table_name", func(t *testing.T) {
		_, err := NewSQLRepository(db, "locks; DROP TABLE x", Options{})
		assert.ErrorIs(t, err, ErrInvalidTableName)
	})
}

func TestRedisRepository(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	first := NewRedisRepository(client, fastOptions("node-1"))
	second, err := NewRedisRepositoryFromURL("redis://"+s.Addr(), fastOptions("node-2"))
	require.NoError(t, err)
	require.NoError(t, second.Ping(context.Background()))

	exerciseRepositories(t, first, second)

	t.Run("expires_without_heartbeat", func(t *testing.T) {
		ctx := context.Background()
		held := first.Obtain("expiring")
		ok, err := held.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "node-1", mustGet(t, s, DefaultKeyPrefix+"expiring"))

		s.FastForward(2 * DefaultStaleTimeout)

		ok, err = second.Obtain("expiring").TryLock(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func mustGet(t *testing.T, s *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := s.Get(key)
	require.NoError(t, err)
	return v
}

type countingRepository struct {
	Repository
	lookups int
}

func TestManager(t *testing.T) {
	ctx := context.Background()

	t.Run("lazy_and_idempotent", func(t *testing.T) {
		store := NewMemoryStore()
		repo := &countingRepository{Repository: NewMemoryRepository(store, fastOptions("node-1"))}
		m := NewManager("", func(context.Context) (Repository, error) {
			repo.lookups++
			return repo, nil
		}, nil)

		m.EnsureUnlocked(ctx)
		assert.Equal(t, 0, repo.lookups)
		assert.False(t, m.IsLocked())

		require.NoError(t, m.EnsureLocked(ctx))
		require.NoError(t, m.EnsureLocked(ctx))
		assert.Equal(t, 1, repo.lookups)
		assert.Equal(t, 1, m.Acquisitions())

		owner, held := store.Owner(DefaultLockID)
		assert.True(t, held)
		assert.Equal(t, "node-1", owner)

		m.EnsureUnlocked(ctx)
		m.EnsureUnlocked(ctx)
		_, held = store.Owner(DefaultLockID)
		assert.False(t, held)
		assert.False(t, m.IsLocked())
	})

	t.Run("release_failure_is_logged_and_swallowed", func(t *testing.T) {
		store := NewMemoryStore()
		logger := &recordingLogger{}
		m := NewManager("bootstrap", func(context.Context) (Repository, error) {
			return NewMemoryRepository(store, fastOptions("node-1")), nil
		}, logger)

		require.NoError(t, m.EnsureLocked(ctx))
		// another process wiped the lock from under us
		store.mu.Lock()
		store.owners[DefaultLockID] = "intruder"
		store.mu.Unlock()

		m.EnsureUnlocked(ctx)
		assert.Equal(t, []string{"Failed to release bootstrap lock"}, logger.errors)
		assert.False(t, m.IsLocked())
	})

	t.Run("lookup_failure", func(t *testing.T) {
		boom := errors.New("no datasource")
		m := NewManager("", func(context.Context) (Repository, error) { return nil, boom }, nil)
		assert.ErrorIs(t, m.EnsureLocked(ctx), boom)

		m = NewManager("", func(context.Context) (Repository, error) { return nil, nil }, nil)
		assert.ErrorIs(t, m.EnsureLocked(ctx), ErrNoRepository)

		m = NewManager("", nil, nil)
		assert.ErrorIs(t, m.EnsureLocked(ctx), ErrNoRepository)
	})
}
