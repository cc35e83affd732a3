package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix prefixes every Redis lock key.
const DefaultKeyPrefix = "modctx:lock:"

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisRepository stores locks as Redis keys holding the owner id. Keys
// expire after the stale timeout unless the heartbeat extends them.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
	opts   Options
}

// NewRedisRepository creates a repository over client.
func NewRedisRepository(client redis.UniversalClient, opts Options) *RedisRepository {
	return &RedisRepository{client: client, prefix: DefaultKeyPrefix, opts: opts.withDefaults()}
}

// NewRedisRepositoryFromURL connects to the Redis server at url.
func NewRedisRepositoryFromURL(url string, opts Options) (*RedisRepository, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return NewRedisRepository(redis.NewClient(redisOpts), opts), nil
}

// Ping checks the connection.
func (r *RedisRepository) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// Obtain implements Repository.
func (r *RedisRepository) Obtain(id string) Lock {
	return newHandle(id, r.opts, r)
}

// Owner implements Repository.
func (r *RedisRepository) Owner() string { return r.opts.Owner }

func (r *RedisRepository) key(id string) string { return r.prefix + id }

func (r *RedisRepository) acquire(ctx context.Context, id, owner string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(id), owner, r.opts.StaleTimeout).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", id, err)
	}
	if ok {
		return true, nil
	}

	current, err := r.client.Get(ctx, r.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lock %s: %w", id, err)
	}
	if current != owner {
		return false, nil
	}
	return true, r.refresh(ctx, id, owner)
}

func (r *RedisRepository) release(ctx context.Context, id, owner string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key(id)}, owner).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, id)
	}
	return nil
}

func (r *RedisRepository) refresh(ctx context.Context, id, owner string) error {
	n, err := refreshScript.Run(ctx, r.client, []string{r.key(id)}, owner, r.opts.StaleTimeout.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to refresh lock %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, id)
	}
	return nil
}
