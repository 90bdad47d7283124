package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Release gives the lock back. Releasing a lock that already expired and was
// taken by someone else is a no-op.
type Release func(ctx context.Context) error

type Redis struct {
	rdb redis.UniversalClient
}

func NewRedis(rdb redis.UniversalClient) *Redis {
	if rdb == nil {
		panic("missing redis client")
	}
	return &Redis{rdb: rdb}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// TryLock takes key for ttl if nobody holds it. ok is false when the lock is
// held elsewhere.
func (l *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("could not acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("could not release lock %s: %w", key, err)
		}
		return nil
	}, true, nil
}

type InMemory struct {
	mu    sync.Mutex
	held  map[string]string
	until map[string]time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		held:  make(map[string]string),
		until: make(map[string]time.Time),
	}
}

func (l *InMemory) TryLock(_ context.Context, key string, ttl time.Duration) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok && time.Now().Before(l.until[key]) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.held[key] = token
	l.until[key] = time.Now().Add(ttl)

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == token {
			delete(l.held, key)
			delete(l.until, key)
		}
		return nil
	}, true, nil
}
