package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL applies when TryLock is called without a ttl so a crashed
// holder cannot block a campaign forever.
const DefaultRedisTTL = 5 * time.Minute

// RedisLocker shares locks between hosts. Each hold is tagged with a random
// token and only the owner can release it.
type RedisLocker struct {
	rc     *redis.Client
	prefix string
}

func NewRedisLocker(rc *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{rc: rc, prefix: prefix}
}

var _ Locker = (*RedisLocker)(nil)

var luaRelease = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	k := l.prefix + key
	token := uuid.NewString()
	ok, err := l.rc.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = luaRelease.Run(ctx, l.rc, []string{k}, token).Err()
		})
	}, true, nil
}
