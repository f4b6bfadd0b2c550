// Package lock provides best-effort mutual exclusion for dispatch work that
// must not overlap, such as two batches for the same campaign.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/outreach-dispatch/internal/config"
)

// Locker acquires a named lock without waiting. When ok is false someone else
// holds the lock and unlock is nil.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// CampaignKey names the lock serialising batches of one campaign.
func CampaignKey(campaignID int64) string {
	return fmt.Sprintf("campaign-%d", campaignID)
}

// ResendPassKey names the lock around a whole auto-resend pass.
const ResendPassKey = "resend-pass"

// MemoryLocker is process-local. Expired entries are taken over.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), clock: time.Now}
}

var _ Locker = (*MemoryLocker)(nil)

func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expires, ok := l.held[key]; ok && (expires.IsZero() || now.Before(expires)) {
		return nil, false, nil
	}
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	l.held[key] = expires

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.Equal(expires) {
				delete(l.held, key)
			}
		})
	}, true, nil
}

// NewFromConfig picks the backend named by LOCK_BACKEND.
func NewFromConfig(cfg config.Config) (Locker, error) {
	switch cfg.LockBackend {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "file":
		return NewFileLocker(cfg.LockDir)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return NewRedisLocker(client, "outreach:lock:"), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}
