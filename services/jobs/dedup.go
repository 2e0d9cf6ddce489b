package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// dedupTTL caps how long a crashed worker can hold a domain's job slot.
const dedupTTL = 15 * time.Minute

// dedupLocker enforces at most one in-flight job per domain. Redis-backed so
// the guarantee holds across processes; falls back to a process-local map
// when no redis is configured.
type dedupLocker struct {
	redis *redis.Client

	mu    sync.Mutex
	local map[string]time.Time
}

func newDedupLocker(redisClient *redis.Client) *dedupLocker {
	return &dedupLocker{
		redis: redisClient,
		local: map[string]time.Time{},
	}
}

func dedupKey(domainID string) string {
	return "domainjob:" + domainID
}

func (l *dedupLocker) acquire(ctx context.Context, domainID string) (bool, error) {
	if l.redis != nil {
		return l.redis.SetNX(ctx, dedupKey(domainID), "1", dedupTTL).Result()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if deadline, held := l.local[domainID]; held && time.Now().Before(deadline) {
		return false, nil
	}
	l.local[domainID] = time.Now().Add(dedupTTL)
	return true, nil
}

func (l *dedupLocker) release(ctx context.Context, domainID string) {
	if l.redis != nil {
		l.redis.Del(ctx, dedupKey(domainID))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.local, domainID)
}
