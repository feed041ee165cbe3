package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryMarker keeps the last claimed key per loop in process memory.
type MemoryMarker struct {
	mu   sync.Mutex
	last map[string]string
}

func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{last: make(map[string]string)}
}

func (m *MemoryMarker) Claim(_ context.Context, loop, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last[loop] == key {
		return false, nil
	}
	m.last[loop] = key
	return true, nil
}

// RedisMarker claims keys with SET NX so that replicas sharing one Redis
// fire a loop once per trigger minute.
type RedisMarker struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisMarker(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisMarker {
	if prefix == "" {
		prefix = "cityshift:fired:"
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisMarker{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (m *RedisMarker) Claim(ctx context.Context, loop, key string) (bool, error) {
	return m.rdb.SetNX(ctx, m.prefix+loop+":"+key, time.Now().Unix(), m.ttl).Result()
}
