package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cityshift/internal/models"

	"github.com/redis/go-redis/v9"
)

// StateRepository stores per-chat conversation state.
type StateRepository interface {
	// GetState returns nil, nil when the chat has no state.
	GetState(ctx context.Context, userID int64) (*models.UserState, error)
	SetState(ctx context.Context, state *models.UserState) error
	ClearState(ctx context.Context, userID int64) error
	// CheckRateLimit counts a request and reports whether it is within limit per window.
	CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error)
}

// RedisStateRepository keeps state as JSON with a TTL.
type RedisStateRepository struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisStateRepository(client redis.Cmdable, ttl time.Duration) *RedisStateRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStateRepository{client: client, ttl: ttl}
}

func stateKey(userID int64) string {
	return "cityshift:state:" + strconv.FormatInt(userID, 10)
}

func rateKey(userID int64) string {
	return "cityshift:rate:" + strconv.FormatInt(userID, 10)
}

func (r *RedisStateRepository) GetState(ctx context.Context, userID int64) (*models.UserState, error) {
	data, err := r.client.Get(ctx, stateKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get state: %w", err)
	}

	var state models.UserState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

func (r *RedisStateRepository) SetState(ctx context.Context, state *models.UserState) error {
	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return r.client.Set(ctx, stateKey(state.UserID), data, r.ttl).Err()
}

func (r *RedisStateRepository) ClearState(ctx context.Context, userID int64) error {
	return r.client.Del(ctx, stateKey(userID)).Err()
}

func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	key := rateKey(userID)
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return false, err
		}
	}
	return n <= int64(limit), nil
}

// Ping checks the Redis connection.
func (r *RedisStateRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// MemoryStateRepository is the in-process fallback.
type MemoryStateRepository struct {
	mu     sync.Mutex
	ttl    time.Duration
	states map[int64]models.UserState
	hits   map[int64][]time.Time
	now    func() time.Time
}

func NewMemoryStateRepository(ttl time.Duration) *MemoryStateRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryStateRepository{
		ttl:    ttl,
		states: make(map[int64]models.UserState),
		hits:   make(map[int64][]time.Time),
		now:    time.Now,
	}
}

func (m *MemoryStateRepository) GetState(_ context.Context, userID int64) (*models.UserState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[userID]
	if !ok {
		return nil, nil
	}
	if m.now().Sub(st.UpdatedAt) > m.ttl {
		delete(m.states, userID)
		return nil, nil
	}
	return &st, nil
}

func (m *MemoryStateRepository) SetState(_ context.Context, state *models.UserState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state.UpdatedAt = m.now()
	m.states[state.UserID] = *state
	return nil
}

func (m *MemoryStateRepository) ClearState(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}

func (m *MemoryStateRepository) CheckRateLimit(_ context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	kept := m.hits[userID][:0]
	for _, t := range m.hits[userID] {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	m.hits[userID] = kept
	return len(kept) <= limit, nil
}
