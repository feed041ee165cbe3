package repository

import (
	"context"
	"testing"
	"time"

	"cityshift/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStateRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	repo := NewRedisStateRepository(rdb, 10*time.Minute)
	ctx := context.Background()

	got, err := repo.GetState(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, got)

	state := &models.UserState{
		UserID: 7,
		Step:   models.StepChoosingCity,
		Draft:  models.RegistrationDraft{Language: "en", Country: "PL", CityPage: 1},
	}
	require.NoError(t, repo.SetState(ctx, state))

	got, err = repo.GetState(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StepChoosingCity, got.Step)
	assert.Equal(t, state.Draft, got.Draft)

	mr.FastForward(11 * time.Minute)
	got, err = repo.GetState(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.SetState(ctx, state))
	require.NoError(t, repo.ClearState(ctx, 7))
	got, err = repo.GetState(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Ping(ctx))
}

func TestRedisStateRepository_RateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	repo := NewRedisStateRepository(rdb, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := repo.CheckRateLimit(ctx, 1, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := repo.CheckRateLimit(ctx, 1, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = repo.CheckRateLimit(ctx, 1, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStateRepository(t *testing.T) {
	repo := NewMemoryStateRepository(time.Minute)
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, repo.SetState(ctx, &models.UserState{UserID: 1, Step: models.StepEnteringSchedule}))
	got, err := repo.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StepEnteringSchedule, got.Step)

	now = now.Add(2 * time.Minute)
	got, err = repo.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	ok, _ := repo.CheckRateLimit(ctx, 1, 1, time.Minute)
	assert.True(t, ok)
	ok, _ = repo.CheckRateLimit(ctx, 1, 1, time.Minute)
	assert.False(t, ok)
	now = now.Add(time.Minute)
	ok, _ = repo.CheckRateLimit(ctx, 1, 1, time.Minute)
	assert.True(t, ok)
}
