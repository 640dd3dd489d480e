package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trendly/apiserver/config"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	issued := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	challenge := Challenge{Code: 4242, IssuedAt: issued, ExpiresAt: issued.Add(DefaultTTL)}
	require.NoError(t, store.Set(ctx, "otp:challenge:a@x.com", challenge, 10*time.Minute))

	assert.True(t, mr.Exists(redisKeyPrefix+"otp:challenge:a@x.com"))
	assert.Equal(t, 10*time.Minute, mr.TTL(redisKeyPrefix+"otp:challenge:a@x.com"))

	got, err := store.Get(ctx, "otp:challenge:a@x.com")
	require.NoError(t, err)
	assert.True(t, got.Equal(challenge))

	_, err = store.Get(ctx, "otp:challenge:missing@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := Challenge{Code: 1111, IssuedAt: issued, ExpiresAt: issued.Add(DefaultTTL)}
	fresh := Challenge{Code: 2222, IssuedAt: issued.Add(time.Second), ExpiresAt: issued.Add(DefaultTTL + time.Second)}
	require.NoError(t, store.Set(ctx, "k", fresh, time.Minute))

	removed, err := store.CompareAndDelete(ctx, "k", stale)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.True(t, mr.Exists(redisKeyPrefix+"k"))

	current, err := store.Get(ctx, "k")
	require.NoError(t, err)
	removed, err = store.CompareAndDelete(ctx, "k", current)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, mr.Exists(redisKeyPrefix+"k"))
}

func TestRedisStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	original := Challenge{Code: 1111, IssuedAt: issued, ExpiresAt: issued.Add(DefaultTTL)}
	counted := original
	counted.Attempts = 1
	require.NoError(t, store.Set(ctx, "k", original, time.Minute))

	current, err := store.Get(ctx, "k")
	require.NoError(t, err)
	swapped, err := store.CompareAndSwap(ctx, "k", current, counted, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.Equal(t, 10*time.Minute, mr.TTL(redisKeyPrefix+"k"))

	swapped, err = store.CompareAndSwap(ctx, "k", original, counted, time.Minute)
	require.NoError(t, err)
	assert.False(t, swapped)

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, got.Equal(counted))

	swapped, err = store.CompareAndSwap(ctx, "missing", original, counted, time.Minute)
	require.NoError(t, err)
	assert.False(t, swapped)
	assert.False(t, mr.Exists(redisKeyPrefix+"missing"))
}

func TestRegistryOverRedisEvictsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)
	reg := NewRegistry(store, WithClock(newFakeClock().Now), WithCodeSource(sequenceCodes(6060)), WithMaxAttempts(2))

	_, err := reg.Issue(ctx, "r@x.com")
	require.NoError(t, err)
	assert.ErrorIs(t, reg.Verify(ctx, "r@x.com", 1), ErrMismatch)
	assert.True(t, mr.Exists(redisKeyPrefix+challengePrefix+"r@x.com"))
	assert.ErrorIs(t, reg.Verify(ctx, "r@x.com", 2), ErrMismatch)
	assert.False(t, mr.Exists(redisKeyPrefix+challengePrefix+"r@x.com"))
	assert.ErrorIs(t, reg.Verify(ctx, "r@x.com", 6060), ErrNotFound)
}

func TestRegistryOverRedis(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)
	clock := newFakeClock()
	reg := NewRegistry(store, WithClock(clock.Now), WithCodeSource(sequenceCodes(8080, 9090)))

	first, err := reg.Issue(ctx, "r@x.com")
	require.NoError(t, err)
	second, err := reg.Issue(ctx, "r@x.com")
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Verify(ctx, "r@x.com", first), ErrMismatch)
	require.NoError(t, reg.Verify(ctx, "r@x.com", second))
	assert.ErrorIs(t, reg.Verify(ctx, "r@x.com", second), ErrNotFound)

	_, err = reg.Issue(ctx, "r@x.com")
	require.NoError(t, err)
	clock.Advance(DefaultTTL + time.Second)
	assert.ErrorIs(t, reg.Verify(ctx, "r@x.com", 8080), ErrExpired)
}
