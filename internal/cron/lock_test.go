package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) ExpireIfEqual(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.values[key] != value {
		return false, nil
	}
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) DeleteIfEqual(_ context.Context, key, value string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

const sweeperKey = "pf:lock:reservation-sweeper:test"

func TestRedisLockIsExclusiveAcrossInstances(t *testing.T) {
	store := newMemoryLockStore()
	ctx := context.Background()
	first, err := NewRedisLock(store, sweeperKey, time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, sweeperKey, time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second instance must not acquire a held lock")

	require.NoError(t, second.Release(ctx))
	assert.Contains(t, store.values, sweeperKey, "non-owner released the lock")

	require.NoError(t, first.Release(ctx))
	ok, _ = second.Acquire(ctx)
	assert.True(t, ok, "lock should be free after owner release")
}

func TestRedisLockExtend(t *testing.T) {
	store := newMemoryLockStore()
	ctx := context.Background()
	lock, err := NewRedisLock(store, sweeperKey, 30*time.Second)
	require.NoError(t, err)

	assert.ErrorIs(t, lock.Extend(ctx), ErrLockLost, "extend before acquire")

	_, _ = lock.Acquire(ctx)
	store.ttls[sweeperKey] = time.Second
	require.NoError(t, lock.Extend(ctx))
	assert.Equal(t, 30*time.Second, store.ttls[sweeperKey])

	// expiry plus takeover by another instance
	store.values[sweeperKey] = "someone-else"
	assert.ErrorIs(t, lock.Extend(ctx), ErrLockLost)
	require.NoError(t, lock.Release(ctx))
	assert.Equal(t, "someone-else", store.values[sweeperKey])
}

func TestRedisLockDefaultsAndErrors(t *testing.T) {
	store := newMemoryLockStore()
	lock, err := NewRedisLock(store, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)

	_, err = NewRedisLock(nil, "k", time.Minute)
	assert.Error(t, err)
	_, err = NewRedisLock(store, "", time.Minute)
	assert.Error(t, err)

	store.err = errors.New("connection refused")
	_, err = lock.Acquire(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}
