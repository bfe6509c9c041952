package stock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func (f *fakeRedis) Get(_ context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.values[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return nil
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

func (f *fakeRedis) AvailabilityKey(productID string) string {
	return "pf:availability:" + productID
}

func TestRedisAvailabilityCache(t *testing.T) {
	ctx := context.Background()
	store := &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
	cache := newRedisAvailabilityCache(store, 30*time.Second)
	productID := uuid.New()

	_, ok, err := cache.Get(ctx, productID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, Availability{ProductID: productID, TotalAvailable: 7}))
	assert.Equal(t, 30*time.Second, store.ttls["pf:availability:"+productID.String()])

	got, ok, err := cache.Get(ctx, productID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, got.TotalAvailable)

	require.NoError(t, cache.Invalidate(ctx, productID))
	_, ok, err = cache.Get(ctx, productID)
	require.NoError(t, err)
	assert.False(t, ok)
}
