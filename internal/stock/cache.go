package stock

import (
	"context"
	"encoding/json"
	"time"

	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"github.com/angelmondragon/packfinderz-stock/pkg/redis"
	"github.com/google/uuid"
)

// AvailabilityCache stores aggregated availability per product. A miss is
// reported as (nil, false, nil). A read that loaded the ledger before a
// write committed can repopulate an entry the write just invalidated; the
// TTL bounds how long that stale summary is served.
type AvailabilityCache interface {
	Get(ctx context.Context, productID uuid.UUID) (*Availability, bool, error)
	Set(ctx context.Context, availability Availability) error
	Invalidate(ctx context.Context, productIDs ...uuid.UUID) error
}

type redisStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	AvailabilityKey(productID string) string
}

type redisAvailabilityCache struct {
	store redisStore
	ttl   time.Duration
}

// NewRedisAvailabilityCache caches availability summaries in redis for ttl.
func NewRedisAvailabilityCache(store *redis.Client, ttl time.Duration) AvailabilityCache {
	return newRedisAvailabilityCache(store, ttl)
}

func newRedisAvailabilityCache(store redisStore, ttl time.Duration) *redisAvailabilityCache {
	return &redisAvailabilityCache{store: store, ttl: ttl}
}

func (c *redisAvailabilityCache) Get(ctx context.Context, productID uuid.UUID) (*Availability, bool, error) {
	raw, err := c.store.Get(ctx, c.store.AvailabilityKey(productID.String()))
	if redis.IsMiss(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var availability Availability
	if err := json.Unmarshal([]byte(raw), &availability); err != nil {
		return nil, false, err
	}
	return &availability, true, nil
}

func (c *redisAvailabilityCache) Set(ctx context.Context, availability Availability) error {
	payload, err := json.Marshal(availability)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.store.AvailabilityKey(availability.ProductID.String()), payload, c.ttl)
}

func (c *redisAvailabilityCache) Invalidate(ctx context.Context, productIDs ...uuid.UUID) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, c.store.AvailabilityKey(id.String()))
	}
	return c.store.Del(ctx, keys...)
}

// InvalidateQuietly drops cached summaries after a commit. Failures only log;
// entries age out on their TTL.
func InvalidateQuietly(ctx context.Context, cache AvailabilityCache, logg *logger.Logger, productIDs ...uuid.UUID) {
	if cache == nil || len(productIDs) == 0 {
		return
	}
	if err := cache.Invalidate(ctx, productIDs...); err != nil && logg != nil {
		logg.Warn(logg.WithField(ctx, "product_count", len(productIDs)), "availability cache invalidation failed")
	}
}
