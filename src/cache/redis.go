package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisPriceCache stores prices as plain string keys with a TTL.
type RedisPriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ PriceCache = (*RedisPriceCache)(nil)

// NewRedisPriceCache parses rawURL, pings the server and returns the cache.
func NewRedisPriceCache(ctx context.Context, rawURL string, ttl time.Duration) (*RedisPriceCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return NewRedisPriceCacheWithClient(rdb, ttl), nil
}

func NewRedisPriceCacheWithClient(rdb *redis.Client, ttl time.Duration) *RedisPriceCache {
	return &RedisPriceCache{rdb: rdb, ttl: ttl}
}

func (c *RedisPriceCache) SetPrice(ctx context.Context, exchangeID uint, symbol string, price decimal.Decimal) error {
	key := priceKey(exchangeID, symbol)
	if err := c.rdb.Set(ctx, key, price.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", key, err)
	}
	return nil
}

func (c *RedisPriceCache) GetPrice(ctx context.Context, exchangeID uint, symbol string) (*decimal.Decimal, error) {
	key := priceKey(exchangeID, symbol)
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get price %s: %w", key, err)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("redis: parse price %s: %w", key, err)
	}
	return &price, nil
}

// Close closes the redis connection.
func (c *RedisPriceCache) Close() error {
	return c.rdb.Close()
}
