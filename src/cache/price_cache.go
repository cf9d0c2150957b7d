// Package cache keeps the last known market price per exchange and symbol.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// PriceCache stores last seen prices. GetPrice returns (nil, nil) when nothing
// fresh is cached.
type PriceCache interface {
	SetPrice(ctx context.Context, exchangeID uint, symbol string, price decimal.Decimal) error
	GetPrice(ctx context.Context, exchangeID uint, symbol string) (*decimal.Decimal, error)
}

func priceKey(exchangeID uint, symbol string) string {
	return fmt.Sprintf("price:%d:%s", exchangeID, strings.ToUpper(strings.TrimSpace(symbol)))
}

// New returns a redis backed cache when REDIS_URL is set and reachable,
// otherwise an in-process cache.
func New(ctx context.Context, cfg Config) PriceCache {
	if cfg.RedisURL == "" {
		logger.WithField("component", "cache").Info("REDIS_URL not set, using in-memory price cache")
		return NewMemoryPriceCache(cfg.PriceCacheTTL)
	}

	rc, err := NewRedisPriceCache(ctx, cfg.RedisURL, cfg.PriceCacheTTL)
	if err != nil {
		logger.WithField("component", "cache").WithError(err).
			Warn("redis unavailable, falling back to in-memory price cache")
		return NewMemoryPriceCache(cfg.PriceCacheTTL)
	}
	return rc
}
