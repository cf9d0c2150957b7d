package cache

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type memoryEntry struct {
	price   decimal.Decimal
	expires time.Time
}

// MemoryPriceCache is a process local PriceCache. A zero ttl keeps entries forever.
type MemoryPriceCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

var _ PriceCache = (*MemoryPriceCache)(nil)

func NewMemoryPriceCache(ttl time.Duration) *MemoryPriceCache {
	return &MemoryPriceCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryPriceCache) SetPrice(_ context.Context, exchangeID uint, symbol string, price decimal.Decimal) error {
	entry := memoryEntry{price: price}
	if c.ttl > 0 {
		entry.expires = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[priceKey(exchangeID, symbol)] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryPriceCache) GetPrice(_ context.Context, exchangeID uint, symbol string) (*decimal.Decimal, error) {
	key := priceKey(exchangeID, symbol)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !entry.expires.IsZero() && c.now().After(entry.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, nil
	}

	price := entry.price
	return &price, nil
}
