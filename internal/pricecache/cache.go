// Package pricecache caches exchange prices with a short TTL so that
// concurrent consumers share a single upstream fetch per symbol.
package pricecache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"traderHive/internal/ports"
)

const (
	// DefaultTTL is how long a fetched price is served without refetching.
	DefaultTTL = 5 * time.Second
	// staleCeilingFactor bounds how old a cached price may be when served
	// as a fallback after an upstream failure, as a multiple of the TTL.
	staleCeilingFactor = 10
)

type entry struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Config holds the dependencies and tuning for a Cache.
type Config struct {
	Provider ports.PriceProvider
	Logger   ports.Logger
	// TTL is the freshness window for cached prices. Zero means DefaultTTL.
	TTL time.Duration
	// Now is the clock; nil means time.Now. Injectable for tests.
	Now func() time.Time
}

// Cache is a TTL price cache with request coalescing. A cache miss triggers
// one upstream fetch regardless of how many goroutines ask for the same
// symbol at once.
type Cache struct {
	provider ports.PriceProvider
	logger   ports.Logger
	ttl      time.Duration
	now      func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry
}

// New creates a price cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("price provider is required: %w", ports.ErrInvalidRequest)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required: %w", ports.ErrInvalidRequest)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		provider: cfg.Provider,
		logger:   cfg.Logger,
		ttl:      ttl,
		now:      now,
		entries:  make(map[string]entry),
	}, nil
}

// Key returns the canonical cache key for an exchange/symbol pair.
func Key(exchange, symbol string) string {
	return strings.ToLower(exchange) + ":" + strings.ToUpper(symbol)
}

// Get returns the current price for a symbol, serving from cache while the
// entry is fresher than the TTL. On upstream failure a stale entry younger
// than the hard ceiling is served with a warning; beyond the ceiling the
// failure surfaces as ErrPriceStale.
func (c *Cache) Get(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
	key := Key(exchange, symbol)

	if price, ok := c.fresh(key); ok {
		return price, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have
		// refreshed the entry while we waited for the group lock.
		if price, ok := c.fresh(key); ok {
			return price, nil
		}

		price, fetchErr := c.provider.FetchPrice(ctx, exchange, symbol)
		if fetchErr != nil {
			return c.serveStale(ctx, key, fetchErr)
		}

		c.mu.Lock()
		c.entries[key] = entry{price: price, fetchedAt: c.now()}
		c.mu.Unlock()
		return price, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// GetMany fetches prices for several pairs concurrently. The result maps
// cache keys to prices; pairs whose fetch failed are absent, with the first
// error noted in the log but not returned. Pairs are "exchange:SYMBOL".
func (c *Cache) GetMany(ctx context.Context, pairs []string) map[string]decimal.Decimal {
	results := make(map[string]decimal.Decimal, len(pairs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	seen := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		exchange, symbol, ok := splitPair(pair)
		if !ok {
			c.logger.Warn(ctx, "skipping malformed price pair", map[string]interface{}{"pair": pair})
			continue
		}
		key := Key(exchange, symbol)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		wg.Add(1)
		go func(exchange, symbol, key string) {
			defer wg.Done()
			price, err := c.Get(ctx, exchange, symbol)
			if err != nil {
				c.logger.Warn(ctx, "batch price fetch failed", map[string]interface{}{
					"pair":  key,
					"error": err.Error(),
				})
				return
			}
			mu.Lock()
			results[key] = price
			mu.Unlock()
		}(exchange, symbol, key)
	}
	wg.Wait()
	return results
}

// Cached returns the cached price for a pair without fetching, and whether
// an entry exists at all (fresh or stale).
func (c *Cache) Cached(exchange, symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[Key(exchange, symbol)]
	if !ok {
		return decimal.Zero, false
	}
	return e.price, true
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

func (c *Cache) fresh(key string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return decimal.Zero, false
	}
	if c.now().Sub(e.fetchedAt) >= c.ttl {
		return decimal.Zero, false
	}
	return e.price, true
}

func (c *Cache) serveStale(ctx context.Context, key string, fetchErr error) (interface{}, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("fetch failed and no cached price for %s: %w", key, fetchErr)
	}

	age := c.now().Sub(e.fetchedAt)
	if age > time.Duration(staleCeilingFactor)*c.ttl {
		return nil, fmt.Errorf("fetch failed and cached price for %s is %s old: %w: %w",
			key, age.Round(time.Second), ports.ErrPriceStale, fetchErr)
	}

	c.logger.Warn(ctx, "serving stale price after fetch failure", map[string]interface{}{
		"pair":  key,
		"age":   age.String(),
		"error": fetchErr.Error(),
	})
	return e.price, nil
}

func splitPair(pair string) (exchange, symbol string, ok bool) {
	i := strings.IndexByte(pair, ':')
	if i <= 0 || i == len(pair)-1 {
		return "", "", false
	}
	return pair[:i], pair[i+1:], true
}
