// Package marketctx maintains the per-symbol market environment the weight
// engine reads: short and daily volatility, the temperature band derived
// from them, and the session modifiers. Entries refresh lazily with a TTL
// and a single flight per symbol.
package marketctx

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"wallradar/internal/domain"
	"wallradar/internal/exchange"
	"wallradar/internal/metrics"
)

// StaleGrace multiplies the TTL: an expired entry is still served on
// refresh failure until it is this much past its fetch time.
const StaleGrace = 2

// Cache is safe for concurrent use by all hot-pool workers.
type Cache struct {
	client   exchange.Client
	ttl      time.Duration
	registry *metrics.Registry
	log      zerolog.Logger
	clock    func() time.Time

	mu      sync.RWMutex
	entries map[string]*domain.MarketContext
	group   singleflight.Group
}

// New builds a cache over one venue.
func New(client exchange.Client, ttl time.Duration, reg *metrics.Registry, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		client:   client,
		ttl:      ttl,
		registry: reg,
		log:      log.With().Str("component", "marketctx").Logger(),
		clock:    func() time.Time { return time.Now().UTC() },
		entries:  make(map[string]*domain.MarketContext),
	}
}

// Get returns the context for a symbol, refreshing through the venue when
// the cached entry is missing or expired. Concurrent callers for the same
// symbol share one refresh. On refresh failure a stale entry within the
// grace window is served instead of the error.
func (c *Cache) Get(ctx context.Context, symbol string) (domain.MarketContext, error) {
	now := c.clock()

	c.mu.RLock()
	cached, ok := c.entries[symbol]
	c.mu.RUnlock()
	if ok && now.Sub(cached.FetchedAt) < c.ttl {
		if c.registry != nil {
			c.registry.RecordContextHit()
		}
		return *cached, nil
	}
	if c.registry != nil {
		c.registry.RecordContextMiss()
	}

	v, err, _ := c.group.Do(symbol, func() (interface{}, error) {
		fresh, err := c.refresh(ctx, symbol)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[symbol] = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		if ok && now.Sub(cached.FetchedAt) < StaleGrace*c.ttl {
			c.log.Warn().Str("symbol", symbol).Err(err).
				Msg("context refresh failed, serving stale entry")
			return *cached, nil
		}
		return domain.MarketContext{}, err
	}
	return *(v.(*domain.MarketContext)), nil
}

func (c *Cache) refresh(ctx context.Context, symbol string) (*domain.MarketContext, error) {
	vol1h, err := c.client.Volatility(ctx, symbol, exchange.Timeframe1h)
	if err != nil {
		return nil, err
	}
	vol24h, err := c.client.Volatility(ctx, symbol, exchange.Timeframe24h)
	if err != nil {
		return nil, err
	}
	now := c.clock()
	return &domain.MarketContext{
		Symbol:          symbol,
		Volatility1h:    vol1h.Volatility,
		Volatility24h:   vol24h.Volatility,
		Temperature:     domain.TemperatureFor(vol24h.Volatility),
		TimeOfDayFactor: TimeOfDayFactor(now),
		DayOfWeekFactor: DayOfWeekFactor(now),
		FetchedAt:       now,
	}, nil
}

// TimeOfDayFactor weights the UTC trading session: the London/NY overlap
// carries the most conviction, the dead hours the least.
func TimeOfDayFactor(now time.Time) float64 {
	switch h := now.UTC().Hour(); {
	case h >= 13 && h < 17: // London/NY overlap
		return 1.5
	case h >= 7 && h < 13: // London
		return 1.2
	case h >= 17 && h < 21: // NY afternoon
		return 1.1
	case h >= 0 && h < 7: // Asia
		return 0.9
	default: // late UTC evening
		return 0.7
	}
}

// DayOfWeekFactor discounts weekend walls, when books are thin and easier
// to paint.
func DayOfWeekFactor(now time.Time) float64 {
	switch now.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return 0.6
	case time.Monday, time.Friday:
		return 0.9
	default:
		return 1.1
	}
}
