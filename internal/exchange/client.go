// Package exchange provides the normalized read-only venue capability the
// pipeline consumes, with per-venue rate limiting, circuit breaking and
// retry policy applied inside the adapters.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"wallradar/internal/domain"
)

// Timeframe selects the volatility window.
type Timeframe string

const (
	Timeframe1h  Timeframe = "1h"
	Timeframe24h Timeframe = "24h"
)

// SymbolInfo describes one futures symbol as listed by the venue.
type SymbolInfo struct {
	Symbol         string
	BaseAsset      string
	QuoteAsset     string
	PricePrecision int32
	Trading        bool
}

// Stats24h is the rolling 24 hour ticker for one symbol.
type Stats24h struct {
	Symbol      string
	Volume      float64
	QuoteVolume float64
	LastPrice   decimal.Decimal
	PriceChange float64 // percent
}

// Volatility is the OHLC-derived volatility for one window.
type Volatility struct {
	Symbol      string
	Timeframe   Timeframe
	Volatility  float64 // (high-low)/low over the window
	PriceChange float64 // percent, close vs open
	FetchedAt   time.Time
}

// Client is the capability the core consumes. Implementations honor the
// configured rate limit, map failures onto the venue error taxonomy, and
// normalize all monetary values to decimals.
type Client interface {
	Name() string
	FuturesSymbols(ctx context.Context) ([]SymbolInfo, error)
	Stats24h(ctx context.Context) (map[string]Stats24h, error)
	TopByQuoteVolume(ctx context.Context, n int) ([]string, error)
	OrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error)
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Volatility(ctx context.Context, symbol string, tf Timeframe) (*Volatility, error)
	PricePrecision(ctx context.Context, symbol string) (int32, error)
}

// RankByQuoteVolume is the shared ranking used by adapters that implement
// TopByQuoteVolume on top of their Stats24h call.
func RankByQuoteVolume(ctx context.Context, c Client, n int) ([]string, error) {
	stats, err := c.Stats24h(ctx)
	if err != nil {
		return nil, fmt.Errorf("rank by quote volume: %w", err)
	}
	ranked := make([]Stats24h, 0, len(stats))
	for _, s := range stats {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].QuoteVolume != ranked[j].QuoteVolume {
			return ranked[i].QuoteVolume > ranked[j].QuoteVolume
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, 0, n)
	for _, s := range ranked[:n] {
		out = append(out, s.Symbol)
	}
	return out, nil
}
