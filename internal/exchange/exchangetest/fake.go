// Package exchangetest provides a deterministic, scriptable ExchangeClient
// for pool and scanner tests. Books are staged per symbol and can be swapped
// between ticks to script wall lifecycles.
package exchangetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"wallradar/internal/domain"
	"wallradar/internal/exchange"
)

// Fake implements exchange.Client from in-memory state.
type Fake struct {
	mu         sync.RWMutex
	name       string
	books      map[string]*domain.OrderBook
	stats      map[string]exchange.Stats24h
	precisions map[string]int32
	volatility map[string]map[exchange.Timeframe]float64
	lastPrices map[string]decimal.Decimal
	failures   map[string]error // symbol -> forced error on book/price fetch
	failAll    error            // forced error on every data fetch
	calls      map[string]int
}

// New builds an empty fake venue.
func New() *Fake {
	return &Fake{
		name:       "fake",
		books:      make(map[string]*domain.OrderBook),
		stats:      make(map[string]exchange.Stats24h),
		precisions: make(map[string]int32),
		volatility: make(map[string]map[exchange.Timeframe]float64),
		lastPrices: make(map[string]decimal.Decimal),
		failures:   make(map[string]error),
		calls:      make(map[string]int),
	}
}

// Level is a convenience book level for scripting.
type Level struct {
	Price    string
	Quantity string
}

// SetBook stages both sides of a symbol's book. Asks must be ascending,
// bids descending, best first, as a venue would return them.
func (f *Fake) SetBook(symbol string, asks, bids []Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[symbol] = &domain.OrderBook{
		Symbol:    symbol,
		Exchange:  f.name,
		Asks:      toEntries(asks),
		Bids:      toEntries(bids),
		FetchedAt: time.Now().UTC(),
	}
	if _, ok := f.precisions[symbol]; !ok {
		f.precisions[symbol] = 2
	}
}

func toEntries(levels []Level) []domain.BookEntry {
	out := make([]domain.BookEntry, 0, len(levels))
	for _, l := range levels {
		out = append(out, domain.BookEntry{
			Price:    decimal.RequireFromString(l.Price),
			Quantity: decimal.RequireFromString(l.Quantity),
		})
	}
	return out
}

// SetStats stages the 24h ticker for a symbol.
func (f *Fake) SetStats(symbol string, quoteVolume float64, lastPrice string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price := decimal.RequireFromString(lastPrice)
	f.stats[symbol] = exchange.Stats24h{
		Symbol:      symbol,
		Volume:      quoteVolume,
		QuoteVolume: quoteVolume,
		LastPrice:   price,
	}
	f.lastPrices[symbol] = price
}

// SetLastPrice overrides the last trade price.
func (f *Fake) SetLastPrice(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPrices[symbol] = decimal.RequireFromString(price)
}

// SetPrecision sets the price precision for a symbol.
func (f *Fake) SetPrecision(symbol string, p int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.precisions[symbol] = p
}

// SetVolatility stages a volatility reading.
func (f *Fake) SetVolatility(symbol string, tf exchange.Timeframe, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.volatility[symbol] == nil {
		f.volatility[symbol] = make(map[exchange.Timeframe]float64)
	}
	f.volatility[symbol][tf] = v
}

// FailSymbol forces book and price fetches for a symbol to return err.
// A nil err clears the failure.
func (f *Fake) FailSymbol(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, symbol)
		return
	}
	f.failures[symbol] = err
}

// FailAll forces every subsequent data fetch to return err. A nil err
// clears it.
func (f *Fake) FailAll(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = err
}

// Calls reports how many times an endpoint was hit.
func (f *Fake) Calls(endpoint string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls[endpoint]
}

func (f *Fake) record(endpoint string) {
	f.calls[endpoint]++
}

// Name identifies the fake venue.
func (f *Fake) Name() string { return f.name }

// FuturesSymbols lists every staged symbol as a trading perpetual.
func (f *Fake) FuturesSymbols(ctx context.Context) ([]exchange.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("symbols")
	out := make([]exchange.SymbolInfo, 0, len(f.stats))
	for sym := range f.stats {
		out = append(out, exchange.SymbolInfo{
			Symbol:         sym,
			PricePrecision: f.precisions[sym],
			Trading:        true,
		})
	}
	return out, nil
}

// Stats24h returns the staged tickers.
func (f *Fake) Stats24h(ctx context.Context) (map[string]exchange.Stats24h, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stats")
	out := make(map[string]exchange.Stats24h, len(f.stats))
	for k, v := range f.stats {
		out[k] = v
	}
	return out, nil
}

// TopByQuoteVolume ranks staged symbols by quote volume.
func (f *Fake) TopByQuoteVolume(ctx context.Context, n int) ([]string, error) {
	return exchange.RankByQuoteVolume(ctx, f, n)
}

// OrderBook returns the staged book.
func (f *Fake) OrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("orderbook")
	if f.failAll != nil {
		return nil, f.failAll
	}
	if err, ok := f.failures[symbol]; ok {
		return nil, err
	}
	book, ok := f.books[symbol]
	if !ok {
		return nil, fmt.Errorf("no staged book for %s", symbol)
	}
	cp := *book
	cp.Asks = append([]domain.BookEntry(nil), book.Asks...)
	cp.Bids = append([]domain.BookEntry(nil), book.Bids...)
	if depth < len(cp.Asks) {
		cp.Asks = cp.Asks[:depth]
	}
	if depth < len(cp.Bids) {
		cp.Bids = cp.Bids[:depth]
	}
	return &cp, nil
}

// LastPrice returns the staged last price.
func (f *Fake) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("price")
	if f.failAll != nil {
		return decimal.Zero, f.failAll
	}
	if err, ok := f.failures[symbol]; ok {
		return decimal.Zero, err
	}
	p, ok := f.lastPrices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no staged price for %s", symbol)
	}
	return p, nil
}

// Volatility returns the staged reading, defaulting to a calm 1%.
func (f *Fake) Volatility(ctx context.Context, symbol string, tf exchange.Timeframe) (*exchange.Volatility, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("volatility")
	if f.failAll != nil {
		return nil, f.failAll
	}
	v := 0.01
	if m, ok := f.volatility[symbol]; ok {
		if staged, ok := m[tf]; ok {
			v = staged
		}
	}
	return &exchange.Volatility{
		Symbol:     symbol,
		Timeframe:  tf,
		Volatility: v,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// PricePrecision returns the staged precision, defaulting to 2.
func (f *Fake) PricePrecision(ctx context.Context, symbol string) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("precision")
	if p, ok := f.precisions[symbol]; ok {
		return p, nil
	}
	return 2, nil
}
