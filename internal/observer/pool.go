// Package observer tracks wall candidates through their LIVE lifecycle:
// surviving orders are promoted to the hot stage, shrinking or vanished
// orders die, and symbols with nothing left are handed back to the general
// scanner after a grace period.
package observer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wallradar/internal/config"
	"wallradar/internal/domain"
	"wallradar/internal/exchange"
	"wallradar/internal/metrics"
	"wallradar/internal/scanner"
	"wallradar/internal/workers"
)

// HotSink admits a promoted order into the hot stage. Admit blocks when the
// admit queue is full; promotions are never dropped.
type HotSink interface {
	Admit(ctx context.Context, o *domain.TrackedOrder) error
}

// Pool is the observer stage. All index mutation happens under one mutex;
// per-symbol scan exclusivity comes from the worker partition.
type Pool struct {
	client    exchange.Client
	cfg       config.ObserverConfig
	ownership *scanner.Ownership
	hot       HotSink
	registry  *metrics.Registry
	log       zerolog.Logger

	mu         sync.Mutex
	orders     map[string]*domain.TrackedOrder
	bySymbol   map[string]map[string]struct{}
	emptyScans map[string]int

	precMu          sync.Mutex
	precisions      map[string]int32
	precisionWarned map[string]struct{}

	ingest  chan domain.WallCandidate
	manager *workers.Manager
	wg      sync.WaitGroup
}

// NewPool builds the observer stage.
func NewPool(client exchange.Client, cfg config.ObserverConfig, own *scanner.Ownership, hot HotSink, reg *metrics.Registry, log zerolog.Logger) *Pool {
	p := &Pool{
		client:          client,
		cfg:             cfg,
		ownership:       own,
		hot:             hot,
		registry:        reg,
		log:             log.With().Str("component", "observer").Logger(),
		orders:          make(map[string]*domain.TrackedOrder),
		bySymbol:        make(map[string]map[string]struct{}),
		emptyScans:      make(map[string]int),
		precisions:      make(map[string]int32),
		precisionWarned: make(map[string]struct{}),
	}
	queueSize := cfg.IngestQueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	p.ingest = make(chan domain.WallCandidate, queueSize)
	interval := time.Duration(cfg.ScanIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	p.manager = workers.NewManager("observer", cfg.Workers, interval, p.scanSymbol, reg, p.log)
	return p
}

// Start launches the worker pool and the ingest consumer.
func (p *Pool) Start(ctx context.Context) {
	p.manager.Start(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-p.ingest:
				p.ingestOne(ctx, c)
			}
		}
	}()
}

// Stop drains the workers.
func (p *Pool) Stop() {
	p.manager.Stop()
	p.wg.Wait()
}

// Ingest queues a candidate from a scanner. Blocks when the queue is full.
func (p *Pool) Ingest(ctx context.Context, c domain.WallCandidate) error {
	select {
	case p.ingest <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrackedCount reports how many orders are currently LIVE.
func (p *Pool) TrackedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

// Orders returns a point-in-time copy of the tracked orders for monitoring.
func (p *Pool) Orders() []domain.TrackedOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.TrackedOrder, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, *o)
	}
	return out
}

// ingestOne inserts a candidate or refreshes the matching tracked order.
// Identity for dedup purposes is (symbol, side, price key, quantity).
func (p *Pool) ingestOne(ctx context.Context, c domain.WallCandidate) {
	priceKey, err := p.priceKey(ctx, c.Symbol, c.Price)
	if err != nil {
		p.warnPrecision(c.Symbol, err)
		return
	}

	p.mu.Lock()
	for fp := range p.bySymbol[c.Symbol] {
		o := p.orders[fp]
		if o.Side == c.Side && o.PriceKey == priceKey && o.Quantity.Equal(c.Quantity) {
			o.LastSeen = c.ObservedAt
			p.mu.Unlock()
			return
		}
	}
	o := domain.NewTrackedOrder(c, priceKey)
	p.orders[o.Fingerprint] = o
	if p.bySymbol[c.Symbol] == nil {
		p.bySymbol[c.Symbol] = make(map[string]struct{})
	}
	p.bySymbol[c.Symbol][o.Fingerprint] = struct{}{}
	delete(p.emptyScans, c.Symbol)
	total := len(p.orders)
	p.mu.Unlock()

	p.ownership.Claim(c.Symbol, scanner.OwnerObserver)
	if p.registry != nil {
		p.registry.ObserverIngests.Inc()
		p.registry.ObserverTracked.Set(float64(total))
	}
	p.log.Info().Str("symbol", c.Symbol).Str("side", c.Side.String()).
		Str("fingerprint", o.Fingerprint).
		Float64("notional_usd", c.NotionalUSD).
		Float64("size_vs_average", c.SizeVsAverage).
		Msg("tracking new wall")
	p.reassess()
}

// scanSymbol runs one observation cycle for one owned symbol.
func (p *Pool) scanSymbol(ctx context.Context, symbol string) {
	fps := p.fingerprints(symbol)
	if len(fps) == 0 {
		p.countEmptyScan(symbol)
		return
	}

	book, last, err := p.fetch(ctx, symbol)
	if err != nil {
		p.log.Warn().Str("symbol", symbol).Err(err).Msg("observer fetch failed, symbol re-queued")
		return
	}

	now := time.Now().UTC()
	for _, fp := range fps {
		p.observe(ctx, fp, book, last, now)
	}

	if len(p.fingerprints(symbol)) == 0 {
		p.countEmptyScan(symbol)
	}
}

func (p *Pool) fetch(ctx context.Context, symbol string) (*domain.OrderBook, decimal.Decimal, error) {
	book, err := p.client.OrderBook(ctx, symbol, 20)
	if err != nil {
		return nil, decimal.Zero, err
	}
	last, err := p.client.LastPrice(ctx, symbol)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return book, last, nil
}

// observe applies the survival rules to one tracked order against a fresh
// book. Transitions happen exactly once: the state check and the index
// removal share the pool lock.
func (p *Pool) observe(ctx context.Context, fingerprint string, book *domain.OrderBook, last decimal.Decimal, now time.Time) {
	p.mu.Lock()
	o, ok := p.orders[fingerprint]
	if !ok || o.State != domain.StateLive {
		p.mu.Unlock()
		return
	}

	qty, found, err := p.levelQuantity(ctx, book, o)
	if err != nil {
		p.mu.Unlock()
		p.warnPrecision(o.Symbol, err)
		p.die(fingerprint, domain.DeathDisappeared)
		return
	}
	if !found {
		p.mu.Unlock()
		p.die(fingerprint, domain.DeathDisappeared)
		return
	}

	ratio := 0.0
	if !o.Quantity.IsZero() {
		ratio, _ = qty.Div(o.Quantity).Float64()
	}
	if ratio < p.cfg.SurvivalRatio {
		p.mu.Unlock()
		p.die(fingerprint, domain.DeathVolumeLoss)
		return
	}

	o.ScanCount++
	o.CurrentQuantity = qty
	o.CurrentNotional, _ = o.Price.Mul(qty).Float64()
	o.DistancePercent = domain.DistancePercent(o.Price, last)
	o.LastSeen = now

	promote := o.Lifetime(now) >= time.Duration(p.cfg.PromoteAfterSec)*time.Second
	var handoff *domain.TrackedOrder
	if promote {
		o.State = domain.StatePromoted
		p.removeLocked(o)
		handoff = o
	}
	p.mu.Unlock()

	if handoff == nil {
		return
	}
	if p.registry != nil {
		p.registry.ObserverPromotions.Inc()
	}
	p.log.Info().Str("symbol", handoff.Symbol).Str("fingerprint", handoff.Fingerprint).
		Int("scans", handoff.ScanCount).
		Dur("lifetime", handoff.Lifetime(now)).
		Msg("wall promoted to hot pool")
	if err := p.hot.Admit(ctx, handoff); err != nil {
		p.log.Error().Str("fingerprint", handoff.Fingerprint).Err(err).
			Msg("hot admit failed during shutdown")
	}
	p.reassess()
}

// levelQuantity finds the order's anchor price level in the fresh book.
func (p *Pool) levelQuantity(ctx context.Context, book *domain.OrderBook, o *domain.TrackedOrder) (decimal.Decimal, bool, error) {
	prec, err := p.precision(ctx, o.Symbol)
	if err != nil {
		return decimal.Zero, false, err
	}
	for _, e := range book.Side(o.Side) {
		key, err := domain.PriceKey(o.Symbol, e.Price, prec)
		if err != nil {
			return decimal.Zero, false, err
		}
		if key == o.PriceKey {
			return e.Quantity, true, nil
		}
	}
	return decimal.Zero, false, nil
}

// die transitions a LIVE order to DEAD. Idempotent: a fingerprint already
// transitioned is left alone.
func (p *Pool) die(fingerprint string, cause domain.DeathCause) {
	p.mu.Lock()
	o, ok := p.orders[fingerprint]
	if !ok || o.State != domain.StateLive {
		p.mu.Unlock()
		return
	}
	o.State = domain.StateDead
	o.Cause = cause
	p.removeLocked(o)
	p.mu.Unlock()

	if p.registry != nil {
		p.registry.ObserverDeaths.WithLabelValues(string(cause)).Inc()
	}
	p.log.Info().Str("symbol", o.Symbol).Str("fingerprint", fingerprint).
		Str("cause", string(cause)).
		Int("scans", o.ScanCount).
		Msg("tracked wall died")
	p.reassess()
}

// removeLocked drops an order from both indices. Caller holds p.mu.
func (p *Pool) removeLocked(o *domain.TrackedOrder) {
	delete(p.orders, o.Fingerprint)
	if set, ok := p.bySymbol[o.Symbol]; ok {
		delete(set, o.Fingerprint)
		if len(set) == 0 {
			delete(p.bySymbol, o.Symbol)
		}
	}
	if p.registry != nil {
		p.registry.ObserverTracked.Set(float64(len(p.orders)))
	}
}

// countEmptyScan advances the cleanup counter for a symbol with no tracked
// orders; after the configured number of consecutive empty scans the
// observer's ownership claim is released.
func (p *Pool) countEmptyScan(symbol string) {
	p.mu.Lock()
	if _, stillIndexed := p.bySymbol[symbol]; stillIndexed {
		p.mu.Unlock()
		return
	}
	p.emptyScans[symbol]++
	done := p.emptyScans[symbol] >= p.cfg.CleanupScans
	if done {
		delete(p.emptyScans, symbol)
	}
	p.mu.Unlock()

	if done {
		p.ownership.Release(symbol, scanner.OwnerObserver)
		p.log.Debug().Str("symbol", symbol).Msg("symbol released back to general scanner")
		p.reassess()
	}
}

// reassess resizes the worker pool for the current symbol load and
// redistributes. Symbols in cleanup countdown stay assigned so their empty
// scans keep counting.
func (p *Pool) reassess() {
	p.mu.Lock()
	symbols := make([]string, 0, len(p.bySymbol)+len(p.emptyScans))
	for s := range p.bySymbol {
		symbols = append(symbols, s)
	}
	for s := range p.emptyScans {
		if _, ok := p.bySymbol[s]; !ok {
			symbols = append(symbols, s)
		}
	}
	p.mu.Unlock()

	sort.Strings(symbols)
	p.manager.ResizeForLoad(len(symbols))
	p.manager.Distribute(symbols)
}

func (p *Pool) fingerprints(symbol string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.bySymbol[symbol]
	out := make([]string, 0, len(set))
	for fp := range set {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}

func (p *Pool) precision(ctx context.Context, symbol string) (int32, error) {
	p.precMu.Lock()
	if prec, ok := p.precisions[symbol]; ok {
		p.precMu.Unlock()
		return prec, nil
	}
	p.precMu.Unlock()

	prec, err := p.client.PricePrecision(ctx, symbol)
	if err != nil {
		return 0, err
	}
	p.precMu.Lock()
	p.precisions[symbol] = prec
	p.precMu.Unlock()
	return prec, nil
}

func (p *Pool) priceKey(ctx context.Context, symbol string, price decimal.Decimal) (string, error) {
	prec, err := p.precision(ctx, symbol)
	if err != nil {
		return "", err
	}
	return domain.PriceKey(symbol, price, prec)
}

// warnPrecision logs a precision problem once per symbol; repeats are noise.
func (p *Pool) warnPrecision(symbol string, err error) {
	var perr *domain.PrecisionError
	if !errors.As(err, &perr) {
		p.log.Warn().Str("symbol", symbol).Err(err).Msg("precision lookup failed")
		return
	}
	p.precMu.Lock()
	_, warned := p.precisionWarned[symbol]
	p.precisionWarned[symbol] = struct{}{}
	p.precMu.Unlock()
	if !warned {
		p.log.Warn().Str("symbol", symbol).Err(err).
			Msg("unusable price precision, orders on this symbol take the death path")
	}
}
