// Package hotpool re-evaluates promoted walls at high rate: every cycle it
// refreshes the order against the live book and the market context, runs
// the weight engine, and pushes significant changes to persistence and the
// fan-out hub.
package hotpool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wallradar/internal/config"
	"wallradar/internal/domain"
	"wallradar/internal/exchange"
	"wallradar/internal/marketctx"
	"wallradar/internal/metrics"
	"wallradar/internal/persistence"
	"wallradar/internal/scanner"
	"wallradar/internal/weights"
	"wallradar/internal/workers"
)

// Broadcaster receives deltas for fan-out. Blocks on a full queue.
type Broadcaster interface {
	Broadcast(ctx context.Context, delta domain.BroadcastDelta) error
}

// FlushRequester schedules a catalog snapshot write.
type FlushRequester interface {
	Request()
}

// Pool is the hot stage.
type Pool struct {
	client    exchange.Client
	cfg       config.HotConfig
	ownership *scanner.Ownership
	context   *marketctx.Cache
	engine    *weights.Engine
	hub       Broadcaster
	flusher   FlushRequester
	registry  *metrics.Registry
	log       zerolog.Logger

	mu       sync.Mutex
	orders   map[string]*domain.HotOrder
	bySymbol map[string]map[string]struct{}

	precMu     sync.Mutex
	precisions map[string]int32

	admit   chan *domain.TrackedOrder
	manager *workers.Manager
	wg      sync.WaitGroup
}

// NewPool builds the hot stage. hub and flusher may be nil in tests.
func NewPool(client exchange.Client, cfg config.HotConfig, own *scanner.Ownership, cache *marketctx.Cache, engine *weights.Engine, hub Broadcaster, flusher FlushRequester, reg *metrics.Registry, log zerolog.Logger) *Pool {
	p := &Pool{
		client:     client,
		cfg:        cfg,
		ownership:  own,
		context:    cache,
		engine:     engine,
		hub:        hub,
		flusher:    flusher,
		registry:   reg,
		log:        log.With().Str("component", "hotpool").Logger(),
		orders:     make(map[string]*domain.HotOrder),
		bySymbol:   make(map[string]map[string]struct{}),
		precisions: make(map[string]int32),
	}
	queueSize := cfg.AdmitQueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	p.admit = make(chan *domain.TrackedOrder, queueSize)
	interval := time.Duration(cfg.CycleIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	p.manager = workers.NewManager("hot", cfg.Workers, interval, p.cycleSymbol, reg, p.log)
	return p
}

// Start launches the workers and the admit consumer.
func (p *Pool) Start(ctx context.Context) {
	p.manager.Start(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case o := <-p.admit:
				p.admitOne(ctx, o)
			}
		}
	}()
}

// Stop drains the workers.
func (p *Pool) Stop() {
	p.manager.Stop()
	p.wg.Wait()
}

// Admit hands a promoted order into the hot stage. Blocks when the admit
// queue is full; promotions are never dropped.
func (p *Pool) Admit(ctx context.Context, o *domain.TrackedOrder) error {
	select {
	case p.admit <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count reports the number of hot orders.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

// admitOne installs a promoted order as a HotOrder.
func (p *Pool) admitOne(ctx context.Context, o *domain.TrackedOrder) {
	now := time.Now().UTC()
	hot := &domain.HotOrder{
		TrackedOrder: *o,
		PromotedAt:   now,
		GrowthTrend:  domain.TrendStable,
	}
	hot.AppendSnapshot(domain.Snapshot{
		At:              now,
		Price:           priceFloat(o.Price),
		Quantity:        priceFloat(o.CurrentQuantity),
		NotionalUSD:     o.CurrentNotional,
		DistancePercent: o.DistancePercent,
	})

	p.mu.Lock()
	if _, exists := p.orders[hot.Fingerprint]; exists {
		// Duplicate promotion signal; transitions are exactly-once.
		p.mu.Unlock()
		return
	}
	p.orders[hot.Fingerprint] = hot
	if p.bySymbol[hot.Symbol] == nil {
		p.bySymbol[hot.Symbol] = make(map[string]struct{})
	}
	p.bySymbol[hot.Symbol][hot.Fingerprint] = struct{}{}
	total := len(p.orders)
	p.mu.Unlock()

	p.ownership.Claim(hot.Symbol, scanner.OwnerHot)
	if p.registry != nil {
		p.registry.HotOrders.Set(float64(total))
	}
	p.log.Info().Str("symbol", hot.Symbol).Str("fingerprint", hot.Fingerprint).
		Float64("notional_usd", hot.CurrentNotional).
		Msg("order admitted to hot pool")

	p.emit(ctx, domain.DeltaAdmit, hot, now)
	p.requestFlush()
	p.reassess()
}

// cycleSymbol refreshes every hot order on one symbol against the book.
func (p *Pool) cycleSymbol(ctx context.Context, symbol string) {
	fps := p.fingerprints(symbol)
	if len(fps) == 0 {
		return
	}

	book, err := p.client.OrderBook(ctx, symbol, 20)
	if err != nil {
		p.log.Warn().Str("symbol", symbol).Err(err).Msg("hot fetch failed, symbol re-queued")
		return
	}
	last, err := p.client.LastPrice(ctx, symbol)
	if err != nil {
		p.log.Warn().Str("symbol", symbol).Err(err).Msg("hot price fetch failed, symbol re-queued")
		return
	}
	mctx, err := p.context.Get(ctx, symbol)
	if err != nil {
		p.log.Warn().Str("symbol", symbol).Err(err).Msg("market context unavailable, keeping previous")
	}

	now := time.Now().UTC()
	for _, fp := range fps {
		p.refresh(ctx, fp, book, last, mctx, err == nil, now)
	}
	p.reassess()
}

// refresh applies one observation to one hot order.
func (p *Pool) refresh(ctx context.Context, fingerprint string, book *domain.OrderBook, last decimal.Decimal, mctx domain.MarketContext, ctxFresh bool, now time.Time) {
	prec, err := p.precision(ctx, book.Symbol)
	if err != nil {
		p.log.Warn().Str("symbol", book.Symbol).Err(err).Msg("precision unavailable, skipping cycle")
		return
	}

	p.mu.Lock()
	o, ok := p.orders[fingerprint]
	if !ok {
		p.mu.Unlock()
		return
	}

	qty, found := levelQuantity(book, o, prec)
	if !found {
		p.removeLocked(o)
		p.mu.Unlock()
		p.afterRemove(ctx, o, now)
		return
	}

	prevNotional := o.CurrentNotional
	prevReport := o.Weights

	o.ScanCount++
	o.CurrentQuantity = qty
	o.CurrentNotional, _ = o.Price.Mul(qty).Float64()
	o.DistancePercent = domain.DistancePercent(o.Price, last)
	o.LastSeen = now
	o.AppendSnapshot(domain.Snapshot{
		At:              now,
		Price:           priceFloat(o.Price),
		Quantity:        priceFloat(qty),
		NotionalUSD:     o.CurrentNotional,
		DistancePercent: o.DistancePercent,
	})
	o.GrowthTrend = o.ComputeTrend()
	o.StabilityScore = o.ComputeStability()
	if ctxFresh {
		o.Context = &mctx
	}

	evalCtx := mctx
	if !ctxFresh && o.Context != nil {
		evalCtx = *o.Context
	}
	report := p.engine.Evaluate(weights.OrderInput{
		AnchorNotional:  o.NotionalUSD,
		CurrentNotional: o.CurrentNotional,
		FirstSeen:       o.FirstSeen,
		ScanCount:       o.ScanCount,
		SizeVsAverage:   o.SizeVsAverage,
		Price:           priceFloat(o.Price),
	}, evalCtx, now)
	o.Weights = &report

	significant := isSignificant(prevReport, &report, prevNotional, o.CurrentNotional,
		p.cfg.WeightDeltaTrigger, p.cfg.NotionalDeltaTrigger)
	snapshot := *o
	p.mu.Unlock()

	if !significant {
		return
	}
	if p.registry != nil {
		p.registry.SignificantUpdates.Inc()
	}
	p.emit(ctx, domain.DeltaUpdate, &snapshot, now)
	p.requestFlush()
}

// isSignificant joins the three triggers with OR. The notional comparison
// uses USD notional, not raw quantity, so price drift at constant size
// still registers.
func isSignificant(prev, next *domain.WeightReport, prevNotional, nextNotional, weightTrigger, notionalTrigger float64) bool {
	if prev == nil {
		return true
	}
	if next.RecommendedCategory != prev.RecommendedCategory {
		return true
	}
	if abs(next.Recommended-prev.Recommended) > weightTrigger {
		return true
	}
	if prevNotional > 0 && abs(nextNotional-prevNotional)/prevNotional > notionalTrigger {
		return true
	}
	return false
}

func (p *Pool) afterRemove(ctx context.Context, o *domain.HotOrder, now time.Time) {
	if p.registry != nil {
		p.registry.HotRemovals.Inc()
		p.registry.HotOrders.Set(float64(p.Count()))
	}
	p.log.Info().Str("symbol", o.Symbol).Str("fingerprint", o.Fingerprint).
		Dur("hot_for", now.Sub(o.PromotedAt)).
		Msg("hot order disappeared from book")
	removed := *o
	removed.Cause = domain.DeathDisappeared
	p.emit(ctx, domain.DeltaRemove, &removed, now)
	p.requestFlush()
}

// removeLocked drops an order and releases the symbol claim when it was the
// last one. Caller holds p.mu.
func (p *Pool) removeLocked(o *domain.HotOrder) {
	delete(p.orders, o.Fingerprint)
	set := p.bySymbol[o.Symbol]
	delete(set, o.Fingerprint)
	if len(set) == 0 {
		delete(p.bySymbol, o.Symbol)
		p.ownership.Release(o.Symbol, scanner.OwnerHot)
	}
}

func (p *Pool) emit(ctx context.Context, t domain.DeltaType, o *domain.HotOrder, now time.Time) {
	if p.hub == nil {
		return
	}
	delta := domain.BroadcastDelta{
		Type:      t,
		Timestamp: now,
		Order:     domain.NewHotOrderView(o, now),
	}
	if err := p.hub.Broadcast(ctx, delta); err != nil {
		p.log.Warn().Err(err).Msg("broadcast enqueue aborted")
	}
}

func (p *Pool) requestFlush() {
	if p.flusher != nil {
		p.flusher.Request()
	}
}

// Catalog builds the persisted document: orders sorted by recommended
// weight descending, with aggregate counts per category.
func (p *Pool) Catalog() persistence.Catalog {
	now := time.Now().UTC()
	p.mu.Lock()
	views := make([]domain.HotOrderView, 0, len(p.orders))
	for _, o := range p.orders {
		views = append(views, *domain.NewHotOrderView(o, now))
	}
	symbols := len(p.bySymbol)
	p.mu.Unlock()

	sort.Slice(views, func(i, j int) bool {
		if views[i].Weight != views[j].Weight {
			return views[i].Weight > views[j].Weight
		}
		return views[i].Fingerprint < views[j].Fingerprint
	})
	categories := map[domain.WeightCategory]int{
		domain.CategoryBasic:   0,
		domain.CategoryGold:    0,
		domain.CategoryDiamond: 0,
	}
	for _, v := range views {
		if v.Category != "" {
			categories[v.Category]++
		} else {
			categories[domain.CategoryBasic]++
		}
	}
	return persistence.Catalog{
		Timestamp:     now,
		Exchange:      p.client.Name(),
		TotalOrders:   len(views),
		ActiveSymbols: symbols,
		Categories:    categories,
		Orders:        views,
	}
}

// reassess resizes the worker pool against the hot order count and
// redistributes the owned symbols.
func (p *Pool) reassess() {
	p.mu.Lock()
	load := len(p.orders)
	symbols := make([]string, 0, len(p.bySymbol))
	for s := range p.bySymbol {
		symbols = append(symbols, s)
	}
	p.mu.Unlock()
	sort.Strings(symbols)
	p.manager.ResizeForLoad(load)
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

// levelQuantity finds the order's anchor level in a fresh book using
// normalized price keys, never raw float equality.
func levelQuantity(book *domain.OrderBook, o *domain.HotOrder, prec int32) (decimal.Decimal, bool) {
	for _, e := range book.Side(o.Side) {
		key, err := domain.PriceKey(o.Symbol, e.Price, prec)
		if err != nil {
			return decimal.Zero, false
		}
		if key == o.PriceKey {
			return e.Quantity, true
		}
	}
	return decimal.Zero, false
}

func priceFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
