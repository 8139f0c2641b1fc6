package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wallradar/internal/config"
	"wallradar/internal/detector"
	"wallradar/internal/exchange"
	"wallradar/internal/metrics"
)

// General is the continuous single-worker sweep over every symbol the
// tracking stages do not own. It feeds new candidates to the observer and
// backs off between cycles.
type General struct {
	client    exchange.Client
	cfg       config.GeneralConfig
	params    detector.Params
	sink      Sink
	ownership *Ownership
	registry  *metrics.Registry
	log       zerolog.Logger

	mu       sync.Mutex
	universe []string
	dropped  map[string]struct{}
	cursor   int
}

// NewGeneral builds the background scanner over a prebuilt universe,
// ordered top-volume-first.
func NewGeneral(client exchange.Client, cfg config.GeneralConfig, params detector.Params, universe []string, sink Sink, own *Ownership, reg *metrics.Registry, log zerolog.Logger) *General {
	return &General{
		client:    client,
		cfg:       cfg,
		params:    params,
		sink:      sink,
		ownership: own,
		registry:  reg,
		universe:  append([]string(nil), universe...),
		dropped:   make(map[string]struct{}),
		log:       log.With().Str("component", "general_scan").Logger(),
	}
}

// Run loops until ctx is cancelled. Per-symbol failures never stop the loop.
func (g *General) Run(ctx context.Context) {
	interval := time.Duration(g.cfg.IntervalSec) * time.Second
	g.log.Info().Int("universe", len(g.universe)).
		Int("batch", g.cfg.BatchSize).Dur("interval", interval).
		Msg("general scanner starting")
	for {
		g.cycle(ctx)
		select {
		case <-ctx.Done():
			g.log.Info().Msg("general scanner stopped")
			return
		case <-time.After(interval):
		}
	}
}

// cycle scans the next batch of unowned symbols in universe order.
func (g *General) cycle(ctx context.Context) {
	batch := g.nextBatch()
	for _, sym := range batch {
		if ctx.Err() != nil {
			return
		}
		if err := g.scanSymbol(ctx, sym); err != nil {
			var verr *exchange.VenueError
			if errors.As(err, &verr) && !verr.Retryable() {
				g.dropSymbol(sym)
				g.log.Error().Str("symbol", sym).Err(err).
					Msg("permanent venue error, symbol dropped for this session")
				continue
			}
			g.log.Warn().Str("symbol", sym).Err(err).Msg("symbol scan failed, will retry next pass")
		}
	}
}

// nextBatch walks the universe round-robin, skipping owned and dropped
// symbols, until the batch is full or the universe is exhausted once.
func (g *General) nextBatch() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.universe)
	if n == 0 {
		return nil
	}
	batch := make([]string, 0, g.cfg.BatchSize)
	for seen := 0; seen < n && len(batch) < g.cfg.BatchSize; seen++ {
		sym := g.universe[g.cursor%n]
		g.cursor++
		if _, gone := g.dropped[sym]; gone {
			continue
		}
		if g.ownership.Owned(sym) {
			continue
		}
		batch = append(batch, sym)
	}
	return batch
}

func (g *General) dropSymbol(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropped[symbol] = struct{}{}
}

func (g *General) scanSymbol(ctx context.Context, symbol string) error {
	book, err := g.client.OrderBook(ctx, symbol, g.params.Depth)
	if err != nil {
		return err
	}
	last, err := g.client.LastPrice(ctx, symbol)
	if err != nil {
		return err
	}
	walls := detector.DetectBook(book, last, g.params, time.Now().UTC())
	if len(walls) == 0 {
		return nil
	}
	if g.registry != nil {
		g.registry.WallsDetected.WithLabelValues("general").Add(float64(len(walls)))
	}
	for _, w := range walls {
		if err := g.sink.Ingest(ctx, w); err != nil {
			return err
		}
	}
	return nil
}
