package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"wallradar/internal/config"
	"wallradar/internal/detector"
	"wallradar/internal/domain"
	"wallradar/internal/exchange"
	"wallradar/internal/metrics"
	"wallradar/internal/weights"
)

// Sink receives wall candidates from the scanners. The observer pool
// implements it; Ingest blocks when the downstream queue is full.
type Sink interface {
	Ingest(ctx context.Context, c domain.WallCandidate) error
}

// Report is the artifact of one primary sweep. The adaptive thresholds are
// informational: they never feed the hot-stage weights.
type Report struct {
	StartedAt      time.Time                     `json:"started_at"`
	FinishedAt     time.Time                     `json:"finished_at"`
	Exchange       string                        `json:"exchange"`
	SymbolsScanned int                           `json:"symbols_scanned"`
	SymbolsFailed  int                           `json:"symbols_failed"`
	Walls          []domain.WallCandidate        `json:"walls"`
	Thresholds     weights.AdaptiveThresholds    `json:"adaptive_thresholds"`
	Distribution   map[domain.WeightCategory]int `json:"distribution"`
}

// Primary is the one-shot broad sweep over the top symbols by volume.
type Primary struct {
	client   exchange.Client
	cfg      config.PrimaryConfig
	params   detector.Params
	sink     Sink
	registry *metrics.Registry
	log      zerolog.Logger
}

// NewPrimary builds the sweep. sink may be nil in report-only mode.
func NewPrimary(client exchange.Client, cfg config.PrimaryConfig, params detector.Params, sink Sink, reg *metrics.Registry, log zerolog.Logger) *Primary {
	return &Primary{
		client:   client,
		cfg:      cfg,
		params:   params,
		sink:     sink,
		registry: reg,
		log:      log.With().Str("component", "primary_scan").Logger(),
	}
}

// Run sweeps the top N symbols with W workers and returns the scan report.
// Individual symbol failures are counted, logged and skipped.
func (p *Primary) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		StartedAt: time.Now().UTC(),
		Exchange:  p.client.Name(),
	}

	symbols, err := p.universe(ctx)
	if err != nil {
		return nil, err
	}
	p.log.Info().Int("symbols", len(symbols)).Int("workers", p.cfg.Workers).
		Msg("primary sweep starting")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range partition(symbols, p.cfg.Workers) {
		chunk := chunk
		g.Go(func() error {
			for _, sym := range chunk {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				walls, err := p.scanSymbol(gctx, sym)
				mu.Lock()
				if err != nil {
					report.SymbolsFailed++
				} else {
					report.SymbolsScanned++
					report.Walls = append(report.Walls, walls...)
				}
				mu.Unlock()
				if err != nil {
					p.log.Warn().Str("symbol", sym).Err(err).Msg("symbol sweep failed")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	notionals := make([]float64, 0, len(report.Walls))
	for _, w := range report.Walls {
		notionals = append(notionals, w.NotionalUSD)
	}
	report.Thresholds = weights.AdaptiveCategorize(notionals)
	report.Distribution = report.Thresholds.Distribution(notionals)
	report.FinishedAt = time.Now().UTC()

	p.log.Info().Int("scanned", report.SymbolsScanned).
		Int("failed", report.SymbolsFailed).
		Int("walls", len(report.Walls)).
		Str("threshold_method", string(report.Thresholds.Method)).
		Msg("primary sweep complete")
	return report, nil
}

func (p *Primary) universe(ctx context.Context) ([]string, error) {
	universe, err := BuildUniverse(ctx, p.client, NewSymbolFilter(p.cfg))
	if err != nil {
		return nil, err
	}
	if len(universe) > p.cfg.TopSymbols {
		universe = universe[:p.cfg.TopSymbols]
	}
	return universe, nil
}

func (p *Primary) scanSymbol(ctx context.Context, symbol string) ([]domain.WallCandidate, error) {
	book, err := p.client.OrderBook(ctx, symbol, p.params.Depth)
	if err != nil {
		return nil, err
	}
	last, err := p.client.LastPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if p.cfg.FetchVolatility {
		// Warms the venue-side kline path so the hot stage's first context
		// fetch is cheap; the reading itself is not used here.
		if _, err := p.client.Volatility(ctx, symbol, exchange.Timeframe1h); err != nil {
			p.log.Debug().Str("symbol", symbol).Err(err).Msg("volatility prefetch failed")
		}
	}

	walls := detector.DetectBook(book, last, p.params, time.Now().UTC())
	if p.registry != nil && len(walls) > 0 {
		p.registry.WallsDetected.WithLabelValues("primary").Add(float64(len(walls)))
	}
	if p.sink != nil {
		for _, w := range walls {
			if err := p.sink.Ingest(ctx, w); err != nil {
				return nil, err
			}
		}
	}
	return walls, nil
}

// partition splits symbols into at most n contiguous chunks of near-equal
// size, preserving order so the split is deterministic.
func partition(symbols []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	if n > len(symbols) {
		n = len(symbols)
	}
	if n == 0 {
		return nil
	}
	chunks := make([][]string, 0, n)
	size := (len(symbols) + n - 1) / n
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		chunks = append(chunks, symbols[start:end])
	}
	return chunks
}
