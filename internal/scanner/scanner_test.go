package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallradar/internal/config"
	"wallradar/internal/detector"
	"wallradar/internal/domain"
	"wallradar/internal/exchange/exchangetest"
)

type captureSink struct {
	mu    sync.Mutex
	walls []domain.WallCandidate
}

func (c *captureSink) Ingest(_ context.Context, w domain.WallCandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.walls = append(c.walls, w)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.walls)
}

func TestSymbolFilterAdmit(t *testing.T) {
	f := NewSymbolFilter(config.PrimaryConfig{
		MinQuoteVolume:  1_000_000,
		SuffixBlacklist: []string{"BUSD", "USDC"},
		PrefixBlacklist: []string{"1000"},
	})

	assert.True(t, f.Admit("BTCUSDT", 5_000_000))
	assert.False(t, f.Admit("BTCUSDT", 999_999), "below volume floor")
	assert.False(t, f.Admit("BTCBUSD", 5_000_000), "blacklisted suffix")
	assert.False(t, f.Admit("1000PEPEUSDT", 5_000_000), "blacklisted prefix")
}

func TestBuildUniverseOrdersByVolumeDescending(t *testing.T) {
	fake := exchangetest.New()
	fake.SetStats("ETHUSDT", 8_000_000, "3250")
	fake.SetStats("BTCUSDT", 20_000_000, "50500")
	fake.SetStats("SOLUSDT", 8_000_000, "150")
	fake.SetStats("DUSTUSDT", 100, "0.01") // filtered out
	filter := NewSymbolFilter(config.PrimaryConfig{MinQuoteVolume: 1_000_000})

	universe, err := BuildUniverse(context.Background(), fake, filter)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, universe,
		"volume descending, equal volumes alphabetical")
}

func TestPartitionCoversAllSymbolsDisjointly(t *testing.T) {
	symbols := []string{"A", "B", "C", "D", "E", "F", "G"}
	chunks := partition(symbols, 3)

	seen := map[string]int{}
	for _, chunk := range chunks {
		for _, s := range chunk {
			seen[s]++
		}
	}
	require.Len(t, seen, len(symbols))
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
	assert.LessOrEqual(t, len(chunks), 3)
}

func TestPartitionMoreWorkersThanSymbols(t *testing.T) {
	chunks := partition([]string{"A", "B"}, 5)
	assert.Len(t, chunks, 2)
}

func TestOwnershipClaimsPerStage(t *testing.T) {
	own := NewOwnership()
	assert.False(t, own.Owned("BTCUSDT"))

	own.Claim("BTCUSDT", OwnerObserver)
	own.Claim("BTCUSDT", OwnerHot)
	assert.True(t, own.Owned("BTCUSDT"))
	assert.Equal(t, 1, own.Count())

	own.Release("BTCUSDT", OwnerObserver)
	assert.True(t, own.Owned("BTCUSDT"), "hot claim still held")
	own.Release("BTCUSDT", OwnerHot)
	assert.False(t, own.Owned("BTCUSDT"))
	assert.Equal(t, 0, own.Count())
}

// stageWalledBook puts a 12-level ask book on the fake with one level far
// above the mean of the rest.
func stageWalledBook(fake *exchangetest.Fake, symbol string) {
	asks := make([]exchangetest.Level, 0, 12)
	prices := []string{"101", "102", "103", "104", "105", "106", "107", "108", "109", "110", "111", "112"}
	for i, p := range prices {
		qty := "1.0"
		if i == 3 {
			qty = "50.0"
		}
		asks = append(asks, exchangetest.Level{Price: p, Quantity: qty})
	}
	fake.SetBook(symbol, asks, nil)
	fake.SetLastPrice(symbol, "100")
}

func TestPrimaryRunDetectsWallsAndReports(t *testing.T) {
	fake := exchangetest.New()
	fake.SetStats("BTCUSDT", 20_000_000, "100")
	fake.SetStats("ETHUSDT", 8_000_000, "100")
	stageWalledBook(fake, "BTCUSDT")
	stageWalledBook(fake, "ETHUSDT")

	cfg := config.Default().Primary
	cfg.FetchVolatility = false
	sink := &captureSink{}
	p := NewPrimary(fake, cfg, detector.Params{Multiplier: 3.5, Depth: 20}, sink, nil, zerolog.Nop())

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.SymbolsScanned)
	assert.Zero(t, report.SymbolsFailed)
	assert.Len(t, report.Walls, 2)
	assert.Equal(t, 2, sink.count(), "every wall reaches the sink")
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
	assert.NotEmpty(t, report.Thresholds.Method)
}

func TestPrimaryRunCountsFailures(t *testing.T) {
	fake := exchangetest.New()
	fake.SetStats("BTCUSDT", 20_000_000, "100")
	fake.SetStats("ETHUSDT", 8_000_000, "100")
	stageWalledBook(fake, "BTCUSDT")
	stageWalledBook(fake, "ETHUSDT")
	fake.FailSymbol("ETHUSDT", assert.AnError)

	cfg := config.Default().Primary
	cfg.FetchVolatility = false
	p := NewPrimary(fake, cfg, detector.Params{Multiplier: 3.5, Depth: 20}, nil, nil, zerolog.Nop())

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SymbolsScanned)
	assert.Equal(t, 1, report.SymbolsFailed)
}

func TestGeneralBatchSkipsOwnedAndDropped(t *testing.T) {
	fake := exchangetest.New()
	own := NewOwnership()
	own.Claim("ETHUSDT", OwnerObserver)

	g := NewGeneral(fake, config.GeneralConfig{BatchSize: 2, IntervalSec: 1},
		detector.DefaultParams(), []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"},
		&captureSink{}, own, nil, zerolog.Nop())
	g.dropSymbol("XRPUSDT")

	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, g.nextBatch())
	// The cursor wraps; owned and dropped symbols stay excluded.
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, g.nextBatch())
}

func TestGeneralCycleFeedsSink(t *testing.T) {
	fake := exchangetest.New()
	stageWalledBook(fake, "BTCUSDT")
	sink := &captureSink{}

	g := NewGeneral(fake, config.GeneralConfig{BatchSize: 10, IntervalSec: 1},
		detector.Params{Multiplier: 3.5, Depth: 20}, []string{"BTCUSDT"},
		sink, NewOwnership(), nil, zerolog.Nop())
	g.cycle(context.Background())

	require.Equal(t, 1, sink.count())
	w := sink.walls[0]
	assert.Equal(t, "BTCUSDT", w.Symbol)
	assert.Equal(t, domain.SideAsk, w.Side)
}

func TestGeneralRunStopsOnCancel(t *testing.T) {
	fake := exchangetest.New()
	g := NewGeneral(fake, config.GeneralConfig{BatchSize: 1, IntervalSec: 1},
		detector.DefaultParams(), nil, &captureSink{}, NewOwnership(), nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("general scanner did not stop on cancel")
	}
}
