package observer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallradar/internal/config"
	"wallradar/internal/domain"
	"wallradar/internal/exchange/exchangetest"
	"wallradar/internal/scanner"
)

type captureSink struct {
	mu       sync.Mutex
	admitted []*domain.TrackedOrder
}

func (c *captureSink) Admit(_ context.Context, o *domain.TrackedOrder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.admitted = append(c.admitted, o)
	return nil
}

func (c *captureSink) orders() []*domain.TrackedOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*domain.TrackedOrder(nil), c.admitted...)
}

func testObserverConfig() config.ObserverConfig {
	cfg := config.Default().Observer
	cfg.CleanupScans = 3
	return cfg
}

func newTestPool(fake *exchangetest.Fake) (*Pool, *captureSink, *scanner.Ownership) {
	sink := &captureSink{}
	own := scanner.NewOwnership()
	p := NewPool(fake, testObserverConfig(), own, sink, nil, zerolog.Nop())
	return p, sink, own
}

func candidate(symbol string, side domain.Side, price, qty string, observedAt time.Time) domain.WallCandidate {
	pd := decimal.RequireFromString(price)
	qd := decimal.RequireFromString(qty)
	notional, _ := pd.Mul(qd).Float64()
	return domain.WallCandidate{
		Symbol:        symbol,
		Exchange:      "fake",
		Side:          side,
		Price:         pd,
		Quantity:      qd,
		NotionalUSD:   notional,
		SizeVsAverage: 5,
		ObservedAt:    observedAt,
	}
}

func TestIngestMintsFingerprintAndClaimsSymbol(t *testing.T) {
	fake := exchangetest.New()
	fake.SetBook("BTCUSDT", []exchangetest.Level{{Price: "51000", Quantity: "5.0"}}, nil)
	p, _, own := newTestPool(fake)
	ctx := context.Background()

	p.ingestOne(ctx, candidate("BTCUSDT", domain.SideAsk, "51000", "5.0", time.Now().UTC()))

	require.Equal(t, 1, p.TrackedCount())
	assert.True(t, own.Owned("BTCUSDT"))
	o := p.Orders()[0]
	assert.Equal(t, domain.StateLive, o.State)
	assert.Equal(t, 1, o.ScanCount)
	assert.NotEmpty(t, o.Fingerprint)
}

func TestIngestDedupesSameLevel(t *testing.T) {
	fake := exchangetest.New()
	p, _, _ := newTestPool(fake)
	ctx := context.Background()

	first := time.Now().UTC().Add(-10 * time.Second)
	p.ingestOne(ctx, candidate("BTCUSDT", domain.SideAsk, "51000", "5.0", first))
	p.ingestOne(ctx, candidate("BTCUSDT", domain.SideAsk, "51000", "5.0", time.Now().UTC()))

	require.Equal(t, 1, p.TrackedCount())
	o := p.Orders()[0]
	assert.True(t, o.LastSeen.After(o.FirstSeen), "re-ingest refreshes last_seen")
}

func TestPromotionAtExactLifetime(t *testing.T) {
	fake := exchangetest.New()
	fake.SetBook("BTCUSDT",
		[]exchangetest.Level{{Price: "51000", Quantity: "5.0"}},
		[]exchangetest.Level{{Price: "50000", Quantity: "1.0"}})
	fake.SetLastPrice("BTCUSDT", "50500")
	p, sink, _ := newTestPool(fake)
	ctx := context.Background()

	// First seen 61 seconds ago: lifetime is past the 60s threshold.
	p.ingestOne(ctx, candidate("BTCUSDT", domain.SideAsk, "51000", "5.0",
		time.Now().UTC().Add(-61*time.Second)))
	p.scanSymbol(ctx, "BTCUSDT")

	admitted := sink.orders()
	require.Len(t, admitted, 1)
	assert.Equal(t, domain.StatePromoted, admitted[0].State)
	assert.Equal(t, 2, admitted[0].ScanCount)
	assert.Equal(t, 0, p.TrackedCount(), "promoted order leaves the observer index")
}

func TestYoungSurvivorIsNotPromoted(t *testing.T) {
	fake := exchangetest.New()
	fake.SetBook("BTCUSDT", []exchangetest.Level{{Price: "51000", Quantity: "5.0"}}, nil)
	fake.SetLastPrice("BTCUSDT", "50500")
	p, sink, _ := newTestPool(fake)
	ctx := context.Background()

	p.ingestOne(ctx, candidate("BTCUSDT", domain.SideAsk, "51000", "5.0", time.Now().UTC()))
	p.scanSymbol(ctx, "BTCUSDT")

	assert.Empty(t, sink.orders())
	require.Equal(t, 1, p.TrackedCount())
	assert.Equal(t, 2, p.Orders()[0].ScanCount)
}

func TestVolumeLossDeath(t *testing.T) {
	fake := exchangetest.New()
	fake.SetBook("ETHUSDT", []exchangetest.Level{{Price: "3250", Quantity: "50.0"}}, nil)
	fake.SetLastPrice("ETHUSDT", "3240")
	p, sink, _ := newTestPool(fake)
	ctx := context.Background()

	p.ingestOne(ctx, candidate("ETHUSDT", domain.SideAsk, "3250", "50.0", time.Now().UTC()))
	// The level shrinks to a fifth of its anchor: ratio 0.2 < 0.7.
	fake.SetBook("ETHUSDT", []exchangetest.Level{{Price: "3250", Quantity: "10.0"}}, nil)
	p.scanSymbol(ctx, "ETHUSDT")

	assert.Empty(t, sink.orders())
	assert.Equal(t, 0, p.TrackedCount())
}

func TestSurvivalAtExactRatio(t *testing.T) {
	fake := exchangetest.New()
	fake.SetBook("ETHUSDT", []exchangetest.Level{{Price: "3250", Quantity: "100.0"}}, nil)
	fake.SetLastPrice("ETHUSDT", "3240")
	p, _, _ := newTestPool(fake)
	ctx := context.Background()

	p.ingestOne(ctx, candidate("ETHUSDT", domain.SideAsk, "3250", "100.0", time.Now().UTC()))
	// Exactly the survival ratio: death requires strictly less.
	fake.SetBook("ETHUSDT", []exchangetest.Level{{Price: "3250", Quantity: "70.0"}}, nil)
	p.scanSymbol(ctx, "ETHUSDT")

	require.Equal(t, 1, p.TrackedCount())
	assert.Equal(t, domain.StateLive, p.Orders()[0].State)
}

func TestDisappearanceDeath(t *testing.T) {
	fake := exchangetest.New()
	fake.SetBook("ADAUSDT", nil, []exchangetest.Level{{Price: "0.45", Quantity: "100000"}})
	fake.SetLastPrice("ADAUSDT", "0.46")
	p, _, _ := newTestPool(fake)
	ctx := context.Background()

	p.ingestOne(ctx, candidate("ADAUSDT", domain.SideBid, "0.45", "100000", time.Now().UTC()))
	// The level vanishes entirely.
	fake.SetBook("ADAUSDT", nil, []exchangetest.Level{{Price: "0.44", Quantity: "500"}})
	p.scanSymbol(ctx, "ADAUSDT")

	assert.Equal(t, 0, p.TrackedCount())
}

func TestResurrectionMintsNewFingerprint(t *testing.T) {
	fake := exchangetest.New()
	fake.SetBook("ADAUSDT", nil, []exchangetest.Level{{Price: "0.45", Quantity: "100000"}})
	fake.SetLastPrice("ADAUSDT", "0.46")
	p, _, _ := newTestPool(fake)
	ctx := context.Background()

	p.ingestOne(ctx, candidate("ADAUSDT", domain.SideBid, "0.45", "100000",
		time.Now().UTC().Add(-5*time.Second)))
	first := p.Orders()[0].Fingerprint

	fake.SetBook("ADAUSDT", nil, []exchangetest.Level{{Price: "0.44", Quantity: "500"}})
	p.scanSymbol(ctx, "ADAUSDT")
	require.Equal(t, 0, p.TrackedCount())

	// Same level reappears later: tracked as a brand new order.
	p.ingestOne(ctx, candidate("ADAUSDT", domain.SideBid, "0.45", "100000", time.Now().UTC()))
	require.Equal(t, 1, p.TrackedCount())
	assert.NotEqual(t, first, p.Orders()[0].Fingerprint)
}

func TestEmptyScansReleaseOwnership(t *testing.T) {
	fake := exchangetest.New()
	fake.SetBook("ETHUSDT", []exchangetest.Level{{Price: "3250", Quantity: "50.0"}}, nil)
	fake.SetLastPrice("ETHUSDT", "3240")
	p, _, own := newTestPool(fake)
	ctx := context.Background()

	p.ingestOne(ctx, candidate("ETHUSDT", domain.SideAsk, "3250", "50.0", time.Now().UTC()))
	fake.SetBook("ETHUSDT", nil, nil)
	p.scanSymbol(ctx, "ETHUSDT") // order dies; symbol empty but still in grace

	require.True(t, own.Owned("ETHUSDT"))
	for i := 0; i < 3; i++ {
		p.scanSymbol(ctx, "ETHUSDT")
	}
	assert.False(t, own.Owned("ETHUSDT"), "symbol released after the grace scans")
}

func TestFetchFailureKeepsOrderAlive(t *testing.T) {
	fake := exchangetest.New()
	fake.SetBook("BTCUSDT", []exchangetest.Level{{Price: "51000", Quantity: "5.0"}}, nil)
	fake.SetLastPrice("BTCUSDT", "50500")
	p, _, _ := newTestPool(fake)
	ctx := context.Background()

	p.ingestOne(ctx, candidate("BTCUSDT", domain.SideAsk, "51000", "5.0", time.Now().UTC()))
	fake.FailSymbol("BTCUSDT", assert.AnError)
	p.scanSymbol(ctx, "BTCUSDT")

	require.Equal(t, 1, p.TrackedCount(), "transient failure re-queues rather than kills")
	assert.Equal(t, 1, p.Orders()[0].ScanCount)
}

func TestIngestThroughQueue(t *testing.T) {
	fake := exchangetest.New()
	fake.SetBook("BTCUSDT", []exchangetest.Level{{Price: "51000", Quantity: "5.0"}}, nil)
	fake.SetLastPrice("BTCUSDT", "50500")
	p, _, _ := newTestPool(fake)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer p.Stop()
	defer cancel()

	require.NoError(t, p.Ingest(ctx, candidate("BTCUSDT", domain.SideAsk, "51000", "5.0", time.Now().UTC())))
	assert.Eventually(t, func() bool { return p.TrackedCount() == 1 },
		time.Second, 5*time.Millisecond)
}
