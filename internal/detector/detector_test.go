package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallradar/internal/domain"
)

// flatSide builds n levels of equal notional around basePrice, with one
// optional oversized level injected at wallIdx.
func flatSide(n int, basePrice, qty float64) []domain.BookEntry {
	out := make([]domain.BookEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.BookEntry{
			Price:    decimal.NewFromFloat(basePrice + float64(i)),
			Quantity: decimal.NewFromFloat(qty),
		})
	}
	return out
}

func TestDetectEmptyOnThinSide(t *testing.T) {
	entries := flatSide(9, 100, 1)
	walls := Detect("XUSDT", "binance", domain.SideAsk, entries, decimal.NewFromInt(100), DefaultParams(), time.Now())
	assert.Nil(t, walls)
}

func TestDetectFlagsWallAboveThreshold(t *testing.T) {
	// Ten asks of ~30k notional each, one of ~150k: 5x the mean.
	entries := []domain.BookEntry{}
	for i := 0; i < 10; i++ {
		entries = append(entries, domain.BookEntry{
			Price:    decimal.NewFromInt(int64(51000 + i)),
			Quantity: decimal.RequireFromString("0.588"),
		})
	}
	entries[3] = domain.BookEntry{
		Price:    decimal.NewFromInt(51003),
		Quantity: decimal.NewFromInt(3),
	}

	ref := decimal.NewFromInt(51000)
	walls := Detect("BTCUSDT", "binance", domain.SideAsk, entries, ref, DefaultParams(), time.Now())
	require.Len(t, walls, 1)

	w := walls[0]
	assert.Equal(t, "BTCUSDT", w.Symbol)
	assert.Equal(t, domain.SideAsk, w.Side)
	assert.Equal(t, "51003", w.Price.String())
	assert.Greater(t, w.SizeVsAverage, 3.5)
	assert.Greater(t, w.NotionalUSD, 150000.0)
	assert.InDelta(t, 3.0/51000*100, w.DistancePercent, 1e-6)
	assert.Positive(t, w.AverageOrderSize)
}

func TestDetectMonotoneInMultiplier(t *testing.T) {
	entries := flatSide(20, 100, 10)
	// Inject a few walls of varying size.
	entries[2].Quantity = decimal.NewFromInt(40)  // 4x
	entries[7].Quantity = decimal.NewFromInt(60)  // ~5x
	entries[15].Quantity = decimal.NewFromInt(90) // ~8x

	ref := decimal.NewFromInt(100)
	now := time.Now()
	var prev int = 1 << 30
	for _, k := range []float64{2, 3.5, 5, 7, 10} {
		walls := Detect("XUSDT", "binance", domain.SideBid, entries, ref, Params{Multiplier: k, Depth: 20}, now)
		assert.LessOrEqual(t, len(walls), prev, "raising the multiplier can only shrink the set")
		prev = len(walls)
	}
}

func TestDetectRespectsDepth(t *testing.T) {
	entries := flatSide(30, 100, 10)
	entries[25].Quantity = decimal.NewFromInt(100)

	walls := Detect("XUSDT", "binance", domain.SideAsk, entries, decimal.NewFromInt(100), Params{Multiplier: 3.5, Depth: 20}, time.Now())
	assert.Empty(t, walls, "walls beyond the scan depth are not emitted")

	walls = Detect("XUSDT", "binance", domain.SideAsk, entries, decimal.NewFromInt(100), Params{Multiplier: 3.5, Depth: 30}, time.Now())
	assert.Len(t, walls, 1)
}

func TestDetectBookCoversBothSides(t *testing.T) {
	asks := flatSide(10, 101, 10)
	asks[0].Quantity = decimal.NewFromInt(50)
	bids := flatSide(10, 99, 10)
	bids[4].Quantity = decimal.NewFromInt(50)

	book := &domain.OrderBook{Symbol: "XUSDT", Exchange: "binance", Asks: asks, Bids: bids}
	walls := DetectBook(book, decimal.NewFromInt(100), DefaultParams(), time.Now())
	require.Len(t, walls, 2)
	assert.Equal(t, domain.SideAsk, walls[0].Side)
	assert.Equal(t, domain.SideBid, walls[1].Side)
}

func TestNearestRoundLevel(t *testing.T) {
	level, dist, ok := NearestRoundLevel(50000)
	assert.True(t, ok)
	assert.Equal(t, 50000.0, level) // 50 * 10^3
	assert.Zero(t, dist)

	level, _, ok = NearestRoundLevel(100.05)
	assert.True(t, ok, "within 0.1%% of 100")
	assert.Equal(t, 100.0, level)

	_, _, ok = NearestRoundLevel(137.0)
	assert.False(t, ok)

	_, _, ok = NearestRoundLevel(-5)
	assert.False(t, ok)

	// Sub-dollar prices snap to scaled levels.
	level, _, ok = NearestRoundLevel(0.5)
	assert.True(t, ok)
	assert.Equal(t, 0.5, level)
}
