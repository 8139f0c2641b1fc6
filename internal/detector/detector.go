// Package detector flags anomalously large resting orders on one side of an
// order book. Pure CPU; it never touches the network.
package detector

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"wallradar/internal/domain"
)

// Params tune the detector.
type Params struct {
	Multiplier float64 // wall threshold as a multiple of the mean top-10 notional
	Depth      int     // how deep into the side to look
}

// DefaultParams mirror the production configuration.
func DefaultParams() Params {
	return Params{Multiplier: 3.5, Depth: 20}
}

// baselineLevels is how many best levels form the average a wall is measured
// against. A side with fewer levels is too thin to judge.
const baselineLevels = 10

// Detect scans one book side for walls. Entries must be ordered best-first.
// Returns nil when the side has fewer than baselineLevels entries.
func Detect(symbol, exchange string, side domain.Side, entries []domain.BookEntry, refPrice decimal.Decimal, params Params, now time.Time) []domain.WallCandidate {
	if len(entries) < baselineLevels {
		return nil
	}
	depth := params.Depth
	if depth <= 0 || depth > len(entries) {
		depth = len(entries)
	}

	var sum float64
	for _, e := range entries[:baselineLevels] {
		n, _ := e.Notional().Float64()
		sum += n
	}
	mean := sum / baselineLevels
	if mean <= 0 {
		return nil
	}
	threshold := params.Multiplier * mean

	var walls []domain.WallCandidate
	for _, e := range entries[:depth] {
		notional, _ := e.Notional().Float64()
		if notional < threshold {
			continue
		}
		price, _ := e.Price.Float64()
		_, _, nearRound := NearestRoundLevel(price)
		walls = append(walls, domain.WallCandidate{
			Symbol:           symbol,
			Exchange:         exchange,
			Side:             side,
			Price:            e.Price,
			Quantity:         e.Quantity,
			NotionalUSD:      notional,
			ReferencePrice:   refPrice,
			DistancePercent:  domain.DistancePercent(e.Price, refPrice),
			SizeVsAverage:    notional / mean,
			AverageOrderSize: mean,
			IsRoundLevel:     nearRound,
			ObservedAt:       now,
		})
	}
	return walls
}

// DetectBook runs the detector over both sides of a book.
func DetectBook(book *domain.OrderBook, refPrice decimal.Decimal, params Params, now time.Time) []domain.WallCandidate {
	walls := Detect(book.Symbol, book.Exchange, domain.SideAsk, book.Asks, refPrice, params, now)
	walls = append(walls, Detect(book.Symbol, book.Exchange, domain.SideBid, book.Bids, refPrice, params, now)...)
	return walls
}

// RoundLevelTolerance is the relative distance within which a price counts
// as sitting on a psychological level.
const RoundLevelTolerance = 0.001

// roundBases are the mantissas of psychological levels, scaled by powers of
// ten from 1e-3 to 1e3.
var roundBases = []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000}

// NearestRoundLevel finds the closest psychological level to price and the
// relative distance to it. ok is true when the price is within tolerance.
func NearestRoundLevel(price float64) (level, distance float64, ok bool) {
	if price <= 0 {
		return 0, 0, false
	}
	bestDist := math.Inf(1)
	for k := -3; k <= 3; k++ {
		scale := math.Pow(10, float64(k))
		for _, b := range roundBases {
			l := b * scale
			d := math.Abs(price-l) / l
			if d < bestDist {
				bestDist = d
				level = l
			}
		}
	}
	return level, bestDist, bestDist <= RoundLevelTolerance
}
