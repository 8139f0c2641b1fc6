// Package domain holds the core types shared across the scanning pipeline:
// order books, wall candidates, tracked orders, hot orders and the events
// that flow between stages.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which side of the book an order rests on.
type Side string

const (
	SideAsk Side = "ASK"
	SideBid Side = "BID"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideAsk {
		return SideBid
	}
	return SideAsk
}

func (s Side) String() string {
	return string(s)
}

// MaxPricePrecision bounds the decimal places a venue may report for a price.
const MaxPricePrecision = 12

// PrecisionError reports symbol metadata that cannot be used to normalize prices.
type PrecisionError struct {
	Symbol    string
	Precision int32
}

func (e *PrecisionError) Error() string {
	return fmt.Sprintf("invalid price precision %d for %s", e.Precision, e.Symbol)
}

// PriceKey renders a price at venue precision so two observations of the same
// level compare equal as strings. Raw float comparison is never used for
// level identity.
func PriceKey(symbol string, price decimal.Decimal, precision int32) (string, error) {
	if precision < 0 || precision > MaxPricePrecision {
		return "", &PrecisionError{Symbol: symbol, Precision: precision}
	}
	return price.StringFixed(precision), nil
}

// BookEntry is a single price level of an order book.
type BookEntry struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Notional returns price times quantity.
func (e BookEntry) Notional() decimal.Decimal {
	return e.Price.Mul(e.Quantity)
}

// OrderBook is a depth snapshot for one symbol. Both sides are ordered
// best-first: asks ascending by price, bids descending.
type OrderBook struct {
	Symbol       string      `json:"symbol"`
	Exchange     string      `json:"exchange"`
	Asks         []BookEntry `json:"asks"`
	Bids         []BookEntry `json:"bids"`
	LastUpdateID int64       `json:"last_update_id"`
	FetchedAt    time.Time   `json:"fetched_at"`
}

// Side returns the requested side of the book.
func (b *OrderBook) Side(s Side) []BookEntry {
	if s == SideAsk {
		return b.Asks
	}
	return b.Bids
}

// WallCandidate is a single anomalously large level found by the detector.
type WallCandidate struct {
	Symbol           string          `json:"symbol"`
	Exchange         string          `json:"exchange"`
	Side             Side            `json:"side"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	NotionalUSD      float64         `json:"notional_usd"`
	ReferencePrice   decimal.Decimal `json:"reference_price"`
	DistancePercent  float64         `json:"distance_percent"`
	SizeVsAverage    float64         `json:"size_vs_average"`
	AverageOrderSize float64         `json:"average_order_size"`
	IsRoundLevel     bool            `json:"is_round_level"`
	ObservedAt       time.Time       `json:"observed_at"`
}

// NewFingerprint mints the identity of a tracked order from its defining
// tuple plus the moment it was first seen. A wall that dies and reappears at
// the same level gets a fresh fingerprint because its birth time differs.
func NewFingerprint(symbol string, side Side, priceKey string, quantity decimal.Decimal, birth time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		symbol, side, priceKey, quantity.String(), birth.UnixNano())))
	return hex.EncodeToString(h[:])[:16]
}

// DistancePercent returns the relative distance of price from reference, in
// percent. Zero reference yields zero to keep callers branch-free.
func DistancePercent(price, reference decimal.Decimal) float64 {
	if reference.IsZero() {
		return 0
	}
	d, _ := price.Sub(reference).Abs().Div(reference).Float64()
	return d * 100
}
