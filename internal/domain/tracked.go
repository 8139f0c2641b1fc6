package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle stage of a tracked order.
type OrderState string

const (
	StateLive     OrderState = "LIVE"
	StatePromoted OrderState = "PROMOTED"
	StateDead     OrderState = "DEAD"
)

// Terminal reports whether no further transitions are allowed.
func (s OrderState) Terminal() bool {
	return s == StatePromoted || s == StateDead
}

// DeathCause explains why an order left the observer stage.
type DeathCause string

const (
	DeathDisappeared DeathCause = "disappeared"
	DeathVolumeLoss  DeathCause = "volume_loss"
)

// TrackedOrder is a wall under observation. The anchor fields freeze the
// values at detection time; the current fields follow the live book.
type TrackedOrder struct {
	Fingerprint string `json:"fingerprint"`
	Symbol      string `json:"symbol"`
	Exchange    string `json:"exchange"`
	Side        Side   `json:"side"`

	// Anchor, immutable after creation.
	Price          decimal.Decimal `json:"price"`
	PriceKey       string          `json:"price_key"`
	Quantity       decimal.Decimal `json:"quantity"`
	NotionalUSD    float64         `json:"notional_usd"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	SizeVsAverage  float64         `json:"size_vs_average"`
	IsRoundLevel   bool            `json:"is_round_level"`

	CurrentQuantity decimal.Decimal `json:"current_quantity"`
	CurrentNotional float64         `json:"current_notional"`
	DistancePercent float64         `json:"distance_percent"`

	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
	ScanCount int        `json:"scan_count"`
	State     OrderState `json:"state"`
	Cause     DeathCause `json:"cause,omitempty"`
}

// NewTrackedOrder starts the lifecycle of a detected wall candidate.
func NewTrackedOrder(c WallCandidate, priceKey string) *TrackedOrder {
	return &TrackedOrder{
		Fingerprint:     NewFingerprint(c.Symbol, c.Side, priceKey, c.Quantity, c.ObservedAt),
		Symbol:          c.Symbol,
		Exchange:        c.Exchange,
		Side:            c.Side,
		Price:           c.Price,
		PriceKey:        priceKey,
		Quantity:        c.Quantity,
		NotionalUSD:     c.NotionalUSD,
		ReferencePrice:  c.ReferencePrice,
		SizeVsAverage:   c.SizeVsAverage,
		IsRoundLevel:    c.IsRoundLevel,
		CurrentQuantity: c.Quantity,
		CurrentNotional: c.NotionalUSD,
		DistancePercent: c.DistancePercent,
		FirstSeen:       c.ObservedAt,
		LastSeen:        c.ObservedAt,
		ScanCount:       1,
		State:           StateLive,
	}
}

// Lifetime is the observed age of the order as of now.
func (o *TrackedOrder) Lifetime(now time.Time) time.Duration {
	return now.Sub(o.FirstSeen)
}

// SurvivalRatio compares the current quantity to the anchor quantity.
func (o *TrackedOrder) SurvivalRatio() float64 {
	if o.Quantity.IsZero() {
		return 0
	}
	r, _ := o.CurrentQuantity.Div(o.Quantity).Float64()
	return r
}
