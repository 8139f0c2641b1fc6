package domain

import "time"

// DeltaType names a change to the hot catalog.
type DeltaType string

const (
	DeltaAdmit  DeltaType = "hot_admit"
	DeltaUpdate DeltaType = "hot_update"
	DeltaRemove DeltaType = "hot_remove"
)

// BroadcastDelta is the unit pushed from the hot pool into the fan-out queue.
type BroadcastDelta struct {
	Type      DeltaType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Order     *HotOrderView `json:"order"`
}

// HotOrderView is the wire projection of a HotOrder. Fingerprint and price
// key are internal-only: the VIP view blanks them, the public view carries a
// separate minimal shape.
type HotOrderView struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	PriceKey    string `json:"price_key,omitempty"`

	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Side     Side   `json:"side"`

	Price           string  `json:"price"`
	Quantity        string  `json:"quantity"`
	USDValue        float64 `json:"usd_value"`
	AnchorUSDValue  float64 `json:"anchor_usd_value"`
	DistancePercent float64 `json:"distance_percent"`
	IsRoundLevel    bool    `json:"is_round_level"`

	LifetimeSeconds float64     `json:"lifetime_seconds"`
	ScanCount       int         `json:"scan_count"`
	GrowthTrend     GrowthTrend `json:"growth_trend"`
	StabilityScore  float64     `json:"stability_score"`

	Weight            float64           `json:"weight"`
	Algorithm         string            `json:"algorithm"`
	Category          WeightCategory    `json:"category"`
	MarketTemperature MarketTemperature `json:"market_temperature"`

	FirstSeen time.Time  `json:"first_seen"`
	Cause     DeathCause `json:"cause,omitempty"`
}

// NewHotOrderView projects a hot order for transport at a point in time.
func NewHotOrderView(h *HotOrder, now time.Time) *HotOrderView {
	v := &HotOrderView{
		Fingerprint:     h.Fingerprint,
		PriceKey:        h.PriceKey,
		Symbol:          h.Symbol,
		Exchange:        h.Exchange,
		Side:            h.Side,
		Price:           h.Price.String(),
		Quantity:        h.CurrentQuantity.String(),
		USDValue:        h.CurrentNotional,
		AnchorUSDValue:  h.NotionalUSD,
		DistancePercent: h.DistancePercent,
		IsRoundLevel:    h.IsRoundLevel,
		LifetimeSeconds: h.Lifetime(now).Seconds(),
		ScanCount:       h.ScanCount,
		GrowthTrend:     h.GrowthTrend,
		StabilityScore:  h.StabilityScore,
		FirstSeen:       h.FirstSeen,
		Cause:           h.Cause,
	}
	if h.Weights != nil {
		v.Weight = h.Weights.Recommended
		v.Algorithm = h.Weights.RecommendedAlgorithm
		v.Category = h.Weights.RecommendedCategory
	}
	if h.Context != nil {
		v.MarketTemperature = h.Context.Temperature
	}
	return v
}

// StripInternal returns a copy with the internal-only fields cleared.
func (v *HotOrderView) StripInternal() *HotOrderView {
	c := *v
	c.Fingerprint = ""
	c.PriceKey = ""
	return &c
}

// PublicWall is the minimal public-tier projection of a diamond wall.
type PublicWall struct {
	Symbol            string            `json:"symbol"`
	Exchange          string            `json:"exchange"`
	USDValue          float64           `json:"usd_value"`
	LifetimeSeconds   float64           `json:"lifetime_seconds"`
	Category          WeightCategory    `json:"category"`
	Weight            float64           `json:"weight"`
	MarketTemperature MarketTemperature `json:"market_temperature"`
}

// PublicProjection reduces a view to the public shape.
func (v *HotOrderView) PublicProjection() *PublicWall {
	return &PublicWall{
		Symbol:            v.Symbol,
		Exchange:          v.Exchange,
		USDValue:          v.USDValue,
		LifetimeSeconds:   v.LifetimeSeconds,
		Category:          v.Category,
		Weight:            v.Weight,
		MarketTemperature: v.MarketTemperature,
	}
}
