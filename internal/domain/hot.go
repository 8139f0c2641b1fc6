package domain

import (
	"math"
	"time"
)

// SnapshotRingCap bounds the per-order history kept in the hot stage.
const SnapshotRingCap = 64

// GrowthTrend classifies how an order's notional is moving.
type GrowthTrend string

const (
	TrendIncreasing GrowthTrend = "INCREASING"
	TrendDecreasing GrowthTrend = "DECREASING"
	TrendStable     GrowthTrend = "STABLE"
)

// Snapshot is one observation of a hot order.
type Snapshot struct {
	At              time.Time `json:"at"`
	Price           float64   `json:"price"`
	Quantity        float64   `json:"quantity"`
	NotionalUSD     float64   `json:"notional_usd"`
	DistancePercent float64   `json:"distance_percent"`
}

// HotOrder is a promoted wall under intensive monitoring.
type HotOrder struct {
	TrackedOrder

	Snapshots      []Snapshot     `json:"snapshots"`
	Context        *MarketContext `json:"context,omitempty"`
	Weights        *WeightReport  `json:"weights,omitempty"`
	GrowthTrend    GrowthTrend    `json:"growth_trend"`
	StabilityScore float64        `json:"stability_score"`
	PromotedAt     time.Time      `json:"promoted_at"`
}

// AppendSnapshot records an observation, evicting the oldest beyond the ring cap.
func (h *HotOrder) AppendSnapshot(s Snapshot) {
	h.Snapshots = append(h.Snapshots, s)
	if len(h.Snapshots) > SnapshotRingCap {
		h.Snapshots = h.Snapshots[len(h.Snapshots)-SnapshotRingCap:]
	}
}

// Trend thresholds: mean of the last three notionals vs the first of those three.
const (
	trendWindow        = 3
	trendGrowThreshold = 1.05
	trendFallThreshold = 0.95
)

// ComputeTrend derives the growth trend from the snapshot history. Fewer than
// trendWindow observations is STABLE.
func (h *HotOrder) ComputeTrend() GrowthTrend {
	n := len(h.Snapshots)
	if n < trendWindow {
		return TrendStable
	}
	window := h.Snapshots[n-trendWindow:]
	var sum float64
	for _, s := range window {
		sum += s.NotionalUSD
	}
	recent := sum / trendWindow
	base := window[0].NotionalUSD
	if base <= 0 {
		return TrendStable
	}
	switch ratio := recent / base; {
	case ratio > trendGrowThreshold:
		return TrendIncreasing
	case ratio < trendFallThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// ComputeStability scores how steady the tracked notional has been, as
// 1 - sigma/mu over the history, clamped to [0, 1].
func (h *HotOrder) ComputeStability() float64 {
	n := len(h.Snapshots)
	if n < 2 {
		return 1
	}
	var sum float64
	for _, s := range h.Snapshots {
		sum += s.NotionalUSD
	}
	mean := sum / float64(n)
	if mean <= 0 {
		return 0
	}
	var varSum float64
	for _, s := range h.Snapshots {
		d := s.NotionalUSD - mean
		varSum += d * d
	}
	sigma := math.Sqrt(varSum / float64(n))
	return math.Max(0, 1-sigma/mean)
}
