package weights

import (
	"math"
	"sort"

	"wallradar/internal/domain"
)

// ThresholdMethod names the cutoff strategy the adaptive categorizer picked.
type ThresholdMethod string

const (
	MethodQuartile    ThresholdMethod = "quartile"
	MethodStatistical ThresholdMethod = "statistical"
	MethodPercentile  ThresholdMethod = "percentile"
)

// AdaptiveThresholds are batch-derived cutoffs over a notional distribution.
// Report-only: hot pool categories always use the fixed weight boundaries.
type AdaptiveThresholds struct {
	Method        ThresholdMethod `json:"method"`
	GoldCutoff    float64         `json:"gold_cutoff"`
	DiamondCutoff float64         `json:"diamond_cutoff"`
	Samples       int             `json:"samples"`
}

// AdaptiveCategorize selects cutoffs that fit the shape of the batch:
// long-tailed distributions get percentile cutoffs, symmetric ones get
// mean/stdev cutoffs, anything else quartiles. Deterministic in its input.
func AdaptiveCategorize(notionals []float64) AdaptiveThresholds {
	n := len(notionals)
	if n == 0 {
		return AdaptiveThresholds{Method: MethodQuartile}
	}
	sorted := append([]float64(nil), notionals...)
	sort.Float64s(sorted)

	q1 := percentile(sorted, 25)
	q3 := percentile(sorted, 75)
	iqr := q3 - q1
	median := percentile(sorted, 50)
	valueRange := sorted[n-1] - sorted[0]

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)
	var varSum float64
	for _, v := range sorted {
		d := v - mean
		varSum += d * d
	}
	stdev := math.Sqrt(varSum / float64(n))

	t := AdaptiveThresholds{Samples: n}
	switch {
	case iqr > 0 && valueRange > 5*iqr:
		t.Method = MethodPercentile
		t.GoldCutoff = percentile(sorted, 40)
		t.DiamondCutoff = percentile(sorted, 80)
	case mean > 0 && math.Abs(mean-median)/mean < 0.2:
		t.Method = MethodStatistical
		t.GoldCutoff = mean - 0.5*stdev
		t.DiamondCutoff = mean + 0.5*stdev
	default:
		t.Method = MethodQuartile
		t.GoldCutoff = q1
		t.DiamondCutoff = q3
	}
	return t
}

// CategoryFor buckets one notional against the thresholds.
func (t AdaptiveThresholds) CategoryFor(notional float64) domain.WeightCategory {
	switch {
	case notional >= t.DiamondCutoff:
		return domain.CategoryDiamond
	case notional >= t.GoldCutoff:
		return domain.CategoryGold
	default:
		return domain.CategoryBasic
	}
}

// Distribution counts the batch per category under the thresholds.
func (t AdaptiveThresholds) Distribution(notionals []float64) map[domain.WeightCategory]int {
	out := map[domain.WeightCategory]int{
		domain.CategoryBasic:   0,
		domain.CategoryGold:    0,
		domain.CategoryDiamond: 0,
	}
	for _, v := range notionals {
		out[t.CategoryFor(v)]++
	}
	return out
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
