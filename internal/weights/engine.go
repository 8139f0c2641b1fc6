// Package weights scores hot orders. The engine is a pure function of the
// order data, the market context and the clock; the hot pool calls it on
// every update cycle.
package weights

import (
	"math"
	"time"

	"wallradar/internal/detector"
	"wallradar/internal/domain"
)

// Factor caps. A wall ten times the book average saturates the size factor;
// 10% hourly volatility saturates the volatility factor.
const (
	MaxSizeMultiple = 10.0
	MaxVolatility   = 0.1
	GrowthScans     = 50.0
)

// Algorithm holds one coefficient set over the five context inputs. The
// coefficients sum to 1 so the base weight stays in [0,1].
type Algorithm struct {
	Time       float64
	Size       float64
	RoundLevel float64
	Volatility float64
	Growth     float64
}

// Shipped algorithms. Recommended is an alias chosen by configuration.
var algorithms = map[string]Algorithm{
	"conservative":    {Time: 0.40, Size: 0.25, RoundLevel: 0.10, Volatility: 0.15, Growth: 0.10},
	"aggressive":      {Time: 0.20, Size: 0.40, RoundLevel: 0.15, Volatility: 0.05, Growth: 0.20},
	"volume_weighted": {Time: 0.15, Size: 0.50, RoundLevel: 0.10, Volatility: 0.10, Growth: 0.15},
	"time_weighted":   {Time: 0.55, Size: 0.15, RoundLevel: 0.10, Volatility: 0.10, Growth: 0.10},
	"hybrid":          {Time: 0.30, Size: 0.30, RoundLevel: 0.15, Volatility: 0.10, Growth: 0.15},
}

// AlgorithmNames returns the shipped algorithm names, unordered.
func AlgorithmNames() []string {
	out := make([]string, 0, len(algorithms))
	for name := range algorithms {
		out = append(out, name)
	}
	return out
}

// DefaultTimeMethodWeights blends the slower, harder-to-game curves heaviest.
func DefaultTimeMethodWeights() map[string]float64 {
	return map[string]float64{
		"linear_1h":           0.20,
		"linear_4h":           0.10,
		"exp_30m":             0.10,
		"exp_60m":             0.20,
		"log":                 0.15,
		"sqrt_norm":           0.15,
		"adaptive_volatility": 0.05,
		"adaptive_market":     0.05,
	}
}

// OrderInput is the slice of a hot order the engine reads.
type OrderInput struct {
	AnchorNotional  float64
	CurrentNotional float64
	FirstSeen       time.Time
	ScanCount       int
	SizeVsAverage   float64
	Price           float64
}

// Engine evaluates orders against a fixed configuration. Safe for
// concurrent use; it holds no mutable state.
type Engine struct {
	timeWeights map[string]float64
	recommended string
	volScale    float64
}

// NewEngine builds an engine. Empty method weights fall back to the
// defaults; an unknown recommended algorithm falls back to hybrid.
func NewEngine(recommended string, timeMethodWeights map[string]float64) *Engine {
	if _, ok := algorithms[recommended]; !ok {
		recommended = "hybrid"
	}
	tw := timeMethodWeights
	if len(tw) == 0 {
		tw = DefaultTimeMethodWeights()
	}
	return &Engine{timeWeights: tw, recommended: recommended, volScale: 10}
}

// Evaluate computes the full weight report for one order at one instant.
// Same inputs always produce the same report.
func (e *Engine) Evaluate(in OrderInput, ctx domain.MarketContext, now time.Time) domain.WeightReport {
	minutes := now.Sub(in.FirstSeen).Minutes()
	if minutes < 0 {
		minutes = 0
	}

	tf := e.timeFactors(minutes, ctx)
	blend := e.blendTime(tf)

	sizeFactor := clamp01(in.SizeVsAverage / MaxSizeMultiple)
	roundFactor := roundLevelFactor(in.Price)
	volFactor := clamp01(ctx.Volatility1h / MaxVolatility)
	growthFactor := clamp01(float64(in.ScanCount) / GrowthScans)

	modTime := clampModifier(ctx.TimeOfDayFactor)
	modDay := clampModifier(ctx.DayOfWeekFactor)
	modVol := marketVolatilityModifier(ctx.Volatility24h)
	modifier := modTime * modDay * modVol / 3

	report := domain.WeightReport{
		TimeFactors:        tf,
		TimeBlend:          blend,
		SizeFactor:         sizeFactor,
		RoundLevelFactor:   roundFactor,
		VolatilityFactor:   volFactor,
		GrowthFactor:       growthFactor,
		TimeOfDayModifier:  modTime,
		DayOfWeekModifier:  modDay,
		VolatilityModifier: modVol,
		Modifier:           modifier,
		Weights:            make(map[string]float64, len(algorithms)),
		Categories:         make(map[string]domain.WeightCategory, len(algorithms)),
		ComputedAt:         now,
	}

	for name, a := range algorithms {
		base := a.Time*blend +
			a.Size*sizeFactor +
			a.RoundLevel*roundFactor +
			a.Volatility*(1-volFactor) +
			a.Growth*growthFactor
		w := clamp01(base * modifier)
		report.Weights[name] = w
		report.Categories[name] = domain.CategoryFor(w)
	}

	report.RecommendedAlgorithm = e.recommended
	report.Recommended = report.Weights[e.recommended]
	report.RecommendedCategory = report.Categories[e.recommended]
	return report
}

// timeFactors maps lifetime minutes onto the normalized maturity curves.
// Every value is clamped to [0,1].
func (e *Engine) timeFactors(t float64, ctx domain.MarketContext) map[string]float64 {
	adaptiveVolDivisor := 60 * (1 + ctx.Volatility1h*e.volScale)
	adaptiveMktDivisor := 60 * ctx.Temperature.Factor()

	return map[string]float64{
		"linear_1h":           clamp01(t / 60),
		"linear_4h":           clamp01(t / 240),
		"exp_30m":             clamp01(1 - math.Exp(-t/30)),
		"exp_60m":             clamp01(1 - math.Exp(-t/60)),
		"log":                 clamp01(math.Log(1+t) / math.Log(1+240)),
		"sqrt_norm":           clamp01(math.Sqrt(t / 240)),
		"adaptive_volatility": clamp01(t / adaptiveVolDivisor),
		"adaptive_market":     clamp01(t / adaptiveMktDivisor),
	}
}

// blendTime folds the factor family into one maturity value using the
// configured per-method weights. Methods absent from the config contribute
// nothing.
func (e *Engine) blendTime(factors map[string]float64) float64 {
	var sum, weightSum float64
	for method, w := range e.timeWeights {
		f, ok := factors[method]
		if !ok || w <= 0 {
			continue
		}
		sum += w * f
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return clamp01(sum / weightSum)
}

// roundLevelFactor rewards proximity to a psychological level: 1 at the
// level itself, fading linearly to 0 at the tolerance edge.
func roundLevelFactor(price float64) float64 {
	_, distance, ok := detector.NearestRoundLevel(price)
	if !ok {
		return 0
	}
	return clamp01(1 - distance/detector.RoundLevelTolerance)
}

// marketVolatilityModifier scales the final weight by the market-wide
// regime: calm markets make persistence more meaningful.
func marketVolatilityModifier(vol24h float64) float64 {
	switch {
	case vol24h < 0.02:
		return 1.2
	case vol24h < 0.05:
		return 1.0
	case vol24h < 0.10:
		return 0.8
	default:
		return 0.6
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// clampModifier bounds a market modifier to its documented [0.5, 1.5] range.
// A zero value (uninitialized context) reads as neutral.
func clampModifier(v float64) float64 {
	if v == 0 {
		return 1
	}
	switch {
	case v < 0.5:
		return 0.5
	case v > 1.5:
		return 1.5
	default:
		return v
	}
}
