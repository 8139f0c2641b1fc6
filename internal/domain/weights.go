package domain

import "time"

// WeightCategory buckets a weight into subscriber-facing tiers.
type WeightCategory string

const (
	CategoryBasic   WeightCategory = "basic"
	CategoryGold    WeightCategory = "gold"
	CategoryDiamond WeightCategory = "diamond"
)

// Category boundaries. The upper bucket owns its boundary value.
const (
	GoldThreshold    = 0.333
	DiamondThreshold = 0.666
)

// CategoryFor maps a weight in [0,1] onto its category.
func CategoryFor(weight float64) WeightCategory {
	switch {
	case weight >= DiamondThreshold:
		return CategoryDiamond
	case weight >= GoldThreshold:
		return CategoryGold
	default:
		return CategoryBasic
	}
}

// WeightReport is the full output of one weight-engine evaluation. Stored on
// the HotOrder and compared between cycles for significance.
type WeightReport struct {
	TimeFactors map[string]float64 `json:"time_factors"`
	TimeBlend   float64            `json:"time_blend"`

	SizeFactor       float64 `json:"size_factor"`
	RoundLevelFactor float64 `json:"round_level_factor"`
	VolatilityFactor float64 `json:"volatility_factor"`
	GrowthFactor     float64 `json:"growth_factor"`

	TimeOfDayModifier  float64 `json:"time_of_day_modifier"`
	DayOfWeekModifier  float64 `json:"day_of_week_modifier"`
	VolatilityModifier float64 `json:"volatility_modifier"`
	Modifier           float64 `json:"modifier"`

	Weights    map[string]float64        `json:"weights"`
	Categories map[string]WeightCategory `json:"categories"`

	Recommended          float64        `json:"recommended"`
	RecommendedAlgorithm string         `json:"recommended_algorithm"`
	RecommendedCategory  WeightCategory `json:"recommended_category"`

	ComputedAt time.Time `json:"computed_at"`
}
