package domain

import "time"

// MarketTemperature is a coarse volatility regime for one symbol.
type MarketTemperature string

const (
	TemperatureCold    MarketTemperature = "cold"
	TemperatureWarm    MarketTemperature = "warm"
	TemperatureHot     MarketTemperature = "hot"
	TemperatureExtreme MarketTemperature = "extreme"
)

// Factor scales how quickly time factors mature in this regime. Hot markets
// give a wall less time to prove itself, so the divisor shrinks.
func (t MarketTemperature) Factor() float64 {
	switch t {
	case TemperatureCold:
		return 1.5
	case TemperatureWarm:
		return 1.0
	case TemperatureHot:
		return 0.75
	case TemperatureExtreme:
		return 0.5
	default:
		return 1.0
	}
}

// TemperatureFor bands 24h volatility into a regime.
func TemperatureFor(volatility24h float64) MarketTemperature {
	switch {
	case volatility24h < 0.02:
		return TemperatureCold
	case volatility24h < 0.05:
		return TemperatureWarm
	case volatility24h < 0.10:
		return TemperatureHot
	default:
		return TemperatureExtreme
	}
}

// MarketContext carries the per-symbol environment the weight engine reads.
// Refreshed lazily with a TTL; stale values are served over hard failures.
type MarketContext struct {
	Symbol          string            `json:"symbol"`
	Volatility1h    float64           `json:"volatility_1h"`
	Volatility24h   float64           `json:"volatility_24h"`
	Temperature     MarketTemperature `json:"market_temperature"`
	TimeOfDayFactor float64           `json:"time_of_day_factor"`
	DayOfWeekFactor float64           `json:"day_of_week_factor"`
	FetchedAt       time.Time         `json:"fetched_at"`
}
