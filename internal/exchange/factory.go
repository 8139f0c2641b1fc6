package exchange

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"wallradar/internal/config"
	"wallradar/internal/metrics"
)

// New builds the adapter for a venue by name. Credentials come from the
// environment here so the core never touches them.
func New(name string, cfg *config.Config, reg *metrics.Registry, log zerolog.Logger) (Client, error) {
	venueCfg, ok := cfg.Exchanges[name]
	if !ok {
		venueCfg = config.Default().Exchanges["binance"]
		venueCfg.BaseURL = ""
	}
	switch name {
	case "binance":
		return NewBinanceClient(venueCfg, os.Getenv("BINANCE_API_KEY"), reg, log), nil
	case "bybit":
		return NewBybitClient(venueCfg, reg, log), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", name)
	}
}
