package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"wallradar/internal/config"
	"wallradar/internal/exchange"
)

// SymbolFilter rejects symbols the pipeline should never scan: blacklisted
// quote suffixes (stablecoin pairs against other stables) and prefixes
// (leveraged tokens, index products), plus anything under the volume floor.
type SymbolFilter struct {
	suffixes  []string
	prefixes  []string
	minVolume float64
}

// NewSymbolFilter builds the filter from the primary scan configuration.
func NewSymbolFilter(cfg config.PrimaryConfig) *SymbolFilter {
	return &SymbolFilter{
		suffixes:  cfg.SuffixBlacklist,
		prefixes:  cfg.PrefixBlacklist,
		minVolume: cfg.MinQuoteVolume,
	}
}

// Admit reports whether a symbol with the given 24h quote volume may enter
// the universe.
func (f *SymbolFilter) Admit(symbol string, quoteVolume float64) bool {
	if quoteVolume < f.minVolume {
		return false
	}
	for _, s := range f.suffixes {
		if strings.HasSuffix(symbol, s) {
			return false
		}
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(symbol, p) {
			return false
		}
	}
	return true
}

// BuildUniverse returns every admissible symbol ordered by 24h quote volume
// descending, ties broken alphabetically so the order is stable.
func BuildUniverse(ctx context.Context, client exchange.Client, filter *SymbolFilter) ([]string, error) {
	stats, err := client.Stats24h(ctx)
	if err != nil {
		return nil, fmt.Errorf("build universe: %w", err)
	}
	type entry struct {
		symbol string
		volume float64
	}
	entries := make([]entry, 0, len(stats))
	for sym, s := range stats {
		if filter.Admit(sym, s.QuoteVolume) {
			entries = append(entries, entry{sym, s.QuoteVolume})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].volume != entries[j].volume {
			return entries[i].volume > entries[j].volume
		}
		return entries[i].symbol < entries[j].symbol
	})
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.symbol)
	}
	return out, nil
}
