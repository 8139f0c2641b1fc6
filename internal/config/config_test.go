package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallradar.yaml")
	body := `
detector:
  multiplier: 5.0
  depth: 40
observer:
  promote_after_sec: 120
  survival_ratio: 0.5
  cleanup_scans: 10
weights:
  recommended_algorithm: conservative
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Detector.Multiplier)
	assert.Equal(t, 40, cfg.Detector.Depth)
	assert.Equal(t, 120, cfg.Observer.PromoteAfterSec)
	assert.Equal(t, 0.5, cfg.Observer.SurvivalRatio)
	assert.Equal(t, "conservative", cfg.Weights.RecommendedAlgorithm)

	// Untouched sections keep defaults.
	assert.Equal(t, 250, cfg.Primary.TopSymbols)
	assert.Equal(t, 50, cfg.General.BatchSize)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"multiplier below one", func(c *Config) { c.Detector.Multiplier = 0.9 }},
		{"shallow depth", func(c *Config) { c.Detector.Depth = 5 }},
		{"zero survival ratio", func(c *Config) { c.Observer.SurvivalRatio = 0 }},
		{"survival above one", func(c *Config) { c.Observer.SurvivalRatio = 1.2 }},
		{"unknown algorithm", func(c *Config) { c.Weights.RecommendedAlgorithm = "yolo" }},
		{"unordered steps", func(c *Config) {
			c.Hot.Workers.Steps = []LoadStep{{40, 4}, {10, 1}}
		}},
		{"min over max workers", func(c *Config) {
			c.Observer.Workers.MinWorkers = 5
			c.Observer.Workers.MaxWorkers = 2
		}},
		{"zero venue rps", func(c *Config) {
			v := c.Exchanges["binance"]
			v.RequestsPerSecond = 0
			c.Exchanges["binance"] = v
		}},
		{"empty persistence path", func(c *Config) { c.Persistence.Path = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
