// Package config loads and validates the wallradar YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Exchanges   map[string]VenueConfig `yaml:"exchanges"`
	Detector    DetectorConfig    `yaml:"detector"`
	Primary     PrimaryConfig     `yaml:"primary_scan"`
	General     GeneralConfig     `yaml:"general_scan"`
	Observer    ObserverConfig    `yaml:"observer"`
	Hot         HotConfig         `yaml:"hot_pool"`
	Weights     WeightsConfig     `yaml:"weights"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Broadcast   BroadcastConfig   `yaml:"broadcast"`
	HTTP        HTTPConfig        `yaml:"http"`
	Redis       RedisConfig       `yaml:"redis"`
}

// LoggingConfig controls the zerolog setup.
type LoggingConfig struct {
	Level string `yaml:"level"` // trace, debug, info, warn, error
}

// VenueConfig holds per-exchange transport settings.
type VenueConfig struct {
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	RequestTimeoutSec int     `yaml:"request_timeout_sec"`
	MaxRetries        int     `yaml:"max_retries"`
	RetryBackoffMS    int     `yaml:"retry_backoff_ms"`
}

// DetectorConfig parameterizes the wall detector.
type DetectorConfig struct {
	Multiplier float64 `yaml:"multiplier"` // wall threshold vs mean of top 10
	Depth      int     `yaml:"depth"`      // book depth scanned
}

// PrimaryConfig parameterizes the one-shot primary sweep.
type PrimaryConfig struct {
	TopSymbols       int      `yaml:"top_symbols"`
	Workers          int      `yaml:"workers"`
	MinQuoteVolume   float64  `yaml:"min_quote_volume"`
	FetchVolatility  bool     `yaml:"fetch_volatility"`
	SuffixBlacklist  []string `yaml:"suffix_blacklist"`
	PrefixBlacklist  []string `yaml:"prefix_blacklist"`
	ReportDir        string   `yaml:"report_dir"`
}

// GeneralConfig parameterizes the continuous background scanner.
type GeneralConfig struct {
	BatchSize   int `yaml:"batch_size"`
	IntervalSec int `yaml:"interval_sec"`
}

// ObserverConfig parameterizes the observer pool.
type ObserverConfig struct {
	PromoteAfterSec  int        `yaml:"promote_after_sec"`
	SurvivalRatio    float64    `yaml:"survival_ratio"`
	CleanupScans     int        `yaml:"cleanup_scans"`
	ScanIntervalSec  int        `yaml:"scan_interval_sec"`
	IngestQueueSize  int        `yaml:"ingest_queue_size"`
	Workers          PoolConfig `yaml:"workers"`
}

// HotConfig parameterizes the hot pool.
type HotConfig struct {
	CycleIntervalMS     int        `yaml:"cycle_interval_ms"`
	AdmitQueueSize      int        `yaml:"admit_queue_size"`
	WeightDeltaTrigger  float64    `yaml:"weight_delta_trigger"`
	NotionalDeltaTrigger float64   `yaml:"notional_delta_trigger"`
	ContextTTLSec       int        `yaml:"context_ttl_sec"`
	Workers             PoolConfig `yaml:"workers"`
}

// PoolConfig is the adaptive worker staircase for one pool.
type PoolConfig struct {
	MinWorkers int        `yaml:"min_workers"`
	MaxWorkers int        `yaml:"max_workers"`
	Steps      []LoadStep `yaml:"steps"`
}

// LoadStep maps a load threshold to a worker count.
type LoadStep struct {
	Threshold int `yaml:"threshold"`
	Workers   int `yaml:"workers"`
}

// WeightsConfig selects the recommended algorithm and tunes the blend.
type WeightsConfig struct {
	RecommendedAlgorithm string             `yaml:"recommended_algorithm"`
	TimeMethodWeights    map[string]float64 `yaml:"time_method_weights"`
}

// PersistenceConfig controls the hot catalog snapshot.
type PersistenceConfig struct {
	Path            string `yaml:"path"`
	MinFlushGapSec  int    `yaml:"min_flush_gap_sec"`
}

// BroadcastConfig controls the fan-out hub.
type BroadcastConfig struct {
	QueueSize        int      `yaml:"queue_size"`
	SubscriberBuffer int      `yaml:"subscriber_buffer"`
	PublicDelayMS    int      `yaml:"public_delay_ms"`
	VIPTokens        []string `yaml:"vip_tokens"`
}

// HTTPConfig controls the HTTP/WS surface.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RedisConfig controls the optional delta relay. Empty Addr disables it.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Channel    string `yaml:"channel"`
	CatalogKey string `yaml:"catalog_key"`
}

// Default returns the production defaults; a config file overrides fields.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Exchanges: map[string]VenueConfig{
			"binance": {
				RequestsPerSecond: 8,
				Burst:             16,
				RequestTimeoutSec: 10,
				MaxRetries:        3,
				RetryBackoffMS:    500,
			},
		},
		Detector: DetectorConfig{Multiplier: 3.5, Depth: 20},
		Primary: PrimaryConfig{
			TopSymbols:      250,
			Workers:         5,
			MinQuoteVolume:  1_000_000,
			FetchVolatility: true,
			SuffixBlacklist: []string{"BUSD", "USDC", "TUSD", "FDUSD", "DAI"},
			PrefixBlacklist: []string{"1000", "DEFI", "BTCDOM"},
			ReportDir:       "artifacts",
		},
		General: GeneralConfig{BatchSize: 50, IntervalSec: 2},
		Observer: ObserverConfig{
			PromoteAfterSec: 60,
			SurvivalRatio:   0.7,
			CleanupScans:    10,
			ScanIntervalSec: 1,
			IngestQueueSize: 256,
			Workers: PoolConfig{
				MinWorkers: 1,
				MaxWorkers: 3,
				Steps:      []LoadStep{{5, 1}, {10, 2}, {15, 3}},
			},
		},
		Hot: HotConfig{
			CycleIntervalMS:      500,
			AdmitQueueSize:       64,
			WeightDeltaTrigger:   0.05,
			NotionalDeltaTrigger: 0.05,
			ContextTTLSec:        300,
			Workers: PoolConfig{
				MinWorkers: 1,
				MaxWorkers: 8,
				Steps:      []LoadStep{{10, 1}, {40, 4}, {100, 8}},
			},
		},
		Weights: WeightsConfig{
			RecommendedAlgorithm: "hybrid",
		},
		Persistence: PersistenceConfig{
			Path:           "hot_orders.json",
			MinFlushGapSec: 1,
		},
		Broadcast: BroadcastConfig{
			QueueSize:        256,
			SubscriberBuffer: 64,
			PublicDelayMS:    1500,
		},
		HTTP: HTTPConfig{Host: "127.0.0.1", Port: 8080},
		Redis: RedisConfig{
			Channel:    "wallradar:deltas",
			CatalogKey: "wallradar:catalog",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields the pipeline cannot tolerate being wrong.
// Failures here are fatal at startup.
func (c *Config) Validate() error {
	if c.Detector.Multiplier <= 1 {
		return fmt.Errorf("detector.multiplier must exceed 1, got %v", c.Detector.Multiplier)
	}
	if c.Detector.Depth < 10 {
		return fmt.Errorf("detector.depth must be at least 10, got %d", c.Detector.Depth)
	}
	if c.Primary.TopSymbols <= 0 || c.Primary.Workers <= 0 {
		return fmt.Errorf("primary_scan.top_symbols and workers must be positive")
	}
	if c.General.BatchSize <= 0 || c.General.IntervalSec <= 0 {
		return fmt.Errorf("general_scan.batch_size and interval_sec must be positive")
	}
	if c.Observer.SurvivalRatio <= 0 || c.Observer.SurvivalRatio > 1 {
		return fmt.Errorf("observer.survival_ratio must be in (0,1], got %v", c.Observer.SurvivalRatio)
	}
	if c.Observer.PromoteAfterSec <= 0 {
		return fmt.Errorf("observer.promote_after_sec must be positive")
	}
	if c.Observer.CleanupScans <= 0 {
		return fmt.Errorf("observer.cleanup_scans must be positive")
	}
	if c.Hot.CycleIntervalMS <= 0 {
		return fmt.Errorf("hot_pool.cycle_interval_ms must be positive")
	}
	for _, pc := range []struct {
		name string
		pool PoolConfig
	}{{"observer", c.Observer.Workers}, {"hot_pool", c.Hot.Workers}} {
		if err := pc.pool.validate(); err != nil {
			return fmt.Errorf("%s.workers: %w", pc.name, err)
		}
	}
	for name, v := range c.Exchanges {
		if v.RequestsPerSecond <= 0 {
			return fmt.Errorf("exchanges.%s.requests_per_second must be positive", name)
		}
	}
	switch c.Weights.RecommendedAlgorithm {
	case "conservative", "aggressive", "volume_weighted", "time_weighted", "hybrid":
	default:
		return fmt.Errorf("weights.recommended_algorithm %q is not a shipped algorithm", c.Weights.RecommendedAlgorithm)
	}
	if c.Persistence.Path == "" {
		return fmt.Errorf("persistence.path must be set")
	}
	return nil
}

func (p PoolConfig) validate() error {
	if p.MinWorkers < 1 || p.MaxWorkers < p.MinWorkers {
		return fmt.Errorf("min_workers must be >= 1 and <= max_workers")
	}
	last := 0
	for _, s := range p.Steps {
		if s.Threshold < last {
			return fmt.Errorf("steps must be ordered by threshold")
		}
		if s.Workers < 1 {
			return fmt.Errorf("step worker count must be >= 1")
		}
		last = s.Threshold
	}
	return nil
}

// RequestTimeout returns the per-call timeout for a venue.
func (v VenueConfig) RequestTimeout() time.Duration {
	if v.RequestTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(v.RequestTimeoutSec) * time.Second
}

// RetryBackoff returns the base backoff between venue retries.
func (v VenueConfig) RetryBackoff() time.Duration {
	if v.RetryBackoffMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(v.RetryBackoffMS) * time.Millisecond
}
