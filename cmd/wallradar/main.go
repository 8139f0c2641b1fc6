package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"wallradar/internal/app"
	"wallradar/internal/config"
)

const (
	appName = "wallradar"
	version = "v1.0.0"
)

var (
	flagConfig      string
	flagExchanges   string
	flagPrimaryOnly bool
	flagLogLevel    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Order-book wall scanner for crypto futures",
		Version: version,
		Long: `wallradar sweeps futures order books for anomalously large resting
orders, tracks the survivors through an observer stage and streams the
proven walls to subscribers with per-tier filtering.`,
		RunE: run,
	}

	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to config.yaml (defaults applied when empty)")
	rootCmd.Flags().StringVar(&flagExchanges, "exchanges", "binance", "comma-separated venue list (binance, bybit)")
	rootCmd.Flags().BoolVar(&flagPrimaryOnly, "primary-scan-only", false, "run the one-shot market sweep, write the report and exit")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// .env is optional; credentials stay out of the config file.
	_ = godotenv.Load()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}

	log := setupLogger(cfg)
	log.Info().Str("version", version).Str("exchanges", flagExchanges).Msg("wallradar starting")

	exchanges := splitExchanges(flagExchanges)
	application, err := app.New(cfg, exchanges, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flagPrimaryOnly {
		return application.PrimaryOnly(ctx)
	}
	return application.Run(ctx)
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	levelName := cfg.Logging.Level
	if flagLogLevel != "" {
		levelName = flagLogLevel
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out zerolog.Logger
	if term.IsTerminal(int(os.Stderr.Fd())) {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		out = zerolog.New(os.Stderr)
	}
	return out.Level(level).With().Timestamp().Logger()
}

func splitExchanges(list string) []string {
	var out []string
	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
