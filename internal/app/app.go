// Package app assembles the scan pipeline: exchange adapters, the observer
// and hot pools, the broadcast hub, persistence and the HTTP surface.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"wallradar/internal/broadcast"
	"wallradar/internal/config"
	"wallradar/internal/detector"
	"wallradar/internal/exchange"
	"wallradar/internal/hotpool"
	"wallradar/internal/httpapi"
	"wallradar/internal/marketctx"
	"wallradar/internal/metrics"
	"wallradar/internal/observer"
	"wallradar/internal/persistence"
	"wallradar/internal/scanner"
	"wallradar/internal/weights"
)

// catalogStoreInterval is how often the merged catalog is mirrored into
// redis when the relay is enabled.
const catalogStoreInterval = 10 * time.Second

// App is one wallradar process: one pipeline per selected venue sharing a
// broadcast hub, a metrics registry and the HTTP server.
type App struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *metrics.Registry

	hub    *broadcast.Hub
	relay  *broadcast.Relay
	rdb    *redis.Client
	server *httpapi.Server
	venues []*venue

	multiVenue bool
	started    time.Time
}

// venue is the full pipeline for one exchange.
type venue struct {
	name      string
	client    exchange.Client
	ownership *scanner.Ownership
	observer  *observer.Pool
	hot       *hotpool.Pool
	flusher   *persistence.Flusher
	primary   *scanner.Primary
}

// New wires the process for the given venue names.
func New(cfg *config.Config, exchanges []string, log zerolog.Logger) (*App, error) {
	if len(exchanges) == 0 {
		return nil, fmt.Errorf("no exchanges selected")
	}

	a := &App{
		cfg:        cfg,
		log:        log,
		registry:   metrics.New(),
		multiVenue: len(exchanges) > 1,
		started:    time.Now(),
	}

	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		a.relay = broadcast.NewRelay(a.rdb, cfg.Redis)
		log.Info().Str("addr", cfg.Redis.Addr).Str("channel", cfg.Redis.Channel).
			Msg("redis relay enabled")
	}
	a.hub = broadcast.NewHub(cfg.Broadcast, a.relay, a.registry, log)

	params := detector.Params{Multiplier: cfg.Detector.Multiplier, Depth: cfg.Detector.Depth}
	for _, name := range exchanges {
		v, err := a.buildVenue(name, params)
		if err != nil {
			return nil, err
		}
		a.venues = append(a.venues, v)
	}

	auth := httpapi.AuthConfig{
		PrivateToken: os.Getenv("WEBSOCKET_PRIVATE_TOKEN"),
		VIPTokens:    cfg.Broadcast.VIPTokens,
	}
	a.server = httpapi.NewServer(cfg.HTTP, cfg.Broadcast, a.hub, a.registry, a.stats, a.catalog, auth, log)
	return a, nil
}

func (a *App) buildVenue(name string, params detector.Params) (*venue, error) {
	client, err := exchange.New(name, a.cfg, a.registry, a.log)
	if err != nil {
		return nil, err
	}

	own := scanner.NewOwnership()
	cache := marketctx.New(client,
		time.Duration(a.cfg.Hot.ContextTTLSec)*time.Second, a.registry, a.log)
	engine := weights.NewEngine(a.cfg.Weights.RecommendedAlgorithm, a.cfg.Weights.TimeMethodWeights)

	// The flusher's source closes over the pool pointer assigned just below.
	var hot *hotpool.Pool
	fl := persistence.NewFlusher(
		a.snapshotPath(name),
		time.Duration(a.cfg.Persistence.MinFlushGapSec)*time.Second,
		func() persistence.Catalog { return hot.Catalog() },
		a.registry, a.log)
	hot = hotpool.NewPool(client, a.cfg.Hot, own, cache, engine, a.hub, fl, a.registry, a.log)

	obs := observer.NewPool(client, a.cfg.Observer, own, hot, a.registry, a.log)
	primary := scanner.NewPrimary(client, a.cfg.Primary, params, obs, a.registry, a.log)

	return &venue{
		name:      name,
		client:    client,
		ownership: own,
		observer:  obs,
		hot:       hot,
		flusher:   fl,
		primary:   primary,
	}, nil
}

// snapshotPath keeps the configured path for a single venue and prefixes
// the file name with the venue for multi-venue runs.
func (a *App) snapshotPath(name string) string {
	if !a.multiVenue {
		return a.cfg.Persistence.Path
	}
	dir, base := filepath.Split(a.cfg.Persistence.Path)
	return filepath.Join(dir, name+"-"+base)
}

// Run executes the pipeline until ctx is cancelled: primary sweep once per
// venue, then the general scanner loop with both pools live. Shutdown is
// cooperative; the catalog gets a final flush before Run returns.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return a.server.Shutdown(shutdownCtx)
	})
	if a.relay != nil {
		g.Go(func() error {
			a.mirrorCatalog(gctx)
			return nil
		})
	}

	for _, v := range a.venues {
		v := v
		v.observer.Start(gctx)
		v.hot.Start(gctx)
		g.Go(func() error {
			v.flusher.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return a.runVenue(gctx, v)
		})
	}

	err := g.Wait()
	for _, v := range a.venues {
		v.observer.Stop()
		v.hot.Stop()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) runVenue(ctx context.Context, v *venue) error {
	universe, err := scanner.BuildUniverse(ctx, v.client, scanner.NewSymbolFilter(a.cfg.Primary))
	if err != nil {
		return fmt.Errorf("%s: build universe: %w", v.name, err)
	}

	report, err := v.primary.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: primary sweep: %w", v.name, err)
	}
	if path, werr := persistence.WriteScanReport(a.cfg.Primary.ReportDir, report); werr != nil {
		a.log.Warn().Err(werr).Msg("scan report write failed")
	} else {
		a.log.Info().Str("path", path).Msg("scan report written")
	}

	general := scanner.NewGeneral(v.client, a.cfg.General,
		detector.Params{Multiplier: a.cfg.Detector.Multiplier, Depth: a.cfg.Detector.Depth},
		universe, v.observer, v.ownership, a.registry, a.log)
	general.Run(ctx)
	return nil
}

// PrimaryOnly runs the one-shot sweep per venue, writes the reports and
// returns without starting the pipeline.
func (a *App) PrimaryOnly(ctx context.Context) error {
	for _, v := range a.venues {
		sweep := scanner.NewPrimary(v.client, a.cfg.Primary,
			detector.Params{Multiplier: a.cfg.Detector.Multiplier, Depth: a.cfg.Detector.Depth},
			nil, a.registry, a.log)
		report, err := sweep.Run(ctx)
		if err != nil {
			return fmt.Errorf("%s: primary sweep: %w", v.name, err)
		}
		path, err := persistence.WriteScanReport(a.cfg.Primary.ReportDir, report)
		if err != nil {
			return fmt.Errorf("%s: write report: %w", v.name, err)
		}
		a.log.Info().Str("exchange", v.name).Str("path", path).
			Int("walls", len(report.Walls)).Msg("primary sweep report written")
	}
	return nil
}

// mirrorCatalog keeps the merged catalog in redis alongside the file
// snapshot, refreshed on a fixed cadence.
func (a *App) mirrorCatalog(ctx context.Context) {
	ticker := time.NewTicker(catalogStoreInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(a.catalog())
			if err != nil {
				continue
			}
			if err := a.relay.StoreCatalog(ctx, payload); err != nil {
				a.log.Warn().Err(err).Msg("redis catalog store failed")
			}
		}
	}
}

// stats aggregates the pipeline counters across venues for /stats.
func (a *App) stats() httpapi.Stats {
	s := httpapi.Stats{
		Subscribers:   a.hub.SubscriberCount(),
		UptimeSeconds: time.Since(a.started).Seconds(),
	}
	names := make([]string, 0, len(a.venues))
	for _, v := range a.venues {
		names = append(names, v.name)
		s.TrackedOrders += v.observer.TrackedCount()
		s.HotOrders += v.hot.Count()
		s.OwnedSymbols += v.ownership.Count()
	}
	sort.Strings(names)
	s.Exchange = strings.Join(names, ",")
	return s
}

// catalog merges the per-venue hot catalogs, re-sorted by weight.
func (a *App) catalog() persistence.Catalog {
	if len(a.venues) == 1 {
		return a.venues[0].hot.Catalog()
	}
	out := persistence.Catalog{Timestamp: time.Now().UTC()}
	for _, v := range a.venues {
		c := v.hot.Catalog()
		out.TotalOrders += c.TotalOrders
		out.ActiveSymbols += c.ActiveSymbols
		out.Orders = append(out.Orders, c.Orders...)
		if out.Categories == nil {
			out.Categories = c.Categories
		} else {
			for k, n := range c.Categories {
				out.Categories[k] += n
			}
		}
	}
	sort.SliceStable(out.Orders, func(i, j int) bool {
		if out.Orders[i].Weight != out.Orders[j].Weight {
			return out.Orders[i].Weight > out.Orders[j].Weight
		}
		return out.Orders[i].Fingerprint < out.Orders[j].Fingerprint
	})
	return out
}
