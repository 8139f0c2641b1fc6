// Package httpapi serves the read surface: health, metrics, the hot
// catalog, pipeline stats and the websocket fan-out endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"wallradar/internal/broadcast"
	"wallradar/internal/config"
	"wallradar/internal/metrics"
	"wallradar/internal/persistence"
)

// Stats is the point-in-time pipeline view for /stats. The app wires a
// provider so the server never reaches into pool internals.
type Stats struct {
	Exchange      string                 `json:"exchange"`
	TrackedOrders int                    `json:"tracked_orders"`
	HotOrders     int                    `json:"hot_orders"`
	OwnedSymbols  int                    `json:"owned_symbols"`
	Subscribers   map[broadcast.Tier]int `json:"subscribers"`
	UptimeSeconds float64                `json:"uptime_seconds"`
}

// StatsProvider builds the current stats.
type StatsProvider func() Stats

// CatalogProvider builds the current hot catalog.
type CatalogProvider func() persistence.Catalog

// Server is the HTTP/WS surface.
type Server struct {
	cfg      config.HTTPConfig
	bcast    config.BroadcastConfig
	hub      *broadcast.Hub
	registry *metrics.Registry
	stats    StatsProvider
	catalog  CatalogProvider
	auth     AuthConfig
	log      zerolog.Logger

	server *http.Server
}

// AuthConfig resolves websocket access levels. PrivateToken comes from the
// environment, VIP tokens from configuration.
type AuthConfig struct {
	PrivateToken string
	VIPTokens    []string
}

// NewServer wires the routes.
func NewServer(cfg config.HTTPConfig, bcast config.BroadcastConfig, hub *broadcast.Hub, reg *metrics.Registry, stats StatsProvider, catalog CatalogProvider, auth AuthConfig, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		bcast:    bcast,
		hub:      hub,
		registry: reg,
		stats:    stats,
		catalog:  catalog,
		auth:     auth,
		log:      log.With().Str("component", "httpapi").Logger(),
	}

	router := mux.NewRouter()
	router.Use(s.requestIDMiddleware)
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg.Prometheus(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/hot", s.handleHot).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Dur("took", time.Since(start)).Msg("request served")
	})
}
