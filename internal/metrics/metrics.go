// Package metrics owns the Prometheus registry for the wallradar pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

// Registry holds all wallradar metrics. Construct one per process and pass it
// to the components that record into it.
type Registry struct {
	registry *prometheus.Registry

	// Venue transport
	VenueRequests *prometheus.CounterVec
	VenueErrors   *prometheus.CounterVec
	VenueDuration *prometheus.HistogramVec

	// Detection and tracking
	WallsDetected      *prometheus.CounterVec
	ObserverIngests    prometheus.Counter
	ObserverPromotions prometheus.Counter
	ObserverDeaths     *prometheus.CounterVec
	ObserverTracked    prometheus.Gauge
	HotOrders          prometheus.Gauge
	HotRemovals        prometheus.Counter
	SignificantUpdates prometheus.Counter

	// Fan-out and persistence
	BroadcastDeltas    *prometheus.CounterVec
	DroppedSubscribers *prometheus.CounterVec
	PersistenceFlushes prometheus.Counter
	PersistenceErrors  prometheus.Counter

	// Workers
	PoolWorkers *prometheus.GaugeVec

	// Market context cache
	ContextHits     prometheus.Counter
	ContextMisses   prometheus.Counter
	ContextHitRatio prometheus.Gauge
}

// New builds and registers every collector on a private registry.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		VenueRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallradar_venue_requests_total",
			Help: "Exchange REST requests by venue and endpoint",
		}, []string{"venue", "endpoint"}),

		VenueErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallradar_venue_errors_total",
			Help: "Exchange REST failures by venue and error kind",
		}, []string{"venue", "kind"}),

		VenueDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallradar_venue_request_seconds",
			Help:    "Exchange REST request latency",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"venue", "endpoint"}),

		WallsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallradar_walls_detected_total",
			Help: "Wall candidates emitted by the detector, by scanner",
		}, []string{"scanner"}),

		ObserverIngests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallradar_observer_ingests_total",
			Help: "Candidates accepted into the observer pool",
		}),

		ObserverPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallradar_observer_promotions_total",
			Help: "Tracked orders promoted to the hot pool",
		}),

		ObserverDeaths: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallradar_observer_deaths_total",
			Help: "Tracked orders dead in the observer stage, by cause",
		}, []string{"cause"}),

		ObserverTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallradar_observer_tracked",
			Help: "Live tracked orders in the observer pool",
		}),

		HotOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallradar_hot_orders",
			Help: "Orders currently in the hot pool",
		}),

		HotRemovals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallradar_hot_removals_total",
			Help: "Hot orders removed after disappearing from the book",
		}),

		SignificantUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallradar_hot_significant_updates_total",
			Help: "Hot order updates that crossed a significance trigger",
		}),

		BroadcastDeltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallradar_broadcast_deltas_total",
			Help: "Deltas delivered to subscribers, by tier",
		}, []string{"tier"}),

		DroppedSubscribers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallradar_dropped_subscribers_total",
			Help: "Subscribers dropped for failing to accept delivery, by tier",
		}, []string{"tier"}),

		PersistenceFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallradar_persistence_flushes_total",
			Help: "Successful hot catalog snapshot writes",
		}),

		PersistenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallradar_persistence_errors_total",
			Help: "Failed hot catalog snapshot writes",
		}),

		PoolWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wallradar_pool_workers",
			Help: "Current worker count per pool",
		}, []string{"pool"}),

		ContextHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallradar_context_cache_hits_total",
			Help: "Market context cache hits",
		}),

		ContextMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallradar_context_cache_misses_total",
			Help: "Market context cache misses",
		}),

		ContextHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallradar_context_cache_hit_ratio",
			Help: "Market context cache hit ratio (0.0 to 1.0)",
		}),
	}

	r.registry.MustRegister(
		r.VenueRequests, r.VenueErrors, r.VenueDuration,
		r.WallsDetected, r.ObserverIngests, r.ObserverPromotions,
		r.ObserverDeaths, r.ObserverTracked,
		r.HotOrders, r.HotRemovals, r.SignificantUpdates,
		r.BroadcastDeltas, r.DroppedSubscribers,
		r.PersistenceFlushes, r.PersistenceErrors,
		r.PoolWorkers,
		r.ContextHits, r.ContextMisses, r.ContextHitRatio,
	)
	return r
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// RecordContextHit records a cache hit and refreshes the ratio gauge.
func (r *Registry) RecordContextHit() {
	r.ContextHits.Inc()
	r.updateContextHitRatio()
}

// RecordContextMiss records a cache miss and refreshes the ratio gauge.
func (r *Registry) RecordContextMiss() {
	r.ContextMisses.Inc()
	r.updateContextHitRatio()
}

func (r *Registry) updateContextHitRatio() {
	hits := counterValue(r.ContextHits)
	misses := counterValue(r.ContextMisses)
	if total := hits + misses; total > 0 {
		r.ContextHitRatio.Set(hits / total)
	}
}

// counterValue reads a counter back through the client data model.
func counterValue(c prometheus.Counter) float64 {
	m := &io_prometheus_client.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
