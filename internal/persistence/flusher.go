package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wallradar/internal/metrics"
)

// CatalogSource builds the current catalog on demand. The hot pool provides
// it; the flusher never reaches into pool internals.
type CatalogSource func() Catalog

// Flusher rate-limits snapshot writes: at most one per MinGap, with
// requests arriving faster than that coalescing into the next write. A
// failed write stays pending and is retried on the next window.
type Flusher struct {
	path     string
	minGap   time.Duration
	source   CatalogSource
	registry *metrics.Registry
	log      zerolog.Logger

	mu        sync.Mutex
	dirty     bool
	lastWrite time.Time
	kick      chan struct{}
}

// NewFlusher builds a flusher for the snapshot at path.
func NewFlusher(path string, minGap time.Duration, source CatalogSource, reg *metrics.Registry, log zerolog.Logger) *Flusher {
	if minGap <= 0 {
		minGap = time.Second
	}
	return &Flusher{
		path:     path,
		minGap:   minGap,
		source:   source,
		registry: reg,
		log:      log.With().Str("component", "persistence").Logger(),
		kick:     make(chan struct{}, 1),
	}
}

// Request schedules a flush. Never blocks; bursts coalesce.
func (f *Flusher) Request() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Run services flush requests until ctx is cancelled, then writes one final
// snapshot if anything is pending.
func (f *Flusher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			f.flushIfDirty()
			return
		case <-f.kick:
			f.waitForWindow(ctx)
			f.flushIfDirty()
		}
	}
}

// waitForWindow holds off until MinGap has passed since the last write.
func (f *Flusher) waitForWindow(ctx context.Context) {
	f.mu.Lock()
	elapsed := time.Since(f.lastWrite)
	f.mu.Unlock()
	if remaining := f.minGap - elapsed; remaining > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(remaining):
		}
	}
}

func (f *Flusher) flushIfDirty() {
	f.mu.Lock()
	if !f.dirty {
		f.mu.Unlock()
		return
	}
	f.dirty = false
	f.mu.Unlock()

	catalog := f.source()
	if err := WriteAtomic(f.path, catalog); err != nil {
		// Stay dirty so the next window retries; the pool keeps running.
		f.mu.Lock()
		f.dirty = true
		f.mu.Unlock()
		if f.registry != nil {
			f.registry.PersistenceErrors.Inc()
		}
		f.log.Error().Err(err).Str("path", f.path).Msg("snapshot write failed, will retry")
		return
	}
	f.mu.Lock()
	f.lastWrite = time.Now()
	f.mu.Unlock()
	if f.registry != nil {
		f.registry.PersistenceFlushes.Inc()
	}
	f.log.Debug().Int("orders", catalog.TotalOrders).Str("path", f.path).Msg("snapshot flushed")
}
