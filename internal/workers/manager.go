// Package workers provides the adaptive worker pool shared by the observer
// and hot stages. Workers own disjoint symbol sets; the manager resizes the
// pool against a configured load staircase and redistributes symbols.
package workers

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wallradar/internal/config"
	"wallradar/internal/metrics"
)

// SymbolFunc processes one owned symbol for one cycle. It is called from a
// single worker at a time for any given symbol.
type SymbolFunc func(ctx context.Context, symbol string)

// Manager owns a resizable set of workers. Scale-up is immediate;
// scale-down drains: a retiring worker finishes its inflight symbol and
// stops. Symbols are partitioned round-robin so no two workers ever share
// one.
type Manager struct {
	name     string
	cfg      config.PoolConfig
	interval time.Duration
	process  SymbolFunc
	registry *metrics.Registry
	log      zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	workers []*worker
	symbols []string
	nextID  int
}

// NewManager builds a manager for one pool. interval is the pause between a
// worker's cycles over its assigned symbols.
func NewManager(name string, cfg config.PoolConfig, interval time.Duration, process SymbolFunc, reg *metrics.Registry, log zerolog.Logger) *Manager {
	return &Manager{
		name:     name,
		cfg:      cfg,
		interval: interval,
		process:  process,
		registry: reg,
		log:      log.With().Str("pool", name).Logger(),
	}
}

// Start spawns the minimum worker count. The pool stops when ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
	m.scaleToLocked(m.cfg.MinWorkers)
}

// Stop drains every worker and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	workers := m.workers
	m.workers = nil
	m.mu.Unlock()
	for _, w := range workers {
		w.cancel()
	}
	for _, w := range workers {
		<-w.done
	}
}

// WorkerCount reports the current pool size.
func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// ResizeForLoad scales the pool for n owned symbols using the staircase:
// the step with the largest threshold not exceeding n wins; loads below the
// first step run at the minimum. The result is clamped to [min, max].
func (m *Manager) ResizeForLoad(n int) {
	target := m.cfg.MinWorkers
	for _, step := range m.cfg.Steps {
		if n >= step.Threshold {
			target = step.Workers
		}
	}
	if target < m.cfg.MinWorkers {
		target = m.cfg.MinWorkers
	}
	if target > m.cfg.MaxWorkers {
		target = m.cfg.MaxWorkers
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil || target == len(m.workers) {
		return
	}
	m.log.Info().Int("load", n).Int("from", len(m.workers)).Int("to", target).
		Msg("resizing worker pool")
	m.scaleToLocked(target)
	m.distributeLocked()
}

// Distribute replaces the symbol partition: sorted input, dealt round-robin
// across the current workers. Each worker's assignment swaps atomically.
func (m *Manager) Distribute(symbols []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols = append([]string(nil), symbols...)
	sort.Strings(m.symbols)
	m.distributeLocked()
}

func (m *Manager) distributeLocked() {
	n := len(m.workers)
	if n == 0 {
		return
	}
	parts := make([][]string, n)
	for i, sym := range m.symbols {
		parts[i%n] = append(parts[i%n], sym)
	}
	for i, w := range m.workers {
		w.setAssigned(parts[i])
	}
}

func (m *Manager) scaleToLocked(target int) {
	for len(m.workers) < target {
		wctx, cancel := context.WithCancel(m.ctx)
		w := &worker{
			id:     m.nextID,
			cancel: cancel,
			done:   make(chan struct{}),
		}
		m.nextID++
		m.workers = append(m.workers, w)
		go m.run(wctx, w)
	}
	for len(m.workers) > target {
		last := m.workers[len(m.workers)-1]
		m.workers = m.workers[:len(m.workers)-1]
		last.cancel()
	}
	if m.registry != nil {
		m.registry.PoolWorkers.WithLabelValues(m.name).Set(float64(len(m.workers)))
	}
}

// run is the worker loop: one pass over the assigned symbols, then a pause.
// A panic anywhere in the pass is logged and the loop continues, which
// restarts the worker body on the next cycle.
func (m *Manager) run(ctx context.Context, w *worker) {
	defer close(w.done)
	log := m.log.With().Int("worker", w.id).Logger()
	log.Debug().Msg("worker started")
	for {
		m.cycle(ctx, w, log)
		select {
		case <-ctx.Done():
			log.Debug().Msg("worker drained")
			return
		case <-time.After(m.interval):
		}
	}
}

func (m *Manager) cycle(ctx context.Context, w *worker, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("worker panic recovered, restarting worker body")
		}
	}()
	for _, sym := range w.snapshot() {
		if ctx.Err() != nil {
			return
		}
		m.process(ctx, sym)
	}
}

type worker struct {
	id     int
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	assigned []string
}

func (w *worker) setAssigned(symbols []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.assigned = symbols
}

func (w *worker) snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.assigned
}
