package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"wallradar/internal/config"
	"wallradar/internal/metrics"
)

// transport bundles the guards every adapter call passes through: token
// bucket, circuit breaker, per-call timeout and bounded backoff retries.
type transport struct {
	venue    string
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	registry *metrics.Registry
	log      zerolog.Logger
}

func newTransport(venue string, cfg config.VenueConfig, reg *metrics.Registry, log zerolog.Logger) *transport {
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RequestsPerSecond) + 1
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &transport{
		venue:   venue,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        venue,
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("venue", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("venue circuit state changed")
			},
		}),
		timeout:  cfg.RequestTimeout(),
		retries:  retries,
		backoff:  cfg.RetryBackoff(),
		registry: reg,
		log:      log,
	}
}

// do runs one call through the guard stack. fn receives a context bounded by
// the per-call timeout; transient failures are retried with exponential
// backoff, permanent failures return immediately.
func (t *transport) do(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			delay := t.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		_, err := t.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, t.timeout)
			defer cancel()
			return nil, fn(callCtx)
		})
		if t.registry != nil {
			t.registry.VenueRequests.WithLabelValues(t.venue, endpoint).Inc()
			t.registry.VenueDuration.WithLabelValues(t.venue, endpoint).Observe(time.Since(start).Seconds())
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &VenueError{Venue: t.venue, Endpoint: endpoint, Kind: ErrTransientVenue, Err: err}
		}
		if t.registry != nil {
			t.registry.VenueErrors.WithLabelValues(t.venue, errKind(err)).Inc()
		}
		lastErr = err

		var verr *VenueError
		if errors.As(err, &verr) && !verr.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.As(err, &verr) {
			// Not a venue failure at all; retrying will not help.
			return err
		}
		t.log.Debug().Str("endpoint", endpoint).Int("attempt", attempt+1).
			Err(err).Msg("transient venue failure, will retry")
	}
	return lastErr
}

func errKind(err error) string {
	switch {
	case errors.Is(err, ErrPermanentVenue):
		return "permanent"
	case errors.Is(err, ErrTransientVenue):
		return "transient"
	default:
		return "other"
	}
}
