package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wallradar/internal/config"
	"wallradar/internal/domain"
	"wallradar/internal/metrics"
)

// Subscriber is one attached consumer. Frames arrive on C in the order the
// underlying state changes occurred; a subscriber that stops draining C is
// dropped by the hub.
type Subscriber struct {
	ID   string
	Tier Tier
	C    <-chan []byte

	send chan []byte
}

// Hub receives deltas from the hot pool and delivers them per tier.
// Dropping a delta for a healthy subscriber is never allowed; dropping a
// subscriber that fails to accept delivery is.
type Hub struct {
	cfg      config.BroadcastConfig
	registry *metrics.Registry
	relay    *Relay
	log      zerolog.Logger

	queue chan domain.BroadcastDelta
	delay chan delayed

	mu   sync.Mutex
	subs map[string]*Subscriber
}

type delayed struct {
	frame   Frame
	readyAt time.Time
}

// NewHub builds the hub. relay may be nil.
func NewHub(cfg config.BroadcastConfig, relay *Relay, reg *metrics.Registry, log zerolog.Logger) *Hub {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		cfg:      cfg,
		registry: reg,
		relay:    relay,
		log:      log.With().Str("component", "broadcast").Logger(),
		queue:    make(chan domain.BroadcastDelta, queueSize),
		delay:    make(chan delayed, queueSize),
		subs:     make(map[string]*Subscriber),
	}
}

// Broadcast enqueues a delta. Blocks when the hub queue is full so the hot
// pool backs off rather than losing events.
func (h *Hub) Broadcast(ctx context.Context, delta domain.BroadcastDelta) error {
	select {
	case h.queue <- delta:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe attaches a consumer at the given tier.
func (h *Hub) Subscribe(tier Tier) *Subscriber {
	buffer := h.cfg.SubscriberBuffer
	if buffer <= 0 {
		buffer = 64
	}
	send := make(chan []byte, buffer)
	sub := &Subscriber{
		ID:   uuid.NewString(),
		Tier: tier,
		C:    send,
		send: send,
	}
	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()
	h.log.Info().Str("subscriber", sub.ID).Str("tier", string(tier)).Msg("subscriber attached")
	return sub
}

// Unsubscribe detaches a consumer and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		close(sub.send)
	}
}

// SubscriberCount reports attached consumers per tier.
func (h *Hub) SubscriberCount() map[Tier]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[Tier]int{TierPrivate: 0, TierVIP: 0, TierPublic: 0}
	for _, s := range h.subs {
		out[s.Tier]++
	}
	return out
}

// Run dispatches queued deltas until ctx is cancelled. Public frames pass
// through the delay lane, which preserves arrival order because every frame
// carries the same configured delay.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.runDelayLane(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			h.closeAll()
			return
		case delta := <-h.queue:
			h.dispatch(ctx, delta)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, delta domain.BroadcastDelta) {
	if frame := frameFor(TierPrivate, delta); frame != nil {
		h.deliver(TierPrivate, *frame)
	}
	if frame := frameFor(TierVIP, delta); frame != nil {
		h.deliver(TierVIP, *frame)
	}
	if frame := frameFor(TierPublic, delta); frame != nil {
		item := delayed{
			frame:   *frame,
			readyAt: time.Now().Add(time.Duration(h.cfg.PublicDelayMS) * time.Millisecond),
		}
		select {
		case h.delay <- item:
		case <-ctx.Done():
		}
	}
	if h.relay != nil {
		if err := h.relay.Publish(ctx, delta); err != nil {
			h.log.Warn().Err(err).Msg("redis relay publish failed")
		}
	}
}

func (h *Hub) runDelayLane(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-h.delay:
			if wait := time.Until(item.readyAt); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
			h.deliver(TierPublic, item.frame)
		}
	}
}

// deliver marshals once and pushes to every subscriber of the tier. A full
// subscriber buffer drops that subscriber, never the frame for the others.
func (h *Hub) deliver(tier Tier, frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.Error().Err(err).Msg("frame marshal failed")
		return
	}

	h.mu.Lock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		if s.Tier == tier {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		select {
		case s.send <- payload:
			if h.registry != nil {
				h.registry.BroadcastDeltas.WithLabelValues(string(tier)).Inc()
			}
		default:
			h.log.Warn().Str("subscriber", s.ID).Str("tier", string(tier)).
				Msg("subscriber too slow, dropping it")
			if h.registry != nil {
				h.registry.DroppedSubscribers.WithLabelValues(string(tier)).Inc()
			}
			h.Unsubscribe(s.ID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscriber)
	h.mu.Unlock()
	for _, s := range subs {
		close(s.send)
	}
}
