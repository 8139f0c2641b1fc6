package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"wallradar/internal/config"
	"wallradar/internal/domain"
)

// Relay mirrors every delta onto a redis channel and keeps the latest
// catalog JSON at a fixed key, for consumers outside this process.
type Relay struct {
	client     redis.UniversalClient
	channel    string
	catalogKey string
}

// NewRelay builds a relay over an existing redis client.
func NewRelay(client redis.UniversalClient, cfg config.RedisConfig) *Relay {
	return &Relay{
		client:     client,
		channel:    cfg.Channel,
		catalogKey: cfg.CatalogKey,
	}
}

// Publish pushes the full (private-view) delta to the channel.
func (r *Relay) Publish(ctx context.Context, delta domain.BroadcastDelta) error {
	payload, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish delta: %w", err)
	}
	return nil
}

// StoreCatalog replaces the latest catalog JSON. No TTL: the key always
// holds the most recent complete snapshot.
func (r *Relay) StoreCatalog(ctx context.Context, catalogJSON []byte) error {
	if err := r.client.Set(ctx, r.catalogKey, catalogJSON, 0).Err(); err != nil {
		return fmt.Errorf("store catalog: %w", err)
	}
	return nil
}
