package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallradar/internal/config"
	"wallradar/internal/domain"
)

func testHubConfig() config.BroadcastConfig {
	return config.BroadcastConfig{
		QueueSize:        16,
		SubscriberBuffer: 4,
		PublicDelayMS:    30,
	}
}

func goldDelta() domain.BroadcastDelta {
	return domain.BroadcastDelta{
		Type:      domain.DeltaUpdate,
		Timestamp: time.Now().UTC(),
		Order: &domain.HotOrderView{
			Fingerprint: "abc123",
			PriceKey:    "51000.00",
			Symbol:      "BTCUSDT",
			Exchange:    "binance",
			USDValue:    255_000,
			Weight:      0.5,
			Category:    domain.CategoryGold,
		},
	}
}

func diamondDelta() domain.BroadcastDelta {
	d := goldDelta()
	d.Order.Weight = 0.7
	d.Order.Category = domain.CategoryDiamond
	return d
}

func recvFrame(t *testing.T, c <-chan []byte, within time.Duration) Frame {
	t.Helper()
	select {
	case payload := <-c:
		var f Frame
		require.NoError(t, json.Unmarshal(payload, &f))
		return f
	case <-time.After(within):
		t.Fatal("no frame received")
		return Frame{}
	}
}

func TestPrivateSeesFullRecord(t *testing.T) {
	h := NewHub(testHubConfig(), nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	sub := h.Subscribe(TierPrivate)
	require.NoError(t, h.Broadcast(ctx, goldDelta()))

	f := recvFrame(t, sub.C, time.Second)
	assert.Equal(t, TierPrivate, f.AccessLevel)
	data, _ := json.Marshal(f.Data)
	assert.Contains(t, string(data), "abc123", "private view keeps the fingerprint")
}

func TestVIPViewStripsInternalFields(t *testing.T) {
	h := NewHub(testHubConfig(), nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	sub := h.Subscribe(TierVIP)
	require.NoError(t, h.Broadcast(ctx, goldDelta()))

	f := recvFrame(t, sub.C, time.Second)
	data, _ := json.Marshal(f.Data)
	assert.NotContains(t, string(data), "abc123")
	assert.NotContains(t, string(data), "price_key")
	assert.Contains(t, string(data), "BTCUSDT")
}

func TestPublicOnlySeesDelayedDiamonds(t *testing.T) {
	h := NewHub(testHubConfig(), nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	sub := h.Subscribe(TierPublic)

	// Gold never reaches the public tier.
	require.NoError(t, h.Broadcast(ctx, goldDelta()))
	select {
	case <-sub.C:
		t.Fatal("public tier received a non-diamond delta")
	case <-time.After(100 * time.Millisecond):
	}

	start := time.Now()
	require.NoError(t, h.Broadcast(ctx, diamondDelta()))
	f := recvFrame(t, sub.C, time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "public data is delayed")
	assert.Equal(t, PublicDisclaimer, f.Disclaimer)

	// Minimal projection only.
	data, _ := json.Marshal(f.Data)
	assert.NotContains(t, string(data), "abc123")
	assert.NotContains(t, string(data), "scan_count")
	assert.Contains(t, string(data), "usd_value")
}

func TestDeltasArriveInOrder(t *testing.T) {
	h := NewHub(testHubConfig(), nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	sub := h.Subscribe(TierPrivate)
	types := []domain.DeltaType{domain.DeltaAdmit, domain.DeltaUpdate, domain.DeltaRemove}
	for _, dt := range types {
		d := goldDelta()
		d.Type = dt
		require.NoError(t, h.Broadcast(ctx, d))
	}
	for _, want := range types {
		f := recvFrame(t, sub.C, time.Second)
		assert.Equal(t, want, f.Type)
	}
}

func TestSlowSubscriberIsDroppedOthersKeepReceiving(t *testing.T) {
	cfg := testHubConfig()
	cfg.SubscriberBuffer = 1
	h := NewHub(cfg, nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := h.Subscribe(TierPrivate) // never drained
	healthy := h.Subscribe(TierPrivate)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Broadcast(ctx, goldDelta()))
		recvFrame(t, healthy.C, time.Second)
	}

	assert.Eventually(t, func() bool {
		return h.SubscriberCount()[TierPrivate] == 1
	}, time.Second, 5*time.Millisecond, "slow subscriber dropped")

	// The slow subscriber's channel is closed after the drop.
	_ = slow
}

func TestResolveTier(t *testing.T) {
	vip := []string{"vip-1", "vip-2"}
	assert.Equal(t, TierPrivate, ResolveTier("secret", "secret", vip))
	assert.Equal(t, TierVIP, ResolveTier("vip-2", "secret", vip))
	assert.Equal(t, TierPublic, ResolveTier("nope", "secret", vip))
	assert.Equal(t, TierPublic, ResolveTier("", "", nil))
}
