package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallradar/internal/config"
)

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		MinWorkers: 1,
		MaxWorkers: 3,
		Steps:      []config.LoadStep{{Threshold: 5, Workers: 1}, {Threshold: 10, Workers: 2}, {Threshold: 15, Workers: 3}},
	}
}

func TestResizeFollowsStaircase(t *testing.T) {
	m := NewManager("test", testPoolConfig(), 5*time.Millisecond,
		func(context.Context, string) {}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	cases := []struct {
		load int
		want int
	}{
		{0, 1}, {4, 1}, {5, 1}, {9, 1}, {10, 2}, {14, 2}, {15, 3}, {100, 3},
	}
	for _, tc := range cases {
		m.ResizeForLoad(tc.load)
		assert.Equal(t, tc.want, m.WorkerCount(), "load %d", tc.load)
	}
}

func TestResizeClampsToBounds(t *testing.T) {
	cfg := config.PoolConfig{
		MinWorkers: 2,
		MaxWorkers: 4,
		Steps:      []config.LoadStep{{Threshold: 0, Workers: 1}, {Threshold: 50, Workers: 8}},
	}
	m := NewManager("test", cfg, 5*time.Millisecond,
		func(context.Context, string) {}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	m.ResizeForLoad(0)
	assert.Equal(t, 2, m.WorkerCount(), "below first step clamps to min")
	m.ResizeForLoad(500)
	assert.Equal(t, 4, m.WorkerCount(), "staircase above max clamps to max")
}

func TestDistributePartitionIsDisjointAndComplete(t *testing.T) {
	m := NewManager("test", testPoolConfig(), time.Hour,
		func(context.Context, string) {}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()
	m.ResizeForLoad(15) // 3 workers

	symbols := []string{"ETHUSDT", "BTCUSDT", "SOLUSDT", "ADAUSDT", "XRPUSDT"}
	m.Distribute(symbols)

	seen := map[string]int{}
	for _, w := range m.workers {
		for _, s := range w.snapshot() {
			seen[s]++
		}
	}
	require.Len(t, seen, len(symbols))
	for sym, count := range seen {
		assert.Equal(t, 1, count, "%s assigned to exactly one worker", sym)
	}
}

func TestDistributeIsDeterministic(t *testing.T) {
	build := func(symbols []string) [][]string {
		m := NewManager("test", testPoolConfig(), time.Hour,
			func(context.Context, string) {}, nil, zerolog.Nop())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		m.Start(ctx)
		defer m.Stop()
		m.ResizeForLoad(10) // 2 workers
		m.Distribute(symbols)
		out := make([][]string, 0, len(m.workers))
		for _, w := range m.workers {
			out = append(out, w.snapshot())
		}
		return out
	}

	a := build([]string{"C", "A", "B", "D"})
	b := build([]string{"D", "B", "A", "C"})
	assert.Equal(t, a, b, "partition depends only on the symbol set")
}

func TestWorkersProcessOnlyAssignedSymbols(t *testing.T) {
	var mu sync.Mutex
	processed := map[string]bool{}
	m := NewManager("test", testPoolConfig(), time.Millisecond,
		func(_ context.Context, sym string) {
			mu.Lock()
			processed[sym] = true
			mu.Unlock()
		}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	m.Distribute([]string{"BTCUSDT", "ETHUSDT"})
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return processed["BTCUSDT"] && processed["ETHUSDT"]
	}, time.Second, 5*time.Millisecond)
}

func TestScaleDownDrains(t *testing.T) {
	m := NewManager("test", testPoolConfig(), time.Millisecond,
		func(context.Context, string) {}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	m.ResizeForLoad(15)
	require.Equal(t, 3, m.WorkerCount())
	m.ResizeForLoad(0)
	assert.Equal(t, 1, m.WorkerCount())
}

func TestWorkerSurvivesPanic(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	m := NewManager("test", testPoolConfig(), time.Millisecond,
		func(_ context.Context, sym string) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				panic("boom")
			}
		}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	m.Distribute([]string{"BTCUSDT"})
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, 5*time.Millisecond, "worker keeps processing after a panic")
}
