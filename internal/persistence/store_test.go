package persistence

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallradar/internal/domain"
)

func sampleCatalog(total int) Catalog {
	orders := make([]domain.HotOrderView, 0, total)
	for i := 0; i < total; i++ {
		orders = append(orders, domain.HotOrderView{
			Symbol:   "BTCUSDT",
			Exchange: "binance",
			USDValue: float64(100_000 * (i + 1)),
			Category: domain.CategoryGold,
		})
	}
	return Catalog{
		Timestamp:     time.Now().UTC(),
		Exchange:      "binance",
		TotalOrders:   total,
		ActiveSymbols: 1,
		Categories:    map[domain.WeightCategory]int{domain.CategoryGold: total},
		Orders:        orders,
	}
}

func TestWriteAtomicRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hot_orders.json")
	require.NoError(t, WriteAtomic(path, sampleCatalog(3)))

	got, err := ReadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalOrders)
	assert.Len(t, got.Orders, 3)
	assert.Equal(t, "binance", got.Exchange)
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hot_orders.json")
	for i := 0; i < 5; i++ {
		require.NoError(t, WriteAtomic(path, sampleCatalog(i)))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hot_orders.json", entries[0].Name())
}

// A reader racing concurrent writers must always decode a complete document.
func TestConcurrentReaderNeverSeesPartialWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hot_orders.json")
	require.NoError(t, WriteAtomic(path, sampleCatalog(50)))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if err := WriteAtomic(path, sampleCatalog(50+i%10)); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		got, err := ReadCatalog(path)
		require.NoError(t, err, "read %d", i)
		assert.Len(t, got.Orders, got.TotalOrders)
	}
	close(done)
	wg.Wait()
}

func TestFlusherCoalescesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hot_orders.json")
	var mu sync.Mutex
	builds := 0
	f := NewFlusher(path, 50*time.Millisecond, func() Catalog {
		mu.Lock()
		builds++
		mu.Unlock()
		return sampleCatalog(1)
	}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx)

	for i := 0; i < 20; i++ {
		f.Request()
	}
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	cancel()

	// 20 requests in one burst produce far fewer writes than requests.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return builds >= 1 && builds <= 3
	}, time.Second, 5*time.Millisecond)
}

func TestFlusherRetriesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	// A regular file where the snapshot directory should be makes every
	// write fail with ENOTDIR until it is removed.
	obstacle := filepath.Join(dir, "snapshots")
	require.NoError(t, os.WriteFile(obstacle, []byte("in the way"), 0o644))
	blocked := filepath.Join(obstacle, "hot_orders.json")

	f := NewFlusher(blocked, 10*time.Millisecond, func() Catalog {
		return sampleCatalog(1)
	}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Request()
	time.Sleep(50 * time.Millisecond)
	_, err := os.Stat(blocked)
	assert.Error(t, err, "write blocked while the path is obstructed")

	// Unblock and request again: the pending flush succeeds.
	require.NoError(t, os.Remove(obstacle))
	f.Request()
	assert.Eventually(t, func() bool {
		_, err := os.Stat(blocked)
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestWriteScanReport(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteScanReport(dir, map[string]int{"walls": 4})
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.FileExists(t, path)
}
