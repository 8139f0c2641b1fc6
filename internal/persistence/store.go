// Package persistence writes the hot catalog snapshot and the primary scan
// report. Snapshot writes are atomic (temp file in the same directory, then
// rename) so a concurrent reader never sees a partial document.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"wallradar/internal/domain"
)

// Catalog is the persisted hot-orders document, the process's only durable
// artifact. Orders are sorted by recommended weight descending.
type Catalog struct {
	Timestamp     time.Time                     `json:"timestamp"`
	Exchange      string                        `json:"exchange"`
	TotalOrders   int                           `json:"total_orders"`
	ActiveSymbols int                           `json:"active_symbols"`
	Categories    map[domain.WeightCategory]int `json:"categories"`
	Orders        []domain.HotOrderView         `json:"orders"`
}

// WriteAtomic replaces path with the JSON encoding of v in one rename.
func WriteAtomic(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ReadCatalog loads the current snapshot, for the HTTP surface and tests.
func ReadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &c, nil
}
