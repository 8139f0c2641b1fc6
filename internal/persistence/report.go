package persistence

import (
	"fmt"
	"path/filepath"
	"time"
)

// WriteScanReport stores a primary-scan report as a timestamped pretty-JSON
// artifact and returns the path written.
func WriteScanReport(dir string, report interface{}) (string, error) {
	name := fmt.Sprintf("scan-%s.json", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := WriteAtomic(path, report); err != nil {
		return "", fmt.Errorf("write scan report: %w", err)
	}
	return path, nil
}
