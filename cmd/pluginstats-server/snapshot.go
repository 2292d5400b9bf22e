package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/natefinch/atomic"

	"github.com/scrypster/pluginstats/internal/engine"
)

// snapshot is the on-disk export of every plugin.
type snapshot struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Plugins     []engine.PluginView `json:"plugins"`
}

// writeSnapshot replaces path with a JSON export of views. Readers never see
// a partially written file.
func writeSnapshot(path string, views []engine.PluginView) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot{GeneratedAt: time.Now().UTC(), Plugins: views}); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}
