// Package engine keeps plugins in memory, applies incoming reports to them and
// writes them back to storage through a coalescing save queue drained by a
// single background worker.
package engine

import (
	"fmt"
	"time"

	"github.com/scrypster/pluginstats/pkg/types"
)

// Config holds configuration for the stats engine.
type Config struct {
	// QueueWarnThreshold logs a warning each time the save queue grows past
	// a multiple of this length (default: 10000, 0 disables).
	QueueWarnThreshold int

	// MaxRetries is how many times a failed write is re-queued before the
	// plugin is left dirty for the next report to pick up (default: 3).
	MaxRetries int

	// RetryBackoff is the base delay before a retry; attempt n waits n*n*RetryBackoff (default: 100ms).
	RetryBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for the queue to drain on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// BreakerMaxFailures is the number of consecutive store failures that
	// open the circuit breaker (default: 5).
	BreakerMaxFailures uint32

	// BreakerTimeout is how long the breaker stays open before probing (default: 30s).
	BreakerTimeout time.Duration

	// LoadBatchSize is the page size used when loading plugins at startup (default: 1000).
	LoadBatchSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueWarnThreshold: 10000,
		MaxRetries:         3,
		RetryBackoff:       100 * time.Millisecond,
		ShutdownTimeout:    30 * time.Second,
		BreakerMaxFailures: 5,
		BreakerTimeout:     30 * time.Second,
		LoadBatchSize:      1000,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.QueueWarnThreshold < 0 {
		return fmt.Errorf("QueueWarnThreshold must be >= 0, got %d", c.QueueWarnThreshold)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", c.MaxRetries)
	}

	if c.RetryBackoff < 0 {
		return fmt.Errorf("RetryBackoff must be >= 0, got %v", c.RetryBackoff)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}

	if c.BreakerMaxFailures < 1 {
		return fmt.Errorf("BreakerMaxFailures must be >= 1, got %d", c.BreakerMaxFailures)
	}

	if c.LoadBatchSize < 1 {
		return fmt.Errorf("LoadBatchSize must be >= 1, got %d", c.LoadBatchSize)
	}

	return nil
}

// Report is one plugin usage report sent by a server.
type Report struct {
	// PluginName is the reported plugin, taken from the request path.
	PluginName string `json:"-"`

	// GUID identifies the reporting server. It must be a UUID.
	GUID string `json:"guid"`

	// Authors is the author list the plugin declares.
	Authors string `json:"authors,omitempty"`

	// Version is the plugin version the server is running.
	Version string `json:"version,omitempty"`

	// Ping marks a keep-alive report that must not count as a startup.
	Ping bool `json:"ping,omitempty"`
}

// ReportResult describes what processing a report did.
type ReportResult struct {
	PluginID   int             `json:"plugin_id"`
	TargetID   int             `json:"target_id"` // differs from PluginID when data rolled up to a parent
	Created    bool            `json:"created"`
	VersionID  int             `json:"version_id,omitempty"`
	GlobalHits int             `json:"global_hits"`
	State      types.SaveState `json:"-"`
	StateName  string          `json:"state"`
}

// Stats is a point-in-time view of the save pipeline.
type Stats struct {
	Plugins      int    `json:"plugins"`
	QueueLength  int    `json:"queue_length"`
	Offered      uint64 `json:"offered"`
	Rejected     uint64 `json:"rejected"`
	Drained      uint64 `json:"drained"`
	Written      uint64 `json:"written"`
	Skipped      uint64 `json:"skipped"`
	Failed       uint64 `json:"failed"`
	GaveUp       uint64 `json:"gave_up"`
	BreakerState string `json:"breaker_state"`

	Breaker CircuitBreakerMetrics `json:"breaker"`
}
