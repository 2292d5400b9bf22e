package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/pluginstats/internal/storage/sqlite"
	"github.com/scrypster/pluginstats/pkg/types"
)

var errStoreDown = errors.New("store down")

// flakyStore wraps an in-memory SQLite store and can fail SavePlugin calls.
type flakyStore struct {
	*sqlite.PluginStore

	mu       sync.Mutex
	failNext int // SavePlugin calls left to fail; negative fails forever
	saves    []types.PluginData
}

func newFlakyStore(t *testing.T) *flakyStore {
	t.Helper()
	inner, err := sqlite.NewPluginStore(":memory:")
	require.NoError(t, err, "failed to create test store")
	t.Cleanup(func() { _ = inner.Close() })
	return &flakyStore{PluginStore: inner}
}

func (s *flakyStore) SavePlugin(ctx context.Context, data types.PluginData) error {
	s.mu.Lock()
	if s.failNext != 0 {
		if s.failNext > 0 {
			s.failNext--
		}
		s.mu.Unlock()
		return errStoreDown
	}
	s.saves = append(s.saves, data)
	s.mu.Unlock()
	return s.PluginStore.SavePlugin(ctx, data)
}

func (s *flakyStore) setFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *flakyStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

// gatedStore blocks CreateVersion for one label until release is closed.
type gatedStore struct {
	*sqlite.PluginStore

	label   string
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(t *testing.T, label string) *gatedStore {
	t.Helper()
	inner, err := sqlite.NewPluginStore(":memory:")
	require.NoError(t, err, "failed to create test store")
	t.Cleanup(func() { _ = inner.Close() })
	return &gatedStore{
		PluginStore: inner,
		label:       label,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (s *gatedStore) CreateVersion(ctx context.Context, v *types.PluginVersion) error {
	if v.Version == s.label {
		close(s.entered)
		<-s.release
	}
	return s.PluginStore.CreateVersion(ctx, v)
}

// testConfig returns a config with short delays for tests.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.BreakerMaxFailures = 100
	return cfg
}

// newTestEngine creates an engine over a flaky in-memory store.
func newTestEngine(t *testing.T, cfg Config) (*Engine, *flakyStore) {
	t.Helper()
	store := newFlakyStore(t)
	eng, err := NewEngine(store, cfg)
	require.NoError(t, err)
	return eng, store
}

func validReport(name string) Report {
	return Report{
		PluginName: name,
		GUID:       "9b2f5c1e-7d0a-4f63-a3a2-0c1d2e3f4a5b",
		Authors:    "alice",
		Version:    "1.0",
	}
}
