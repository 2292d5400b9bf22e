package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/pluginstats/internal/storage"
	"github.com/scrypster/pluginstats/pkg/types"
)

func TestNewEngine_Errors(t *testing.T) {
	_, err := NewEngine(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxRetries = -1
	_, err = NewEngine(newFlakyStore(t), cfg)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative warn threshold", func(c *Config) { c.QueueWarnThreshold = -1 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"negative backoff", func(c *Config) { c.RetryBackoff = -time.Second }},
		{"negative shutdown timeout", func(c *Config) { c.ShutdownTimeout = -time.Second }},
		{"zero breaker failures", func(c *Config) { c.BreakerMaxFailures = 0 }},
		{"zero batch size", func(c *Config) { c.LoadBatchSize = 0 }},
	}

	def := DefaultConfig()
	require.NoError(t, def.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	_, err := eng.Report(ctx, validReport("Essentials"))
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, eng.Shutdown(ctx), ErrNotStarted)

	require.NoError(t, eng.Start(ctx))
	assert.EqualError(t, eng.Start(ctx), "engine already started")

	require.NoError(t, eng.Shutdown(ctx))
	assert.Error(t, eng.Start(ctx), "a shut down engine cannot be restarted")
}

func TestEngine_ReportIsWrittenByWorker(t *testing.T) {
	eng, store := newTestEngine(t, testConfig())
	ctx := context.Background()

	saved := make(chan int, 10)
	eng.SetOnPluginSaved(func(id int) { saved <- id })

	require.NoError(t, eng.Start(ctx))
	defer func() { _ = eng.Shutdown(ctx) }()

	result, err := eng.Report(ctx, validReport("Essentials"))
	require.NoError(t, err)

	select {
	case id := <-saved:
		assert.Equal(t, result.PluginID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout: onPluginSaved callback never fired")
	}

	stored, err := store.GetPlugin(ctx, result.PluginID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.GlobalHits)

	p, _ := eng.Registry().Get(result.PluginID)
	assert.Equal(t, types.SaveStateClean, p.State())
}

func TestEngine_LoadsExistingPlugins(t *testing.T) {
	eng, store := newTestEngine(t, testConfig())
	ctx := context.Background()

	data, err := store.CreatePlugin(ctx, "Existing", "", 1)
	require.NoError(t, err)
	data.GlobalHits = 41
	require.NoError(t, store.SavePlugin(ctx, data))

	require.NoError(t, eng.Start(ctx))
	result, err := eng.Report(ctx, validReport("existing"))
	require.NoError(t, err)
	require.NoError(t, eng.Shutdown(ctx))

	assert.False(t, result.Created)
	assert.Equal(t, data.ID, result.PluginID)

	stored, err := store.GetPlugin(ctx, data.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, stored.GlobalHits)
}

func TestEngine_StaleEntryIsSkipped(t *testing.T) {
	eng, store := newTestEngine(t, testConfig())
	ctx := context.Background()

	p, _, err := eng.Registry().GetOrCreate(ctx, "Stale", "")
	require.NoError(t, err)

	p.SetGlobalHits(5)
	p.Save()
	require.Equal(t, 1, eng.GetQueueSize())

	require.NoError(t, p.SaveNow(ctx))
	require.Equal(t, types.SaveStateClean, p.State())

	entry, ok := eng.queue.Next(ctx)
	require.True(t, ok)
	eng.processSave(ctx, entry)

	assert.Equal(t, 1, store.saveCount(), "drain of a clean plugin must not write")
	assert.Equal(t, uint64(1), eng.skipped.Load())
	assert.Equal(t, uint64(0), eng.written.Load())
	assert.Equal(t, types.SaveStateClean, p.State())
}

func TestEngine_RetriesFailedWrite(t *testing.T) {
	eng, store := newTestEngine(t, testConfig())
	ctx := context.Background()

	require.NoError(t, eng.Start(ctx))
	defer func() { _ = eng.Shutdown(ctx) }()

	store.setFailures(1)
	result, err := eng.Report(ctx, validReport("Flaky"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return eng.Stats().Written == 1
	}, 2*time.Second, 5*time.Millisecond)

	stats := eng.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(0), stats.GaveUp)

	stored, err := store.GetPlugin(ctx, result.PluginID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.GlobalHits)
}

func TestEngine_GivesUpAfterMaxRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	eng, store := newTestEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, eng.Start(ctx))

	store.setFailures(-1)
	result, err := eng.Report(ctx, validReport("Broken"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return eng.Stats().GaveUp == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, uint64(3), eng.Stats().Failed)
	p, _ := eng.Registry().Get(result.PluginID)
	assert.Equal(t, types.SaveStateDirty, p.State(), "data stays modified after giving up")

	// Shutdown still tries the dirty plugin and reports the failure.
	err = eng.Shutdown(ctx)
	assert.ErrorIs(t, err, errStoreDown)

	// Once the store recovers the plugin is still dirty and can be saved.
	store.setFailures(0)
	require.NoError(t, p.SaveNow(ctx))
	stored, err := store.GetPlugin(ctx, result.PluginID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.GlobalHits)
}

func TestEngine_ShutdownFlushesUnqueuedChanges(t *testing.T) {
	eng, store := newTestEngine(t, testConfig())
	ctx := context.Background()

	require.NoError(t, eng.Start(ctx))

	result, err := eng.Report(ctx, validReport("Essentials"))
	require.NoError(t, err)

	p, _ := eng.Registry().Get(result.PluginID)
	p.SetHidden(1) // modified, never saved

	require.NoError(t, eng.Shutdown(ctx))
	assert.Equal(t, types.SaveStateClean, p.State())

	stored, err := store.GetPlugin(ctx, result.PluginID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Hidden)
	assert.Equal(t, 1, stored.GlobalHits)
}

func TestEngine_ShutdownWaitsForReportInProgress(t *testing.T) {
	store := newGatedStore(t, "2.0")
	eng, err := NewEngine(store, testConfig())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, eng.Start(ctx))

	first, err := eng.Report(ctx, validReport("Essentials"))
	require.NoError(t, err)

	reportDone := make(chan error, 1)
	go func() {
		report := validReport("Essentials")
		report.Version = "2.0"
		_, err := eng.Report(ctx, report)
		reportDone <- err
	}()
	<-store.entered

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- eng.Shutdown(ctx) }()

	select {
	case <-shutdownDone:
		t.Fatal("shutdown returned while a report was still being processed")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	require.NoError(t, <-reportDone)
	require.NoError(t, <-shutdownDone)

	p, ok := eng.Registry().Get(first.PluginID)
	require.True(t, ok)
	assert.Equal(t, types.SaveStateClean, p.State())
	assert.Equal(t, uint64(0), eng.Stats().Rejected)

	stored, err := store.GetPlugin(ctx, first.PluginID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.GlobalHits, "the hit accepted during shutdown is persisted")

	_, err = eng.Report(ctx, validReport("Essentials"))
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestEngine_ConcurrentReportsLoseNoHits(t *testing.T) {
	eng, store := newTestEngine(t, testConfig())
	ctx := context.Background()

	require.NoError(t, eng.Start(ctx))

	const goroutines, perGoroutine = 10, 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, err := eng.Report(ctx, validReport("Busy"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, eng.Shutdown(ctx))

	p, ok := eng.Registry().GetByName("Busy")
	require.True(t, ok)
	stored, err := store.GetPlugin(ctx, p.ID())
	require.NoError(t, err)
	assert.Equal(t, goroutines*perGoroutine, stored.GlobalHits)
	assert.LessOrEqual(t, store.saveCount(), goroutines*perGoroutine+1)
}

func TestEngine_Ping(t *testing.T) {
	eng, store := newTestEngine(t, testConfig())
	ctx := context.Background()

	require.NoError(t, eng.Ping(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, eng.Ping(cancelled))

	require.NoError(t, store.PluginStore.Close())
	assert.Error(t, eng.Ping(ctx))
	assert.Zero(t, eng.Stats().Breaker.TotalRequests, "health checks do not count as writes")
}

func TestEngine_SaveNow(t *testing.T) {
	eng, store := newTestEngine(t, testConfig())
	ctx := context.Background()

	_, err := eng.SaveNow(ctx, 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var savedID int
	eng.SetOnPluginSaved(func(id int) { savedID = id })

	p, _, err := eng.Registry().GetOrCreate(ctx, "Manual", "")
	require.NoError(t, err)
	p.SetGlobalHits(9)

	got, err := eng.SaveNow(ctx, p.ID())
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Equal(t, p.ID(), savedID)

	stored, err := store.GetPlugin(ctx, p.ID())
	require.NoError(t, err)
	assert.Equal(t, 9, stored.GlobalHits)

	store.setFailures(1)
	p.SetGlobalHits(10)
	_, err = eng.SaveNow(ctx, p.ID())
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, types.SaveStateDirty, p.State())
}

func TestEngine_StatsAndViews(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	require.NoError(t, eng.Start(ctx))
	_, err := eng.Report(ctx, validReport("Essentials"))
	require.NoError(t, err)
	require.NoError(t, eng.Shutdown(ctx))

	stats := eng.Stats()
	assert.Equal(t, 1, stats.Plugins)
	assert.Equal(t, 0, stats.QueueLength)
	assert.Equal(t, uint64(1), stats.Offered)
	assert.Equal(t, "closed", stats.BreakerState)
	assert.GreaterOrEqual(t, stats.Breaker.TotalSuccesses, uint64(1))
	assert.Zero(t, stats.Breaker.TotalFailures)

	views := eng.Views()
	require.Len(t, views, 1)
	assert.Equal(t, "Essentials", views[0].Name)
	assert.Equal(t, "clean", views[0].State)
	assert.Len(t, views[0].Graphs, 1)
	assert.Len(t, views[0].Versions, 1)
}
