package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scrypster/pluginstats/internal/storage"
	"github.com/scrypster/pluginstats/pkg/types"
)

// ErrNotStarted is returned by operations that need a running engine.
var ErrNotStarted = errors.New("engine not started")

// Engine owns the plugin registry, the save queue and its worker.
// Reports mutate plugins in memory and schedule deferred saves; the worker
// writes them back through a circuit breaker guarding the store.
type Engine struct {
	config Config
	store  storage.PluginStore

	queue    *SaveQueue
	breaker  *CircuitBreaker
	writer   types.PluginWriter
	registry *Registry
	reports  *ReportProcessor

	// Worker lifecycle
	workerDone   chan struct{}
	workerCancel context.CancelFunc

	// State management
	started      bool
	shuttingDown bool
	mu           sync.RWMutex

	// inflight counts reports being processed. Shutdown waits for it to
	// reach zero before closing the queue.
	inflight sync.WaitGroup

	// Callbacks are guarded separately so the worker can fire them while
	// Shutdown holds mu.
	cbMu          sync.RWMutex
	onPluginSaved func(pluginID int)

	// failures counts consecutive write failures per plugin ID. Only the
	// worker touches it.
	failures map[int]int

	drained atomic.Uint64
	written atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
	gaveUp  atomic.Uint64
}

// NewEngine creates a stats engine backed by store.
// Use DefaultConfig() for sensible defaults.
func NewEngine(store storage.PluginStore, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("plugin store is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		config:   cfg,
		store:    store,
		queue:    NewSaveQueue(cfg.QueueWarnThreshold),
		failures: make(map[int]int),
	}
	e.breaker = NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "plugin-store",
		MaxFailures: cfg.BreakerMaxFailures,
		Timeout:     cfg.BreakerTimeout,
	})
	e.writer = NewGuardedWriter(store, e.breaker)
	e.registry = NewRegistry(store, e.queue, e.writer, cfg.LoadBatchSize)
	e.reports = NewReportProcessor(e.registry)

	return e, nil
}

// SetOnPluginSaved sets a callback fired after a plugin is written, by the
// worker or by SaveNow. It receives the plugin ID.
func (e *Engine) SetOnPluginSaved(callback func(pluginID int)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onPluginSaved = callback
}

func (e *Engine) notifySaved(id int) {
	e.cbMu.RLock()
	cb := e.onPluginSaved
	e.cbMu.RUnlock()
	if cb != nil {
		cb(id)
	}
}

// Start loads every plugin from the store and starts the save worker.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	if e.workerDone != nil {
		return fmt.Errorf("engine cannot be restarted after shutdown")
	}

	log.Println("Starting stats engine...")

	loaded, err := e.registry.Load(ctx)
	if err != nil {
		return err
	}
	log.Printf("Loaded %d plugins", loaded)

	var workerCtx context.Context
	workerCtx, e.workerCancel = context.WithCancel(context.Background())
	e.workerDone = make(chan struct{})
	go e.saveWorker(workerCtx)

	e.started = true
	log.Println("Stats engine started successfully")

	return nil
}

// Shutdown refuses new reports, waits for reports already being processed,
// stops accepting queue entries, drains what is queued within
// ShutdownTimeout, then writes every plugin that still holds changes.
// It returns an error if any of those final writes failed.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrNotStarted
	}

	log.Println("Shutting down stats engine...")
	e.shuttingDown = true

	// Report registers under the read lock, so every report that got past
	// the guard is counted by now.
	e.inflight.Wait()

	e.queue.Close()
	if err := e.stopWorker(ctx); err != nil {
		log.Printf("WARNING: Save worker shutdown had errors: %v", err)
	}

	// Offers rejected after Close, drains cut short and retries that gave up
	// all leave plugins modified; write them directly.
	var (
		failed   int
		firstErr error
	)
	for _, p := range e.registry.Dirty() {
		if err := p.SaveNow(context.Background()); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			log.Printf("ERROR: Failed to save plugin %d on shutdown: %v", p.ID(), err)
			continue
		}
		e.written.Add(1)
	}

	e.started = false
	e.shuttingDown = false

	if failed > 0 {
		return fmt.Errorf("engine: %d plugins not saved on shutdown: %w", failed, firstErr)
	}
	log.Println("Stats engine shut down successfully")
	return nil
}

// stopWorker waits for the worker to drain the closed queue. If the
// timeout or ctx expires first, the worker is cancelled after its current
// write.
func (e *Engine) stopWorker(ctx context.Context) error {
	timeout := e.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case <-e.workerDone:
		return nil
	case <-timer.C:
		err = fmt.Errorf("save queue not drained within %v (%d entries left)", timeout, e.queue.Len())
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.workerCancel()
	<-e.workerDone
	return err
}

// Report applies one report to the registry.
func (e *Engine) Report(ctx context.Context, report Report) (*ReportResult, error) {
	e.mu.RLock()
	if !e.started || e.shuttingDown {
		e.mu.RUnlock()
		return nil, ErrNotStarted
	}
	e.inflight.Add(1)
	e.mu.RUnlock()
	defer e.inflight.Done()

	return e.reports.Process(ctx, report)
}

// SaveNow writes the plugin with the given ID immediately, bypassing the queue.
func (e *Engine) SaveNow(ctx context.Context, id int) (*types.Plugin, error) {
	p, ok := e.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: plugin %d", storage.ErrNotFound, id)
	}
	if err := p.SaveNow(ctx); err != nil {
		return p, err
	}
	e.written.Add(1)
	e.notifySaved(id)
	return p, nil
}

// Registry returns the plugin registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// GetQueueSize returns the current number of queued save entries.
func (e *Engine) GetQueueSize() int {
	return e.queue.Len()
}

// Stats returns a snapshot of the save pipeline counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Plugins:      e.registry.Len(),
		QueueLength:  e.queue.Len(),
		Offered:      e.queue.Offered(),
		Rejected:     e.queue.Rejected(),
		Drained:      e.drained.Load(),
		Written:      e.written.Load(),
		Skipped:      e.skipped.Load(),
		Failed:       e.failed.Load(),
		GaveUp:       e.gaveUp.Load(),
		BreakerState: e.breaker.State(),
		Breaker:      e.breaker.Metrics(),
	}
}

// Ping checks that the store answers before ctx is done.
func (e *Engine) Ping(ctx context.Context) error {
	return e.breaker.HealthCheck(ctx, func() error {
		return e.store.Ping(ctx)
	})
}

// PluginView is a read-only rendering of a plugin for listings and exports.
type PluginView struct {
	types.PluginData
	State    string                 `json:"state"`
	Graphs   []*types.Graph         `json:"graphs"`
	Versions []*types.PluginVersion `json:"versions"`
}

// ViewOf renders p.
func ViewOf(p *types.Plugin) PluginView {
	return PluginView{
		PluginData: p.Snapshot(),
		State:      p.State().String(),
		Graphs:     p.Graphs(),
		Versions:   p.Versions(),
	}
}

// View renders the plugin with the given ID.
func (e *Engine) View(id int) (PluginView, bool) {
	p, ok := e.registry.Get(id)
	if !ok {
		return PluginView{}, false
	}
	return ViewOf(p), true
}

// Views renders every plugin ordered by ID.
func (e *Engine) Views() []PluginView {
	all := e.registry.All()
	views := make([]PluginView, 0, len(all))
	for _, p := range all {
		views = append(views, ViewOf(p))
	}
	return views
}
