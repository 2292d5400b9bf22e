package engine

import (
	"context"
	"log"
	"time"

	"github.com/scrypster/pluginstats/pkg/types"
)

// saveWorker is the single consumer of the save queue. It runs until the
// queue is closed and drained, or ctx is cancelled.
func (e *Engine) saveWorker(ctx context.Context) {
	defer close(e.workerDone)

	log.Printf("Save worker started")

	for {
		p, ok := e.queue.Next(ctx)
		if !ok {
			break
		}
		e.processSave(ctx, p)
	}

	log.Printf("Save worker stopped")
}

// processSave drains one queue entry. Entries for plugins that are already
// clean are skipped. A failed write is re-queued up to MaxRetries times with
// quadratic backoff; after that the plugin is left dirty so the next report
// queues it again.
func (e *Engine) processSave(ctx context.Context, p *types.Plugin) {
	e.drained.Add(1)
	id := p.ID()

	if attempt := e.failures[id]; attempt > 0 {
		backoff := time.Duration(attempt*attempt) * e.config.RetryBackoff // 1x, 4x, 9x...
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
	}

	// Use background context for database writes so shutdown doesn't cut them off
	dbCtx := context.Background()

	wrote, err := p.Flush(dbCtx)
	if err != nil {
		e.failed.Add(1)
		attempt := e.failures[id] + 1
		if attempt > e.config.MaxRetries {
			delete(e.failures, id)
			e.gaveUp.Add(1)
			log.Printf("ERROR: Save worker giving up on plugin %d after %d attempts: %v", id, attempt, err)
			return
		}
		e.failures[id] = attempt
		log.Printf("WARNING: Save worker failed to write plugin %d (attempt %d/%d): %v",
			id, attempt, e.config.MaxRetries, err)
		p.Save()
		return
	}

	delete(e.failures, id)
	if !wrote {
		e.skipped.Add(1)
		return
	}

	e.written.Add(1)
	e.notifySaved(id)
}
