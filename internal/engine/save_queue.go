package engine

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/scrypster/pluginstats/pkg/types"
)

// SaveQueue is an unbounded FIFO of plugins waiting to be written. Any number
// of goroutines may Offer; exactly one consumer calls Next. Offer never
// blocks and never drops while the queue is open, so a plugin that moved to
// the queued state always has an entry that will be drained.
type SaveQueue struct {
	mu     sync.Mutex
	items  []*types.Plugin
	ready  chan struct{}
	closed bool

	warnThreshold int
	offered       atomic.Uint64
	rejected      atomic.Uint64
}

// NewSaveQueue creates an empty queue. warnThreshold > 0 logs a warning each
// time the length reaches a multiple of it.
func NewSaveQueue(warnThreshold int) *SaveQueue {
	return &SaveQueue{
		ready:         make(chan struct{}, 1),
		warnThreshold: warnThreshold,
	}
}

// Offer appends p to the queue and reports whether it was accepted. After
// Close, offers are rejected and logged; the plugin keeps its changes and the
// engine writes it directly during shutdown.
func (q *SaveQueue) Offer(p *types.Plugin) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.rejected.Add(1)
		log.Printf("WARNING: Save queue closed, plugin %d not queued", p.ID())
		return false
	}

	q.items = append(q.items, p)
	q.offered.Add(1)

	if n := len(q.items); q.warnThreshold > 0 && n%q.warnThreshold == 0 {
		log.Printf("WARNING: Save queue backlog at %d plugins", n)
	}

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Next blocks until a plugin is available and returns it. It returns false
// once the queue is closed and empty, or when ctx is done.
func (q *SaveQueue) Next(ctx context.Context) (*types.Plugin, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			p := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return p, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Close stops accepting offers. Entries already queued can still be drained.
func (q *SaveQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

// Len returns the current number of queued entries.
func (q *SaveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Offered returns the total number of accepted offers.
func (q *SaveQueue) Offered() uint64 {
	return q.offered.Load()
}

// Rejected returns the number of offers refused after Close.
func (q *SaveQueue) Rejected() uint64 {
	return q.rejected.Load()
}
