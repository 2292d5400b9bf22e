package types

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNoWriter is returned by SaveNow and Flush when the plugin was built
// without a PluginWriter.
var ErrNoWriter = errors.New("plugin has no writer")

// PluginData is a value snapshot of a plugin's scalar attributes.
// Stores read and write PluginData, never the live Plugin.
type PluginData struct {
	ID          int    `json:"id"`
	Parent      int    `json:"parent,omitempty"` // 0 means no parent
	Name        string `json:"name"`
	Authors     string `json:"authors"`
	Hidden      int    `json:"hidden"`
	GlobalHits  int    `json:"global_hits"`
	Created     int64  `json:"created"`      // unix epoch
	LastUpdated int64  `json:"last_updated"` // unix epoch
}

// SaveQueue accepts plugins for deferred persistence.
// Offer must never block the caller. It returns false when the queue no
// longer accepts entries.
type SaveQueue interface {
	Offer(p *Plugin) bool
}

// PluginWriter durably writes one plugin snapshot.
type PluginWriter interface {
	SavePlugin(ctx context.Context, data PluginData) error
}

// Plugin is the in-memory record for one reported plugin. Every attribute
// writer marks it modified; Save coalesces any number of modifications into
// a single queue entry and SaveNow writes synchronously.
//
// Identity (Equal, Key) depends only on ID. Comparing plugins or using Key as
// a map key before the ID is assigned gives meaningless results.
type Plugin struct {
	mu       sync.RWMutex
	data     PluginData
	state    SaveState
	graphs   map[string]*Graph
	versions *VersionIndex

	// writeMu serializes store writes so snapshots land in the order taken.
	// It is always acquired before mu.
	writeMu sync.Mutex

	queue  SaveQueue
	writer PluginWriter
}

// NewPlugin creates a clean plugin holding data. Either collaborator may be
// nil: without a queue Save leaves the plugin dirty, without a writer
// SaveNow and Flush fail with ErrNoWriter.
func NewPlugin(data PluginData, queue SaveQueue, writer PluginWriter) *Plugin {
	return &Plugin{
		data:     data,
		state:    SaveStateClean,
		graphs:   make(map[string]*Graph),
		versions: NewVersionIndex(),
		queue:    queue,
		writer:   writer,
	}
}

// Equal reports whether p and other have the same ID.
func (p *Plugin) Equal(other *Plugin) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p == other {
		return true
	}
	return p.ID() == other.ID()
}

// Key returns the identity hash of the plugin, which is its ID.
func (p *Plugin) Key() int {
	return p.ID()
}

// Snapshot returns a copy of the current scalar attributes.
func (p *Plugin) Snapshot() PluginData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data
}

// State returns the current save state.
func (p *Plugin) State() SaveState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Modified reports whether an attribute changed since the last save call.
func (p *Plugin) Modified() bool {
	return p.State().Modified()
}

// QueuedForSave reports whether the plugin has an outstanding queue entry.
func (p *Plugin) QueuedForSave() bool {
	return p.State().Queued()
}

func (p *Plugin) ID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data.ID
}

func (p *Plugin) SetID(id int) {
	p.update(func(d *PluginData) { d.ID = id })
}

func (p *Plugin) Parent() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data.Parent
}

// SetParent changes the parent without marking the plugin modified.
// The parent is administrative and only persisted by the next write that
// happens for another reason.
func (p *Plugin) SetParent(parent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data.Parent = parent
}

func (p *Plugin) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data.Name
}

func (p *Plugin) SetName(name string) {
	p.update(func(d *PluginData) { d.Name = name })
}

func (p *Plugin) Authors() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data.Authors
}

func (p *Plugin) SetAuthors(authors string) {
	p.update(func(d *PluginData) { d.Authors = authors })
}

func (p *Plugin) Hidden() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data.Hidden
}

func (p *Plugin) SetHidden(hidden int) {
	p.update(func(d *PluginData) { d.Hidden = hidden })
}

func (p *Plugin) GlobalHits() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data.GlobalHits
}

func (p *Plugin) SetGlobalHits(hits int) {
	p.update(func(d *PluginData) { d.GlobalHits = hits })
}

// IncrementGlobalHits adds n to the hit counter and returns the new total.
func (p *Plugin) IncrementGlobalHits(n int) int {
	var total int
	p.update(func(d *PluginData) {
		d.GlobalHits += n
		total = d.GlobalHits
	})
	return total
}

func (p *Plugin) Created() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data.Created
}

// SetCreated changes the creation time without marking the plugin modified,
// like SetParent.
func (p *Plugin) SetCreated(created int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data.Created = created
}

func (p *Plugin) LastUpdated() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data.LastUpdated
}

func (p *Plugin) SetLastUpdated(lastUpdated int64) {
	p.update(func(d *PluginData) { d.LastUpdated = lastUpdated })
}

// update applies fn to the attributes and marks the plugin modified.
func (p *Plugin) update(fn func(d *PluginData)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.data)
	p.state = p.state.touched()
}

// Save schedules a deferred write. A dirty plugin is offered to the queue
// once; while that entry is outstanding further calls only clear the
// modified mark. The queued entry still writes the latest values because
// the consumer snapshots at drain time. Save on a clean plugin does nothing.
// If the queue refuses the entry the plugin stays dirty.
func (p *Plugin) Save() {
	p.mu.Lock()
	switch p.state {
	case SaveStateQueued, SaveStateQueuedDirty:
		p.state = SaveStateQueued
		p.mu.Unlock()
		return
	case SaveStateDirty:
		if p.queue == nil {
			p.mu.Unlock()
			return
		}
		p.state = SaveStateQueued
	default:
		p.mu.Unlock()
		return
	}
	queue := p.queue
	p.mu.Unlock()

	if queue.Offer(p) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// A SaveNow may have cleaned the plugin meanwhile; only undo our own mark.
	if p.state.Queued() {
		p.state = SaveStateDirty
	}
}

// SaveNow writes the current attributes immediately, bypassing the queue,
// and leaves the plugin clean. It writes on every call, including when
// nothing changed. An outstanding queue entry is not removed; its later
// drain finds the plugin clean and skips the write.
//
// If the write fails the plugin is marked modified again and the error is
// returned, so the next Save or drain retries with current values.
func (p *Plugin) SaveNow(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	data := p.data
	prev := p.state
	p.state = SaveStateClean
	writer := p.writer
	p.mu.Unlock()

	err := ErrNoWriter
	if writer != nil {
		err = writer.SavePlugin(ctx, data)
	}
	if err != nil {
		p.restore(prev.Queued())
		return err
	}
	return nil
}

// Flush is the queue consumer's side of Save: it writes the current
// attributes unless the plugin is already clean, in which case the entry is
// stale (a SaveNow got there first) and Flush returns false without writing.
//
// On failure the plugin is marked modified again and the error is returned;
// the consumer decides whether to call Save again.
func (p *Plugin) Flush(ctx context.Context) (bool, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	if p.state == SaveStateClean {
		p.mu.Unlock()
		return false, nil
	}
	data := p.data
	p.state = SaveStateClean
	writer := p.writer
	p.mu.Unlock()

	err := ErrNoWriter
	if writer != nil {
		err = writer.SavePlugin(ctx, data)
	}
	if err != nil {
		p.restore(false)
		return false, err
	}
	return true, nil
}

// restore marks the plugin modified after a failed write. entryPending says
// whether a queue entry taken before the write is still outstanding.
func (p *Plugin) restore(entryPending bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entryPending || p.state.Queued() {
		p.state = SaveStateQueuedDirty
		return
	}
	p.state = SaveStateDirty
}

// AddGraph adds or replaces the graph stored under g.Name.
func (p *Plugin) AddGraph(g *Graph) {
	if g == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.graphs[g.Name] = g
}

// Graph returns the loaded graph with the given name.
func (p *Plugin) Graph(name string) (*Graph, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.graphs[name]
	return g, ok
}

// Graphs returns the loaded graphs ordered by position, then name.
func (p *Plugin) Graphs() []*Graph {
	p.mu.RLock()
	out := make([]*Graph, 0, len(p.graphs))
	for _, g := range p.graphs {
		out = append(out, g)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// AddVersion indexes v by both its id and its version label.
func (p *Plugin) AddVersion(v *PluginVersion) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.versions.Add(v)
}

// VersionByID returns the version with the given database id.
func (p *Plugin) VersionByID(id int) (*PluginVersion, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.versions.ByID(id)
}

// VersionByName returns the version with the given label.
func (p *Plugin) VersionByName(version string) (*PluginVersion, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.versions.ByName(version)
}

// Versions returns the known versions ordered by id.
func (p *Plugin) Versions() []*PluginVersion {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.versions.All()
}
