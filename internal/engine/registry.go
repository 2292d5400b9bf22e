package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/pluginstats/internal/storage"
	"github.com/scrypster/pluginstats/pkg/types"
)

// Registry holds every known plugin for the lifetime of the process.
// Plugins are indexed by ID and by case-insensitive name. Graphs and
// versions are created on first use and added to the owning plugin.
type Registry struct {
	store  storage.PluginStore
	queue  types.SaveQueue
	writer types.PluginWriter

	mu     sync.RWMutex
	byID   map[int]*types.Plugin
	byName map[string]*types.Plugin

	// createMu serializes first-seen inserts so concurrent reports for a new
	// plugin, graph or version create exactly one record.
	createMu sync.Mutex

	batchSize int
	now       func() time.Time
}

// NewRegistry creates an empty registry. Plugins it builds offer themselves
// to queue and write through writer.
func NewRegistry(store storage.PluginStore, queue types.SaveQueue, writer types.PluginWriter, batchSize int) *Registry {
	if batchSize < 1 {
		batchSize = 1000
	}
	return &Registry{
		store:     store,
		queue:     queue,
		writer:    writer,
		byID:      make(map[int]*types.Plugin),
		byName:    make(map[string]*types.Plugin),
		batchSize: batchSize,
		now:       time.Now,
	}
}

func nameKey(name string) string {
	return strings.ToLower(name)
}

// Load reads every plugin with its graphs and versions from the store.
// Loaded plugins start clean. Plugins already in the registry are kept.
func (r *Registry) Load(ctx context.Context) (int, error) {
	loaded := 0
	opts := storage.ListOptions{Page: 1, Limit: r.batchSize, IncludeHidden: true}
	for {
		result, err := r.store.ListPlugins(ctx, opts)
		if err != nil {
			return loaded, fmt.Errorf("engine: failed to load plugins: %w", err)
		}
		for _, data := range result.Items {
			if r.add(types.NewPlugin(data, r.queue, r.writer)) {
				loaded++
			}
		}
		if !result.HasMore {
			break
		}
		opts.Page++
	}

	graphs, err := r.store.ListGraphs(ctx, 0)
	if err != nil {
		return loaded, fmt.Errorf("engine: failed to load graphs: %w", err)
	}
	for _, g := range graphs {
		if p, ok := r.Get(g.PluginID); ok {
			p.AddGraph(g)
		}
	}

	versions, err := r.store.ListVersions(ctx, 0)
	if err != nil {
		return loaded, fmt.Errorf("engine: failed to load versions: %w", err)
	}
	for _, v := range versions {
		if p, ok := r.Get(v.PluginID); ok {
			p.AddVersion(v)
		}
	}

	return loaded, nil
}

// add indexes p unless a plugin with the same ID is already present.
func (r *Registry) add(p *types.Plugin) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID()]; ok {
		return false
	}
	r.byID[p.ID()] = p
	r.byName[nameKey(p.Name())] = p
	return true
}

// Get returns the plugin with the given ID.
func (r *Registry) Get(id int) (*types.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// GetByName returns the plugin with the given name, ignoring case.
func (r *Registry) GetByName(name string) (*types.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[nameKey(name)]
	return p, ok
}

// Resolve returns the plugin that data for p should be recorded against:
// its parent when p has one that is known, otherwise p itself.
func (r *Registry) Resolve(p *types.Plugin) *types.Plugin {
	parent := p.Parent()
	if parent == 0 || parent == p.ID() {
		return p
	}
	if target, ok := r.Get(parent); ok {
		return target
	}
	log.Printf("WARNING: Plugin %d has unknown parent %d", p.ID(), parent)
	return p
}

// All returns every plugin ordered by ID.
func (r *Registry) All() []*types.Plugin {
	r.mu.RLock()
	out := make([]*types.Plugin, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Dirty returns every plugin holding changes that are not yet stored.
func (r *Registry) Dirty() []*types.Plugin {
	var out []*types.Plugin
	for _, p := range r.All() {
		if p.State() != types.SaveStateClean {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// GetOrCreate returns the plugin called name, inserting it into the store
// first if it has never been seen. created reports whether it was inserted.
func (r *Registry) GetOrCreate(ctx context.Context, name, authors string) (p *types.Plugin, created bool, err error) {
	if p, ok := r.GetByName(name); ok {
		return p, false, nil
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	if p, ok := r.GetByName(name); ok {
		return p, false, nil
	}

	data, err := r.store.CreatePlugin(ctx, name, authors, r.now().Unix())
	if errors.Is(err, storage.ErrConflict) {
		// Inserted outside this process since Load; pick it up from the store.
		data, err = r.findStored(ctx, name)
		if err != nil {
			return nil, false, err
		}
		p = types.NewPlugin(data, r.queue, r.writer)
		r.add(p)
		return p, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	p = types.NewPlugin(data, r.queue, r.writer)
	r.add(p)
	log.Printf("Registered new plugin %q (id %d)", name, data.ID)
	return p, true, nil
}

func (r *Registry) findStored(ctx context.Context, name string) (types.PluginData, error) {
	opts := storage.ListOptions{Page: 1, Limit: r.batchSize, IncludeHidden: true}
	for {
		result, err := r.store.ListPlugins(ctx, opts)
		if err != nil {
			return types.PluginData{}, err
		}
		for _, data := range result.Items {
			if strings.EqualFold(data.Name, name) {
				return data, nil
			}
		}
		if !result.HasMore {
			return types.PluginData{}, fmt.Errorf("%w: plugin %q", storage.ErrNotFound, name)
		}
		opts.Page++
	}
}

// VersionFor returns p's version with the given label, creating it on first use.
func (r *Registry) VersionFor(ctx context.Context, p *types.Plugin, label string) (*types.PluginVersion, error) {
	if v, ok := p.VersionByName(label); ok {
		return v, nil
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	if v, ok := p.VersionByName(label); ok {
		return v, nil
	}

	v := &types.PluginVersion{PluginID: p.ID(), Version: label, Created: r.now().Unix()}
	err := r.store.CreateVersion(ctx, v)
	if errors.Is(err, storage.ErrConflict) {
		versions, err := r.store.ListVersions(ctx, p.ID())
		if err != nil {
			return nil, err
		}
		for _, stored := range versions {
			p.AddVersion(stored)
		}
		if v, ok := p.VersionByName(label); ok {
			return v, nil
		}
		return nil, fmt.Errorf("%w: version %q for plugin %d", storage.ErrNotFound, label, p.ID())
	}
	if err != nil {
		return nil, err
	}

	p.AddVersion(v)
	return v, nil
}

// GraphFor returns p's graph with the given name, creating a default line
// graph on first use.
func (r *Registry) GraphFor(ctx context.Context, p *types.Plugin, name string) (*types.Graph, error) {
	if g, ok := p.Graph(name); ok {
		return g, nil
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	if g, ok := p.Graph(name); ok {
		return g, nil
	}

	g := types.NewGraph(p.ID(), name)
	err := r.store.CreateGraph(ctx, g)
	if errors.Is(err, storage.ErrConflict) {
		graphs, err := r.store.ListGraphs(ctx, p.ID())
		if err != nil {
			return nil, err
		}
		for _, stored := range graphs {
			p.AddGraph(stored)
		}
		if g, ok := p.Graph(name); ok {
			return g, nil
		}
		return nil, fmt.Errorf("%w: graph %q for plugin %d", storage.ErrNotFound, name, p.ID())
	}
	if err != nil {
		return nil, err
	}

	p.AddGraph(g)
	return g, nil
}
