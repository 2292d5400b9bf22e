// Package storage provides the persistence interfaces for plugin statistics.
//
// The in-memory plugin registry is the source of truth while the process runs;
// a PluginStore is where plugins, graphs and versions are loaded from at
// startup and where the save worker writes plugin snapshots.
package storage

import (
	"context"

	"github.com/scrypster/pluginstats/pkg/types"
)

// PluginStore persists plugins and their child records.
type PluginStore interface {
	// CreatePlugin inserts a new plugin and returns it with its assigned ID.
	// Returns ErrConflict if a plugin with the same name exists.
	CreatePlugin(ctx context.Context, name, authors string, created int64) (types.PluginData, error)

	// SavePlugin writes a plugin snapshot (upsert on ID).
	// Returns ErrInvalidInput if data.ID is not set.
	SavePlugin(ctx context.Context, data types.PluginData) error

	// GetPlugin retrieves a plugin by ID.
	// Returns ErrNotFound if the plugin doesn't exist.
	GetPlugin(ctx context.Context, id int) (types.PluginData, error)

	// ListPlugins retrieves plugins with pagination.
	ListPlugins(ctx context.Context, opts ListOptions) (*PaginatedResult[types.PluginData], error)

	// CreateGraph inserts g and sets g.ID.
	// Returns ErrConflict if the plugin already has a graph with that name.
	CreateGraph(ctx context.Context, g *types.Graph) error

	// ListGraphs returns the graphs of one plugin, or of every plugin when
	// pluginID is 0.
	ListGraphs(ctx context.Context, pluginID int) ([]*types.Graph, error)

	// CreateVersion inserts v and sets v.ID.
	// Returns ErrConflict if the plugin already has that version label.
	CreateVersion(ctx context.Context, v *types.PluginVersion) error

	// ListVersions returns the versions of one plugin, or of every plugin
	// when pluginID is 0.
	ListVersions(ctx context.Context, pluginID int) ([]*types.PluginVersion, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
