// Package sqlite provides a SQLite implementation of storage.PluginStore.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/pluginstats/internal/storage"
	"github.com/scrypster/pluginstats/pkg/types"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PluginStore implements storage.PluginStore using SQLite.
type PluginStore struct {
	db *sql.DB
}

// NewPluginStore opens a SQLite plugin store. An open that fails because a
// crashed process left -wal/-shm files behind is retried once after removing
// them, provided no running process holds them.
func NewPluginStore(dsn string) (*PluginStore, error) {
	return openRecoveringWAL(dsn, openPluginStore)
}

// openPluginStore opens a SQLite database, configures WAL mode, and migrates the schema.
func openPluginStore(dsn string) (*PluginStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	mgr, err := storage.NewMigrationManager(db, migrationFiles, "migrations", storage.QuestionPlaceholder)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create migration manager: %w", err)
	}
	applied, err := mgr.Up()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to run migrations: %w", err)
	}
	if applied > 0 {
		log.Printf("sqlite: applied %d migration(s)", applied)
	}

	return &PluginStore{db: db}, nil
}

// GetDB returns the underlying database connection.
func (s *PluginStore) GetDB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive.
func (s *PluginStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases any resources held by the store.
func (s *PluginStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreatePlugin inserts a new plugin and returns it with its assigned ID.
func (s *PluginStore) CreatePlugin(ctx context.Context, name, authors string, created int64) (types.PluginData, error) {
	if name == "" {
		return types.PluginData{}, fmt.Errorf("%w: plugin name is required", storage.ErrInvalidInput)
	}

	data := types.PluginData{Name: name, Authors: authors, Created: created}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO plugins (name, authors, created) VALUES (?, ?, ?) RETURNING id`,
		name, authors, created,
	).Scan(&data.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return types.PluginData{}, fmt.Errorf("%w: plugin %q", storage.ErrConflict, name)
		}
		return types.PluginData{}, fmt.Errorf("sqlite: failed to create plugin: %w", err)
	}

	return data, nil
}

// SavePlugin writes a plugin snapshot (upsert on ID).
func (s *PluginStore) SavePlugin(ctx context.Context, data types.PluginData) error {
	if data.ID <= 0 {
		return fmt.Errorf("%w: plugin ID is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugins (id, parent, name, authors, hidden, global_hits, created, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent = excluded.parent,
			name = excluded.name,
			authors = excluded.authors,
			hidden = excluded.hidden,
			global_hits = excluded.global_hits,
			created = excluded.created,
			last_updated = excluded.last_updated
	`, data.ID, data.Parent, data.Name, data.Authors, data.Hidden, data.GlobalHits, data.Created, data.LastUpdated)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: plugin name %q", storage.ErrConflict, data.Name)
		}
		return fmt.Errorf("sqlite: failed to save plugin %d: %w", data.ID, err)
	}

	return nil
}

// GetPlugin retrieves a plugin by ID.
func (s *PluginStore) GetPlugin(ctx context.Context, id int) (types.PluginData, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, parent, name, authors, hidden, global_hits, created, last_updated
		FROM plugins WHERE id = ?
	`, id)

	data, err := scanPlugin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PluginData{}, storage.ErrNotFound
	}
	if err != nil {
		return types.PluginData{}, fmt.Errorf("sqlite: failed to get plugin %d: %w", id, err)
	}
	return data, nil
}

// ListPlugins retrieves plugins with pagination.
func (s *PluginStore) ListPlugins(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.PluginData], error) {
	opts.Normalize()

	var (
		conditions []string
		args       []interface{}
	)
	if !opts.IncludeHidden {
		conditions = append(conditions, "hidden = 0")
	}
	if opts.Parent != 0 {
		conditions = append(conditions, "parent = ?")
		args = append(args, opts.Parent)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM plugins "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: failed to count plugins: %w", err)
	}

	// SortBy and SortOrder are whitelisted by Normalize.
	query := fmt.Sprintf(`
		SELECT id, parent, name, authors, hidden, global_hits, created, last_updated
		FROM plugins %s
		ORDER BY %s %s, id ASC
		LIMIT ? OFFSET ?
	`, where, opts.SortBy, opts.SortOrder)

	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list plugins: %w", err)
	}
	defer rows.Close()

	items := make([]types.PluginData, 0, opts.Limit)
	for rows.Next() {
		data, err := scanPlugin(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan plugin: %w", err)
		}
		items = append(items, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate plugins: %w", err)
	}

	return &storage.PaginatedResult[types.PluginData]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// CreateGraph inserts g and sets g.ID.
func (s *PluginStore) CreateGraph(ctx context.Context, g *types.Graph) error {
	if g == nil || g.PluginID <= 0 || g.Name == "" {
		return fmt.Errorf("%w: graph requires a plugin ID and a name", storage.ErrInvalidInput)
	}
	if !types.IsValidGraphType(g.Type) {
		return fmt.Errorf("%w: unknown graph type %d", storage.ErrInvalidInput, int(g.Type))
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO graphs (plugin_id, type, active, name, display_name, scale, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, g.PluginID, int(g.Type), g.Active, g.Name, g.DisplayName, g.Scale, g.Position).Scan(&g.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: graph %q for plugin %d", storage.ErrConflict, g.Name, g.PluginID)
		}
		return fmt.Errorf("sqlite: failed to create graph: %w", err)
	}
	return nil
}

// ListGraphs returns the graphs of one plugin, or of every plugin when pluginID is 0.
func (s *PluginStore) ListGraphs(ctx context.Context, pluginID int) ([]*types.Graph, error) {
	query := `SELECT id, plugin_id, type, active, name, display_name, scale, position FROM graphs`
	var args []interface{}
	if pluginID != 0 {
		query += ` WHERE plugin_id = ?`
		args = append(args, pluginID)
	}
	query += ` ORDER BY plugin_id, position, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list graphs: %w", err)
	}
	defer rows.Close()

	var graphs []*types.Graph
	for rows.Next() {
		var (
			g         types.Graph
			graphType int
		)
		if err := rows.Scan(&g.ID, &g.PluginID, &graphType, &g.Active, &g.Name, &g.DisplayName, &g.Scale, &g.Position); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan graph: %w", err)
		}
		g.Type = types.GraphType(graphType)
		graphs = append(graphs, &g)
	}
	return graphs, rows.Err()
}

// CreateVersion inserts v and sets v.ID.
func (s *PluginStore) CreateVersion(ctx context.Context, v *types.PluginVersion) error {
	if v == nil || v.PluginID <= 0 || v.Version == "" {
		return fmt.Errorf("%w: version requires a plugin ID and a label", storage.ErrInvalidInput)
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO versions (plugin_id, version, created) VALUES (?, ?, ?) RETURNING id`,
		v.PluginID, v.Version, v.Created,
	).Scan(&v.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: version %q for plugin %d", storage.ErrConflict, v.Version, v.PluginID)
		}
		return fmt.Errorf("sqlite: failed to create version: %w", err)
	}
	return nil
}

// ListVersions returns the versions of one plugin, or of every plugin when pluginID is 0.
func (s *PluginStore) ListVersions(ctx context.Context, pluginID int) ([]*types.PluginVersion, error) {
	query := `SELECT id, plugin_id, version, created FROM versions`
	var args []interface{}
	if pluginID != 0 {
		query += ` WHERE plugin_id = ?`
		args = append(args, pluginID)
	}
	query += ` ORDER BY plugin_id, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []*types.PluginVersion
	for rows.Next() {
		var v types.PluginVersion
		if err := rows.Scan(&v.ID, &v.PluginID, &v.Version, &v.Created); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan version: %w", err)
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlugin(row rowScanner) (types.PluginData, error) {
	var d types.PluginData
	err := row.Scan(&d.ID, &d.Parent, &d.Name, &d.Authors, &d.Hidden, &d.GlobalHits, &d.Created, &d.LastUpdated)
	return d, err
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
