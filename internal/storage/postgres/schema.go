// Package postgres provides a PostgreSQL implementation of storage.PluginStore.
package postgres

// Schema creates the plugin statistics tables. Every statement is idempotent
// so it is applied on each start.
const Schema = `
CREATE TABLE IF NOT EXISTS plugins (
    id SERIAL PRIMARY KEY,
    parent INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL UNIQUE,
    authors TEXT NOT NULL DEFAULT '',
    hidden INTEGER NOT NULL DEFAULT 0,
    global_hits INTEGER NOT NULL DEFAULT 0,
    created BIGINT NOT NULL DEFAULT 0,
    last_updated BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS graphs (
    id SERIAL PRIMARY KEY,
    plugin_id INTEGER NOT NULL REFERENCES plugins(id) ON DELETE CASCADE,
    type INTEGER NOT NULL DEFAULT 0,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    name TEXT NOT NULL,
    display_name TEXT NOT NULL,
    scale TEXT NOT NULL DEFAULT 'linear',
    position INTEGER NOT NULL DEFAULT 1,
    UNIQUE (plugin_id, name)
);

CREATE TABLE IF NOT EXISTS versions (
    id SERIAL PRIMARY KEY,
    plugin_id INTEGER NOT NULL REFERENCES plugins(id) ON DELETE CASCADE,
    version TEXT NOT NULL,
    created BIGINT NOT NULL DEFAULT 0,
    UNIQUE (plugin_id, version)
);

CREATE INDEX IF NOT EXISTS idx_plugins_parent ON plugins(parent);
CREATE INDEX IF NOT EXISTS idx_plugins_last_updated ON plugins(last_updated);
`
