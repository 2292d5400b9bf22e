package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/pluginstats/internal/storage"
	"github.com/scrypster/pluginstats/internal/storage/postgres"
	"github.com/scrypster/pluginstats/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore connects to the test database and empties the plugin tables.
func newTestStore(t *testing.T) *postgres.PluginStore {
	t.Helper()

	store, err := postgres.NewPluginStore(postgresTestDSN(t))
	require.NoError(t, err, "NewPluginStore should succeed")
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.TruncateForTest(context.Background()), "truncate plugin tables")
	return store
}

func TestCreateAndSavePlugin(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreatePlugin(ctx, "Essentials", "alice", 1600000000)
	require.NoError(t, err)
	assert.Greater(t, created.ID, 0)

	created.GlobalHits = 42
	created.LastUpdated = 1700000000
	require.NoError(t, store.SavePlugin(ctx, created))

	got, err := store.GetPlugin(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestCreatePlugin_Conflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreatePlugin(ctx, "Dup", "", 0)
	require.NoError(t, err)
	_, err = store.CreatePlugin(ctx, "Dup", "", 0)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestGetPlugin_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetPlugin(context.Background(), 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListPlugins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := store.CreatePlugin(ctx, name, "", 0)
		require.NoError(t, err)
	}

	result, err := store.ListPlugins(ctx, storage.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Len(t, result.Items, 2)
	assert.True(t, result.HasMore)
}

func TestGraphsAndVersions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.CreatePlugin(ctx, "one", "", 0)
	require.NoError(t, err)

	g := types.NewGraph(p.ID, types.GlobalStatisticsGraph)
	require.NoError(t, store.CreateGraph(ctx, g))
	assert.ErrorIs(t, store.CreateGraph(ctx, types.NewGraph(p.ID, types.GlobalStatisticsGraph)), storage.ErrConflict)

	bogus := types.NewGraph(p.ID, "Bogus")
	bogus.Type = types.GraphType(-1)
	assert.ErrorIs(t, store.CreateGraph(ctx, bogus), storage.ErrInvalidInput)

	v := &types.PluginVersion{PluginID: p.ID, Version: "1.0", Created: 1}
	require.NoError(t, store.CreateVersion(ctx, v))

	graphs, err := store.ListGraphs(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, graphs, 1)
	assert.Equal(t, g, graphs[0])

	versions, err := store.ListVersions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, v, versions[0])
}
