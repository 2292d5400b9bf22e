package backup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/pluginstats/internal/backup"
	"github.com/scrypster/pluginstats/internal/storage/sqlite"
)

// newDatabase creates a plugin database holding the given plugins.
func newDatabase(t *testing.T, names ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pluginstats.db")
	addPlugins(t, path, names...)
	return path
}

func addPlugins(t *testing.T, path string, names ...string) {
	t.Helper()
	store, err := sqlite.NewPluginStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	for _, name := range names {
		_, err := store.CreatePlugin(context.Background(), name, "", time.Now().Unix())
		require.NoError(t, err)
	}
}

func countPlugins(t *testing.T, path string) int {
	t.Helper()
	store, err := sqlite.NewPluginStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	var n int
	require.NoError(t, store.GetDB().QueryRow("SELECT COUNT(*) FROM plugins").Scan(&n))
	return n
}

func TestNew_Validation(t *testing.T) {
	_, err := backup.New(backup.Config{Dir: t.TempDir()})
	assert.Error(t, err)

	_, err = backup.New(backup.Config{DBPath: "x.db"})
	assert.Error(t, err)

	dir := filepath.Join(t.TempDir(), "nested", "backups")
	_, err = backup.New(backup.Config{DBPath: "x.db", Dir: dir})
	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func TestBackupNow(t *testing.T) {
	db := newDatabase(t, "alpha", "beta")
	svc, err := backup.New(backup.Config{DBPath: db, Dir: t.TempDir(), Verify: true})
	require.NoError(t, err)

	result, err := svc.BackupNow(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Positive(t, result.Size)
	assert.FileExists(t, result.Path)
	assert.Equal(t, 2, countPlugins(t, result.Path))

	backups, err := svc.List()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, result.Path, backups[0].Path)
}

func TestBackupNow_MissingDatabase(t *testing.T) {
	svc, err := backup.New(backup.Config{DBPath: filepath.Join(t.TempDir(), "missing.db"), Dir: t.TempDir()})
	require.NoError(t, err)

	_, err = svc.BackupNow(context.Background())
	assert.ErrorIs(t, err, backup.ErrNoDatabase)
}

func TestRestore(t *testing.T) {
	db := newDatabase(t, "alpha")
	svc, err := backup.New(backup.Config{DBPath: db, Dir: t.TempDir(), Verify: true})
	require.NoError(t, err)

	result, err := svc.BackupNow(context.Background())
	require.NoError(t, err)

	addPlugins(t, db, "beta", "gamma")
	require.Equal(t, 3, countPlugins(t, db))

	require.NoError(t, svc.Restore(context.Background(), result.Path))
	assert.Equal(t, 1, countPlugins(t, db))
}

func TestRestore_RejectsCorruptBackup(t *testing.T) {
	db := newDatabase(t, "alpha")
	svc, err := backup.New(backup.Config{DBPath: db, Dir: t.TempDir()})
	require.NoError(t, err)

	corrupt := filepath.Join(t.TempDir(), "pluginstats-corrupt.db")
	require.NoError(t, os.WriteFile(corrupt, []byte("definitely not sqlite"), 0o600))

	assert.Error(t, svc.Restore(context.Background(), corrupt))
	assert.Equal(t, 1, countPlugins(t, db), "database untouched")

	assert.Error(t, svc.Restore(context.Background(), filepath.Join(t.TempDir(), "missing.db")))
}

func TestRun_StopsWithContext(t *testing.T) {
	db := newDatabase(t, "alpha")
	svc, err := backup.New(backup.Config{DBPath: db, Dir: t.TempDir(), Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		backups, err := svc.List()
		return err == nil && len(backups) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Restore is allowed once Run has returned.
	backups, err := svc.List()
	require.NoError(t, err)
	assert.NoError(t, svc.Restore(context.Background(), backups[0].Path))
}

func TestHealth(t *testing.T) {
	db := newDatabase(t, "alpha")
	svc, err := backup.New(backup.Config{DBPath: db, Dir: t.TempDir(), Interval: time.Hour})
	require.NoError(t, err)

	h, err := svc.Health()
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "No backups yet", h.Message)
	assert.Zero(t, h.TotalBackups)

	_, err = svc.BackupNow(context.Background())
	require.NoError(t, err)

	h, err = svc.Health()
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 1, h.TotalBackups)
	assert.Positive(t, h.DiskSpaceUsed)
	assert.False(t, h.LastBackup.IsZero())
}

func TestHealth_Overdue(t *testing.T) {
	db := newDatabase(t, "alpha")
	dir := t.TempDir()
	svc, err := backup.New(backup.Config{DBPath: db, Dir: dir, Interval: time.Hour})
	require.NoError(t, err)

	old := filepath.Join(dir, "pluginstats-20200101-000000.000000.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	stamp := time.Now().Add(-5 * time.Hour)
	require.NoError(t, os.Chtimes(old, stamp, stamp))

	h, err := svc.Health()
	require.NoError(t, err)
	assert.Equal(t, "warning", h.Status)
	assert.Contains(t, h.Message, "overdue")
}
