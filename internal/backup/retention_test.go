package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeBackup creates an empty backup file whose mtime is age before now.
func makeBackup(t *testing.T, dir string, now time.Time, age time.Duration) string {
	t.Helper()
	stamp := now.Add(-age)
	path := filepath.Join(dir, backupName(stamp))
	require.NoError(t, os.WriteFile(path, []byte("sqlite"), 0o600))
	require.NoError(t, os.Chtimes(path, stamp, stamp))
	return path
}

func TestListBackups(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	older := makeBackup(t, dir, now, 2*time.Hour)
	newer := makeBackup(t, dir, now, time.Hour)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.db"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "pluginstats-dir.db"), 0o755))

	backups, err := listBackups(dir)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, newer, backups[0].Path, "newest first")
	assert.Equal(t, older, backups[1].Path)

	_, err = listBackups(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestApplyRetention(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	policy := RetentionPolicy{Hourly: 2, Daily: 1, Weekly: 1, Monthly: 1}

	keepHourly1 := makeBackup(t, dir, now, 1*time.Hour)
	keepHourly2 := makeBackup(t, dir, now, 2*time.Hour)
	dropHourly := makeBackup(t, dir, now, 3*time.Hour)
	keepDaily := makeBackup(t, dir, now, 2*24*time.Hour)
	dropDaily := makeBackup(t, dir, now, 3*24*time.Hour)
	keepWeekly := makeBackup(t, dir, now, 10*24*time.Hour)
	keepMonthly := makeBackup(t, dir, now, 60*24*time.Hour)
	dropAncient := makeBackup(t, dir, now, 400*24*time.Hour)

	require.NoError(t, applyRetention(dir, policy, now))

	for _, path := range []string{keepHourly1, keepHourly2, keepDaily, keepWeekly, keepMonthly} {
		assert.FileExists(t, path)
	}
	for _, path := range []string{dropHourly, dropDaily, dropAncient} {
		assert.NoFileExists(t, path)
	}
}

func TestRetentionPolicyDefaults(t *testing.T) {
	p := RetentionPolicy{Daily: 3}.withDefaults()
	assert.Equal(t, RetentionPolicy{Hourly: 24, Daily: 3, Weekly: 4, Monthly: 12}, p)
}
