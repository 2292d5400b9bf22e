package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	_ "modernc.org/sqlite"
)

func openReadOnly(path string) (*sql.DB, error) {
	return sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
}

// snapshotSQLite writes a consistent copy of src to dest. VACUUM INTO reads
// through the WAL, so the source may be in use by the server.
func snapshotSQLite(ctx context.Context, src, dest string) error {
	db, err := openReadOnly(src)
	if err != nil {
		return fmt.Errorf("backup: failed to open %s: %w", src, err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("backup: failed to copy %s: %w", src, err)
	}
	return nil
}

// verifySQLite runs PRAGMA integrity_check against path.
func verifySQLite(ctx context.Context, path string) error {
	db, err := openReadOnly(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}

// restoreSQLite verifies backup and atomically replaces target with it.
// Stale -wal and -shm files of the old database are removed.
func restoreSQLite(ctx context.Context, backup, target string) error {
	if err := verifySQLite(ctx, backup); err != nil {
		return fmt.Errorf("backup: refusing to restore %s: %w", backup, err)
	}

	f, err := os.Open(backup)
	if err != nil {
		return fmt.Errorf("backup: failed to open %s: %w", backup, err)
	}
	defer func() { _ = f.Close() }()

	if err := atomic.WriteFile(target, f); err != nil {
		return fmt.Errorf("backup: failed to replace %s: %w", target, err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(target + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("backup: failed to remove %s: %w", target+suffix, err)
		}
	}

	if err := verifySQLite(ctx, target); err != nil {
		return fmt.Errorf("backup: restored database failed verification: %w", err)
	}
	return nil
}
