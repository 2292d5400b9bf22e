package sqlite

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"
)

// walSidecars are the files SQLite keeps next to a database in WAL mode.
var walSidecars = []string{"-wal", "-shm"}

// fileHolders returns the PIDs that have any of paths open. Tests replace it
// so the stale check does not depend on lsof being installed.
var fileHolders = lsofHolders

// openRecoveringWAL calls open and, if it fails with an error stale WAL
// sidecars can cause, removes the sidecars and calls open once more.
func openRecoveringWAL(dsn string, open func(string) (*PluginStore, error)) (*PluginStore, error) {
	store, err := open(dsn)
	if err == nil || !walRecoverable(err) {
		return store, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !staleSidecars(dbPath) {
		return nil, err
	}

	if rmErr := removeSidecars(dbPath); rmErr != nil {
		return nil, fmt.Errorf("sqlite: clearing stale WAL: %w (open: %v)", rmErr, err)
	}

	store, retryErr := open(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

// dbPathFromDSN returns the file behind dsn, or "" for in-memory databases.
// Both plain paths and file: URIs are accepted.
func dbPathFromDSN(dsn string) string {
	path := dsn
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path = u.Path
		if path == "" {
			path = u.Opaque
		}
	}
	if path == ":memory:" {
		return ""
	}
	return path
}

func walRecoverable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

// staleSidecars reports whether dbPath has WAL sidecars that no process
// holds open. If the holders cannot be determined the files are not stale.
func staleSidecars(dbPath string) bool {
	paths := []string{dbPath}
	present := false
	for _, suffix := range walSidecars {
		p := dbPath + suffix
		if _, err := os.Stat(p); err == nil {
			present = true
		}
		paths = append(paths, p)
	}
	if !present {
		return false
	}

	holders, err := fileHolders(paths...)
	if err != nil {
		log.Printf("sqlite: cannot tell who holds %s: %v", dbPath, err)
		return false
	}
	return len(holders) == 0
}

func removeSidecars(dbPath string) error {
	var errs []error
	for _, suffix := range walSidecars {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func lsofHolders(paths ...string) ([]string, error) {
	lsof, err := exec.LookPath("lsof")
	if err != nil {
		return nil, err
	}
	out, err := exec.Command(lsof, append([]string{"-t"}, paths...)...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		// lsof exits 1 when nothing has the files open
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(out)), nil
}
