// Package backup takes consistent copies of the SQLite plugin database on a
// schedule, prunes them with a tiered retention policy and restores them.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoDatabase is returned when the database file to back up does not exist.
var ErrNoDatabase = errors.New("backup: database not found")

// Config holds backup service configuration.
type Config struct {
	// DBPath is the SQLite database file to back up.
	DBPath string

	// Dir is where backups are written.
	Dir string

	// Interval between scheduled backups (default: 1 hour).
	Interval time.Duration

	// Verify runs an integrity check on every new backup.
	Verify bool

	Retention RetentionPolicy
}

// Info describes one backup file.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Result is the outcome of BackupNow.
type Result struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Size     int64         `json:"size"`
	Verified bool          `json:"verified"`
}

// Health summarizes the state of the backup directory.
type Health struct {
	Status        string    `json:"status"` // healthy or warning
	Message       string    `json:"message"`
	LastBackup    time.Time `json:"last_backup"`
	TotalBackups  int       `json:"total_backups"`
	DiskSpaceUsed int64     `json:"disk_space_used"`
}

// Service performs backups of one database.
type Service struct {
	cfg Config

	mu         sync.Mutex
	running    bool
	lastBackup time.Time
}

// New validates cfg, fills in defaults and creates the backup directory.
func New(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup: backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	cfg.Retention = cfg.Retention.withDefaults()

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: failed to create backup directory: %w", err)
	}
	return &Service{cfg: cfg}, nil
}

// Run takes a backup every Interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup: service is already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("Backup service started: interval=%v, dir=%s", s.cfg.Interval, s.cfg.Dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := s.BackupNow(ctx)
			if err != nil {
				log.Printf("ERROR: Scheduled backup failed: %v", err)
				continue
			}
			log.Printf("Backup written: path=%s size=%d duration=%v verified=%v",
				result.Path, result.Size, result.Duration, result.Verified)
		}
	}
}

// BackupNow writes a timestamped copy of the database, verifies it when
// configured and applies the retention policy.
func (s *Service) BackupNow(ctx context.Context) (*Result, error) {
	start := time.Now()

	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDatabase, s.cfg.DBPath)
	}

	path := filepath.Join(s.cfg.Dir, backupName(start))
	if err := snapshotSQLite(ctx, s.cfg.DBPath, path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat %s: %w", path, err)
	}

	result := &Result{Path: path, Size: info.Size()}
	if s.cfg.Verify {
		if err := verifySQLite(ctx, path); err != nil {
			return nil, fmt.Errorf("backup: verification of %s failed: %w", path, err)
		}
		result.Verified = true
	}
	result.Duration = time.Since(start)

	s.mu.Lock()
	s.lastBackup = start
	s.mu.Unlock()

	if err := applyRetention(s.cfg.Dir, s.cfg.Retention, time.Now()); err != nil {
		log.Printf("WARNING: failed to apply backup retention: %v", err)
	}
	return result, nil
}

// List returns the backups in the directory, newest first.
func (s *Service) List() ([]Info, error) {
	return listBackups(s.cfg.Dir)
}

// Restore replaces the database with the backup at path. The server must
// not have the database open.
func (s *Service) Restore(ctx context.Context, path string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fmt.Errorf("backup: cannot restore while the backup service is running")
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup: %s not found: %w", path, err)
	}
	if err := restoreSQLite(ctx, path, s.cfg.DBPath); err != nil {
		return err
	}

	log.Printf("Database restored from backup: %s", path)
	return nil
}

// Health reports how many backups exist and whether the last one is overdue.
func (s *Service) Health() (*Health, error) {
	backups, err := s.List()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	last := s.lastBackup
	s.mu.Unlock()
	if last.IsZero() && len(backups) > 0 {
		last = backups[0].Timestamp
	}

	h := &Health{Status: "healthy", LastBackup: last, TotalBackups: len(backups)}
	for _, b := range backups {
		h.DiskSpaceUsed += b.Size
	}

	switch age := time.Since(last); {
	case last.IsZero():
		h.Message = "No backups yet"
	case age > 2*s.cfg.Interval:
		h.Status = "warning"
		h.Message = fmt.Sprintf("Backup overdue by %v", (age - s.cfg.Interval).Round(time.Second))
	default:
		h.Message = fmt.Sprintf("Last backup: %v ago", age.Round(time.Second))
	}
	return h, nil
}
