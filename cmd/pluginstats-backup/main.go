// Command pluginstats-backup backs up, lists and restores the SQLite plugin
// database outside the server process.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/scrypster/pluginstats/internal/backup"
	"github.com/scrypster/pluginstats/internal/config"
)

type options struct {
	configPath string
	dbPath     string
	backupDir  string
	interval   time.Duration
	noVerify   bool
	oneshot    bool
	restore    string
	health     bool
	list       bool
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("pluginstats-backup", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML or JSON(C) config file")
	fs.StringVar(&opts.dbPath, "db", "", "Database file (default: <data_path>/pluginstats.db)")
	fs.StringVar(&opts.backupDir, "backup-dir", "", "Backup directory (default: backup.dir from config)")
	fs.DurationVar(&opts.interval, "interval", 0, "Backup interval (default: backup.interval from config)")
	fs.BoolVar(&opts.noVerify, "no-verify", false, "Skip the integrity check after each backup")
	fs.BoolVar(&opts.oneshot, "oneshot", false, "Take a single backup and exit")
	fs.StringVar(&opts.restore, "restore", "", "Restore the database from this backup and exit")
	fs.BoolVar(&opts.health, "health", false, "Print backup health and exit")
	fs.BoolVar(&opts.list, "list", false, "List backups and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// serviceConfig resolves the backup settings, flags first.
func serviceConfig(cfg *config.Config, opts *options) backup.Config {
	bc := backup.Config{
		DBPath:   cfg.DatabasePath(),
		Dir:      cfg.Backup.Dir,
		Interval: cfg.Backup.Interval.Duration,
		Verify:   cfg.Backup.Verify && !opts.noVerify,
	}
	if opts.dbPath != "" {
		bc.DBPath = opts.dbPath
	}
	if opts.backupDir != "" {
		bc.Dir = opts.backupDir
	}
	if opts.interval > 0 {
		bc.Interval = opts.interval
	}
	return bc
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	service, err := backup.New(serviceConfig(cfg, opts))
	if err != nil {
		log.Fatalf("Failed to create backup service: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case opts.restore != "":
		err = service.Restore(ctx, opts.restore)
		if err == nil {
			log.Printf("Database restored from %s", opts.restore)
		}
	case opts.health:
		var healthy bool
		healthy, err = printHealth(os.Stdout, service)
		if err == nil && !healthy {
			os.Exit(1)
		}
	case opts.list:
		err = printList(os.Stdout, service)
	case opts.oneshot:
		var result *backup.Result
		result, err = service.BackupNow(ctx)
		if err == nil {
			log.Printf("Backup completed: path=%s size=%.2f MB duration=%v verified=%v",
				result.Path, float64(result.Size)/(1024*1024), result.Duration, result.Verified)
		}
	default:
		log.Println("pluginstats backup service started, press Ctrl+C to stop")
		if err = service.Run(ctx); errors.Is(err, context.Canceled) {
			err = nil
			log.Println("Backup service stopped")
		}
	}

	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}

func printHealth(w io.Writer, service *backup.Service) (bool, error) {
	h, err := service.Health()
	if err != nil {
		return false, err
	}

	fmt.Fprintf(w, "Status: %s\n", h.Status)
	if h.Message != "" {
		fmt.Fprintf(w, "Message: %s\n", h.Message)
	}
	fmt.Fprintf(w, "Total Backups: %d\n", h.TotalBackups)
	fmt.Fprintf(w, "Disk Space Used: %.2f MB\n", float64(h.DiskSpaceUsed)/(1024*1024))
	if h.LastBackup.IsZero() {
		fmt.Fprintln(w, "Last Backup: Never")
	} else {
		fmt.Fprintf(w, "Last Backup: %s\n", h.LastBackup.Format(time.RFC3339))
	}
	return h.Status == "healthy", nil
}

func printList(w io.Writer, service *backup.Service) error {
	backups, err := service.List()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Fprintln(w, "No backups found")
		return nil
	}

	fmt.Fprintf(w, "Found %d backup(s):\n", len(backups))
	for i, b := range backups {
		fmt.Fprintf(w, "%d. %s (%.2f MB, %s)\n", i+1, b.Path,
			float64(b.Size)/(1024*1024), b.Timestamp.Format(time.RFC3339))
	}
	return nil
}
