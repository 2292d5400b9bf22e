package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/scrypster/pluginstats/internal/backup"
	"github.com/scrypster/pluginstats/internal/config"
	"github.com/scrypster/pluginstats/internal/engine"
	"github.com/scrypster/pluginstats/internal/server"
	"github.com/scrypster/pluginstats/internal/storage"
	"github.com/scrypster/pluginstats/internal/storage/postgres"
	"github.com/scrypster/pluginstats/internal/storage/sqlite"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}

// loadConfig parses args and loads the config file named by --config.
// Flags that were set win over the environment and the file.
func loadConfig(args []string) (*config.Config, error) {
	fs := pflag.NewFlagSet("pluginstats-server", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to a YAML or JSON(C) config file")
	host := fs.String("host", "", "Address to listen on")
	port := fs.IntP("port", "p", 0, "Port to listen on")
	storageEngine := fs.String("storage", "", "Storage engine: sqlite or postgres")
	dataPath := fs.String("data-path", "", "Directory for the SQLite database")
	postgresDSN := fs.String("postgres-dsn", "", "PostgreSQL connection string")
	snapshotPath := fs.String("snapshot", "", "Write a JSON snapshot of all plugins here on shutdown")
	trustProxy := fs.Bool("trust-proxy", false, "Rate limit by the first X-Forwarded-For address")
	logFile := fs.String("log-file", "", "Also write logs to this file, rotated by size")
	backupDir := fs.String("backup-dir", "", "Back up the SQLite database into this directory")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return config.Load(*configPath, func(cfg *config.Config) {
		if fs.Changed("host") {
			cfg.Server.Host = *host
		}
		if fs.Changed("port") {
			cfg.Server.Port = *port
		}
		if fs.Changed("storage") {
			cfg.Storage.StorageEngine = *storageEngine
		}
		if fs.Changed("data-path") {
			cfg.Storage.DataPath = *dataPath
		}
		if fs.Changed("postgres-dsn") {
			cfg.Storage.PostgresDSN = *postgresDSN
		}
		if fs.Changed("snapshot") {
			cfg.Snapshot.Path = *snapshotPath
		}
		if fs.Changed("trust-proxy") {
			cfg.Server.TrustProxy = *trustProxy
		}
		if fs.Changed("log-file") {
			cfg.Log.File = *logFile
		}
		if fs.Changed("backup-dir") {
			cfg.Backup.Dir = *backupDir
		}
	})
}

// openStore opens the configured storage backend.
func openStore(cfg *config.Config) (storage.PluginStore, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		return postgres.NewPluginStore(cfg.Storage.PostgresDSN)
	case "sqlite", "":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return sqlite.NewPluginStore(cfg.DatabasePath())
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.StorageEngine)
	}
}

// engineConfig maps the file/env settings onto the engine's own config.
func engineConfig(cfg *config.Config) engine.Config {
	ec := cfg.Engine
	return engine.Config{
		QueueWarnThreshold: ec.QueueWarnThreshold,
		MaxRetries:         ec.MaxRetries,
		RetryBackoff:       ec.RetryBackoff.Duration,
		ShutdownTimeout:    ec.ShutdownTimeout.Duration,
		BreakerMaxFailures: uint32(ec.BreakerMaxFailures),
		BreakerTimeout:     ec.BreakerTimeout.Duration,
		LoadBatchSize:      ec.LoadBatchSize,
	}
}

func backupConfig(cfg *config.Config) backup.Config {
	return backup.Config{
		DBPath:   cfg.DatabasePath(),
		Dir:      cfg.Backup.Dir,
		Interval: cfg.Backup.Interval.Duration,
		Verify:   cfg.Backup.Verify,
	}
}

func run(cfg *config.Config) error {
	closeLog := setupLogging(cfg.Log)
	defer closeLog()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	eng, err := engine.NewEngine(store, engineConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	addr, _, err := server.Start(ctx, cfg, eng)
	if err != nil {
		_ = eng.Shutdown(context.Background())
		return err
	}
	log.Printf("pluginstats listening on http://%s (storage: %s, mode: %s)",
		addr, cfg.Storage.StorageEngine, cfg.Security.SecurityMode)

	if cfg.Backup.Dir != "" {
		svc, err := backup.New(backupConfig(cfg))
		if err != nil {
			log.Printf("ERROR: Backups disabled: %v", err)
		} else {
			go func() {
				if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("ERROR: Backup service: %v", err)
				}
			}()
		}
	}

	<-ctx.Done()
	log.Println("Shutting down gracefully...")

	// The server stops accepting reports as soon as ctx is done; flush
	// everything that is still pending.
	shutdownErr := eng.Shutdown(context.Background())
	if shutdownErr != nil {
		log.Printf("ERROR: Engine shutdown: %v", shutdownErr)
	}

	if cfg.Snapshot.Path != "" {
		if err := writeSnapshot(cfg.Snapshot.Path, eng.Views()); err != nil {
			log.Printf("ERROR: Failed to write snapshot: %v", err)
		} else {
			log.Printf("Wrote snapshot to %s", cfg.Snapshot.Path)
		}
	}

	return shutdownErr
}
