package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"shopsync/internal/api"
	"shopsync/internal/config"
	"shopsync/internal/db"
	"shopsync/internal/logging"
	"shopsync/internal/metrics"
	"shopsync/internal/remote"
	"shopsync/internal/runs"
	"shopsync/internal/source"
	"shopsync/internal/store"
	"shopsync/internal/syncer"
	"shopsync/internal/tasks"
	"shopsync/internal/ws"
)

const (
	defaultTaskConcurrency           = 2
	defaultSyncMaxConcurrentRequests = 4
)

func Run(ctx context.Context, cfg config.Config) error {
	if err := validateListenAddr(cfg.Addr, cfg.AllowRemote); err != nil {
		return err
	}
	if cfg.AllowRemote && cfg.APIToken == "" {
		isLoopback, err := isLoopbackListenAddr(cfg.Addr)
		if err != nil {
			return err
		}
		if !isLoopback {
			return fmt.Errorf("API_TOKEN (or --api-token) is required when --allow-remote is enabled and addr is non-loopback (addr=%q)", cfg.Addr)
		}
	}

	applySafeDefaults(&cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "storage"), 0o700); err != nil {
		return err
	}

	dbBackend, err := db.ParseBackend(cfg.DBBackend)
	if err != nil {
		return err
	}
	cfg.DBBackend = string(dbBackend)

	dbCfg := db.Config{Backend: dbBackend}
	var dbPath string
	switch dbBackend {
	case db.BackendSQLite:
		dbPath = filepath.Join(cfg.DataDir, "shopsync.db")
		dbCfg.SQLitePath = dbPath
	case db.BackendPostgres:
		dbCfg.DatabaseURL = cfg.DatabaseURL
	default:
		return fmt.Errorf("unsupported db backend %q", dbBackend)
	}
	gormDB, err := db.Open(dbCfg)
	if err != nil {
		return err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlDB.Close()
	}()
	if dbBackend == db.BackendSQLite {
		_ = os.Chmod(dbPath, 0o600)
	}

	st, err := store.New(gormDB, store.Options{Backend: dbBackend, EncryptionKey: cfg.EncryptionKey})
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	m := metrics.New()
	tracker := runs.NewTracker(st, hub, m)
	sources := source.New(source.Config{
		DataDir:      cfg.DataDir,
		FetchTimeout: cfg.SourceFetchTimeout,
	})

	taskManager := tasks.NewManager(tasks.Config{
		Store:       st,
		Hub:         hub,
		Metrics:     m,
		Concurrency: cfg.TaskConcurrency,
		MaxAttempts: cfg.TaskMaxAttempts,
		Retention:   cfg.TaskRetention,
		CleanupTemp: sources.CleanupStale,
	})

	sy := syncer.New(syncer.Config{
		Store:   st,
		Tracker: tracker,
		Queue:   taskManager,
		Sources: sources,
		Drivers: remote.NewFactory(remote.Options{Timeout: cfg.RemoteTimeout, Metrics: m}),
		Metrics: m,
		DataDir: cfg.DataDir,
	})
	sy.Register(taskManager)

	if err := taskManager.Recover(ctx); err != nil {
		return err
	}
	go taskManager.Run(ctx)
	go taskManager.RunMaintenance(ctx)
	if cfg.SchedulerEnabled {
		go sy.RunScheduler(ctx, cfg.SchedulerInterval)
	} else {
		logging.Infof("scheduler disabled; profiles and integrations run only on demand")
	}

	handler := api.New(api.Dependencies{
		Config:     cfg,
		Store:      st,
		Syncer:     sy,
		Tracker:    tracker,
		Tasks:      taskManager,
		Hub:        hub,
		Metrics:    m,
		ServerAddr: cfg.Addr,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("listening on http://%s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// applySafeDefaults clamps values the flag layer lets through unchecked.
func applySafeDefaults(cfg *config.Config) {
	if cfg.TaskConcurrency <= 0 {
		cfg.TaskConcurrency = defaultTaskConcurrency
	}
	if cfg.TaskMaxAttempts <= 0 {
		cfg.TaskMaxAttempts = tasks.DefaultMaxAttempts
	}
	if cfg.TaskRetention < 0 {
		cfg.TaskRetention = 0
	}
	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = syncer.DefaultDispatchInterval
	}
	if cfg.SourceFetchTimeout <= 0 {
		cfg.SourceFetchTimeout = source.DefaultFetchTimeout
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = remote.DefaultTimeout
	}
	if cfg.SyncMaxConcurrentRequests < 0 {
		cfg.SyncMaxConcurrentRequests = defaultSyncMaxConcurrentRequests
	}
}

func validateListenAddr(addr string, allowRemote bool) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid addr %q (expected host:port): %w", addr, err)
	}

	if host == "" {
		if allowRemote {
			return nil
		}
		return fmt.Errorf("refusing to bind to wildcard host (addr=%q) without --allow-remote", addr)
	}

	switch host {
	case "127.0.0.1", "localhost", "::1":
		return nil
	default:
		if allowRemote {
			return nil
		}
		return fmt.Errorf("refusing to bind to non-local host %q (addr=%q) without --allow-remote", host, addr)
	}
}

func isLoopbackListenAddr(addr string) (bool, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false, fmt.Errorf("invalid addr %q (expected host:port): %w", addr, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		return false, nil
	}
	if host == "localhost" {
		return true, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false, nil
	}
	return ip.IsLoopback(), nil
}
