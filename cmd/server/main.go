package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"shopsync/internal/app"
	"shopsync/internal/config"
	"shopsync/internal/logging"
)

func main() {
	// .env only fills variables the environment does not already set.
	envErr := godotenv.Load()

	var cfg config.Config

	flag.StringVar(&cfg.Addr, "addr", getEnv("ADDR", "127.0.0.1:8080"), "listen address")
	flag.StringVar(&cfg.DataDir, "data-dir", getEnv("DATA_DIR", "./data"), "data directory (sqlite db, uploaded sources, downloads)")
	flag.StringVar(&cfg.DBBackend, "db-backend", getEnv("DB_BACKEND", "sqlite"), "database backend (sqlite or postgres)")
	flag.StringVar(&cfg.DatabaseURL, "database-url", getEnv("DATABASE_URL", ""), "postgres connection string (required when db-backend=postgres)")
	flag.StringVar(&cfg.APIToken, "api-token", getEnv("API_TOKEN", ""), "optional API token (X-Api-Token)")
	flag.BoolVar(&cfg.AllowRemote, "allow-remote", getEnvBool("ALLOW_REMOTE", false), "allow non-local bind and remote clients (requires API_TOKEN when using a non-loopback addr)")
	flag.StringVar(&cfg.EncryptionKey, "encryption-key", getEnv("ENCRYPTION_KEY", ""), "optional base64 key to encrypt integration credentials at rest")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "log format (text or json)")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flag.IntVar(&cfg.TaskConcurrency, "task-concurrency", getEnvInt("TASK_CONCURRENCY", 2), "max concurrent background tasks")
	flag.IntVar(&cfg.TaskMaxAttempts, "task-max-attempts", getEnvInt("TASK_MAX_ATTEMPTS", 5), "attempts per task before it is marked failed")
	flag.DurationVar(&cfg.TaskRetention, "task-retention", getEnvDuration("TASK_RETENTION", 7*24*time.Hour), "delete finished tasks and runs older than this duration (0=keep forever)")
	flag.BoolVar(&cfg.SchedulerEnabled, "scheduler", getEnvBool("SCHEDULER_ENABLED", true), "dispatch due profiles and integrations automatically")
	flag.DurationVar(&cfg.SchedulerInterval, "scheduler-interval", getEnvDuration("SCHEDULER_INTERVAL", time.Minute), "how often the scheduler looks for due work")
	flag.DurationVar(&cfg.SourceFetchTimeout, "source-fetch-timeout", getEnvDuration("SOURCE_FETCH_TIMEOUT", 20*time.Second), "timeout for downloading url sources")
	flag.DurationVar(&cfg.RemoteTimeout, "remote-timeout", getEnvDuration("REMOTE_TIMEOUT", 20*time.Second), "timeout for remote shop API and database calls")
	flag.IntVar(&cfg.SyncMaxConcurrentRequests, "sync-max-concurrent", getEnvInt("SYNC_MAX_CONCURRENT", 4), "max concurrent inline integration syncs over HTTP (0=unlimited)")
	flag.Parse()

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid LOG_LEVEL %q: %v", cfg.LogLevel, err)
	}
	if _, err := logging.Setup(cfg.LogFormat, level); err != nil {
		log.Fatalf("invalid LOG_FORMAT %q: %v", cfg.LogFormat, err)
	}
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logging.Warnf(".env file not loaded: %v", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		logging.Fatalf("server error: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(val) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return defaultValue
	}
}
