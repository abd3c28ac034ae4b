package db

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

type Config struct {
	Backend     Backend
	SQLitePath  string
	DatabaseURL string
	// LogQueries turns on gorm's statement logger.
	LogQueries bool
}

func ParseBackend(raw string) (Backend, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return BackendSQLite, nil
	}
	switch raw {
	case "sqlite":
		return BackendSQLite, nil
	case "postgres", "postgresql", "pg":
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("unsupported db backend %q (expected sqlite or postgres)", raw)
	}
}

func Open(cfg Config) (*gorm.DB, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendSQLite
	}
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if cfg.LogQueries {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}
	switch backend {
	case BackendSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, errors.New("sqlite path is required")
		}
		return openSQLite(cfg.SQLitePath, gormCfg)
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("DATABASE_URL is required when DB_BACKEND=postgres")
		}
		return openPostgres(cfg.DatabaseURL, gormCfg)
	default:
		return nil, fmt.Errorf("unsupported db backend %q", backend)
	}
}

// sqliteDSN attaches the pragmas to the DSN so every pooled connection gets
// them, not only the first one.
func sqliteDSN(dbPath string) string {
	pragmas := url.Values{}
	for _, p := range []string{
		"busy_timeout(5000)",
		"journal_mode(WAL)",
		"foreign_keys(1)",
		"synchronous(NORMAL)",
	} {
		pragmas.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + pragmas.Encode()
}

func openSQLite(dbPath string, gormCfg *gorm.Config) (*gorm.DB, error) {
	sqlDB, err := gorm.Open(sqlite.Open(sqliteDSN(dbPath)), gormCfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(sqlDB); err != nil {
		return nil, err
	}
	return sqlDB, nil
}

func openPostgres(databaseURL string, gormCfg *gorm.Config) (*gorm.DB, error) {
	sqlDB, err := gorm.Open(postgres.Open(databaseURL), gormCfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(sqlDB); err != nil {
		return nil, err
	}
	return sqlDB, nil
}

func migrate(db *gorm.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS integrations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			platform TEXT NOT NULL,
			transport TEXT NOT NULL,
			api_base_url TEXT NOT NULL DEFAULT '',
			api_key TEXT NOT NULL DEFAULT '',
			db_json TEXT NOT NULL DEFAULT '{}',
			db_password TEXT NOT NULL DEFAULT '',
			match_strategy TEXT NOT NULL,
			missing_behavior TEXT NOT NULL,
			availability_json TEXT NOT NULL DEFAULT '{}',
			orders_json TEXT NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			order_sync_minutes INTEGER NOT NULL DEFAULT 0,
			availability_sync_minutes INTEGER NOT NULL DEFAULT 0,
			last_orders_synced_at TEXT,
			last_inventory_synced_at TEXT,
			last_availability_synced_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_integrations_tenant_id ON integrations(tenant_id);`,

		`CREATE TABLE IF NOT EXISTS sync_profiles (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			integration_id TEXT,
			name TEXT NOT NULL,
			format TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_location TEXT NOT NULL,
			delimiter TEXT NOT NULL DEFAULT '',
			has_header BOOLEAN NOT NULL DEFAULT TRUE,
			record_path TEXT NOT NULL DEFAULT '',
			encoding TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			fetch_mode TEXT NOT NULL,
			interval_minutes INTEGER,
			daily_time TEXT,
			timezone TEXT NOT NULL DEFAULT '',
			cron_expression TEXT,
			chunk_size INTEGER NOT NULL,
			next_run_at TEXT,
			last_fetched_at TEXT,
			last_headers_json TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(integration_id) REFERENCES integrations(id) ON DELETE SET NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_profiles_tenant_id ON sync_profiles(tenant_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_profiles_due ON sync_profiles(active, next_run_at);`,

		`CREATE TABLE IF NOT EXISTS field_mappings (
			id TEXT PRIMARY KEY,
			profile_id TEXT NOT NULL,
			target_type TEXT NOT NULL,
			source_field TEXT NOT NULL,
			target_field TEXT NOT NULL,
			transform TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0,
			UNIQUE(profile_id, target_type, source_field),
			FOREIGN KEY(profile_id) REFERENCES sync_profiles(id) ON DELETE CASCADE
		);`,

		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			profile_id TEXT,
			integration_id TEXT,
			status TEXT NOT NULL,
			processed BIGINT NOT NULL DEFAULT 0,
			success BIGINT NOT NULL DEFAULT 0,
			failure BIGINT NOT NULL DEFAULT 0,
			skipped BIGINT NOT NULL DEFAULT 0,
			pending_chunks INTEGER NOT NULL DEFAULT 0,
			samples_json TEXT NOT NULL DEFAULT '[]',
			errors_json TEXT NOT NULL DEFAULT '[]',
			message TEXT,
			lock_version BIGINT NOT NULL DEFAULT 0,
			started_at TEXT,
			finished_at TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY(profile_id) REFERENCES sync_profiles(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_tenant_id_id ON runs(tenant_id, id);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_profile_id_id ON runs(profile_id, id);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_integration_id_id ON runs(integration_id, id);`,

		`CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			parent_id TEXT,
			description TEXT NOT NULL DEFAULT '',
			external_key TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_categories_tenant_name ON categories(tenant_id, name);`,
		`CREATE INDEX IF NOT EXISTS idx_categories_tenant_external_key ON categories(tenant_id, external_key);`,

		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			sku TEXT NOT NULL DEFAULT '',
			ean TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			stock_quantity BIGINT NOT NULL DEFAULT 0,
			delivery_days INTEGER,
			contractor_id TEXT,
			category_id TEXT,
			external_key TEXT,
			attributes_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_products_tenant_sku ON products(tenant_id, sku);`,
		`CREATE INDEX IF NOT EXISTS idx_products_tenant_ean ON products(tenant_id, ean);`,
		`CREATE INDEX IF NOT EXISTS idx_products_tenant_external_key ON products(tenant_id, external_key);`,
		`CREATE INDEX IF NOT EXISTS idx_products_tenant_contractor ON products(tenant_id, contractor_id);`,

		`CREATE TABLE IF NOT EXISTS match_links (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			integration_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			external_product_id TEXT,
			matched_by TEXT NOT NULL,
			is_manual BOOLEAN NOT NULL DEFAULT FALSE,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			availability_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(integration_id, product_id),
			FOREIGN KEY(integration_id) REFERENCES integrations(id) ON DELETE CASCADE,
			FOREIGN KEY(product_id) REFERENCES products(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_match_links_tenant_integration ON match_links(tenant_id, integration_id);`,

		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			integration_id TEXT NOT NULL,
			external_order_id TEXT NOT NULL,
			reference TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			payment_status TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT '',
			total_gross DOUBLE PRECISION NOT NULL DEFAULT 0,
			customer_email TEXT NOT NULL DEFAULT '',
			placed_at TEXT,
			items_json TEXT NOT NULL DEFAULT '[]',
			addresses_json TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(integration_id, external_order_id),
			FOREIGN KEY(integration_id) REFERENCES integrations(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_tenant_id ON orders(tenant_id, id);`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			last_error TEXT,
			error_code TEXT,
			available_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_available_at ON tasks(status, available_at);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_finished_at ON tasks(status, finished_at);`,
	}

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	if err := ensureColumn(db, "sync_profiles", "encoding", "TEXT", "''"); err != nil {
		return err
	}
	return nil
}

func ensureColumn(db *gorm.DB, table, name, sqlType, defaultValue string) error {
	if db.Migrator().HasColumn(table, name) {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s NOT NULL DEFAULT %s;", table, name, sqlType, defaultValue)
	return db.Exec(stmt).Error
}
