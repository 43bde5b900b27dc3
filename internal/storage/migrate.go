package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

func migrationSource(d dialect) *migrate.EmbedFileSystemMigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations/" + d.name,
	}
}

// Migrate applies pending ledger migrations for driver ("sqlite" or
// "postgres") and returns how many ran.
func Migrate(db *sql.DB, driver string) (int, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return 0, err
	}
	return applyMigrations(db, d)
}

func applyMigrations(db *sql.DB, d dialect) (int, error) {
	n, err := migrate.Exec(db, d.migrateDialect, migrationSource(d), migrate.Up)
	if err != nil {
		return n, fmt.Errorf("migrate %s: %w", d.name, err)
	}
	return n, nil
}

// MigrateConfig opens the configured ledger database, applies pending
// migrations and closes it again. The file backend has no schema.
func MigrateConfig(cfg Config) (int, error) {
	var (
		d   dialect
		src string
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "file":
		return 0, nil
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			return 0, fmt.Errorf("sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return 0, err
		}
		d, src = dialectSQLite, cfg.Path
	case "postgres", "postgresql":
		d, src = dialectPostgres, strings.TrimSpace(cfg.DSN)
	default:
		return 0, fmt.Errorf("migrate: unsupported storage driver %q", cfg.Driver)
	}
	db, err := sql.Open(d.name, src)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return applyMigrations(db, d)
}
