package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"

	logx "expirybot/pkg/logx"
)

func openPostgres(cfg Config, log logx.Logger) (Ledger, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.AutoMigrate {
		n, err := applyMigrations(db, dialectPostgres)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if n > 0 {
			log.Info("ledger migrations applied", logx.String("driver", "postgres"), logx.Int("count", n))
		}
	}
	return newSQLStore(db, dialectPostgres, log), nil
}
