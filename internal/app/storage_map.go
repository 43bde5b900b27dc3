package app

import (
	"fmt"
	"strings"
	"time"

	"expirybot/internal/catalog"
	"expirybot/internal/lock"
	"expirybot/internal/storage"
)

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	autoMigrate := sc.AutoMigrate == nil || *sc.AutoMigrate

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, AutoMigrate: autoMigrate}, true, nil
	case "postgres", "postgresql":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN), AutoMigrate: autoMigrate}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapCatalogConfig(cfg *Config) (catalog.Config, error) {
	cc := catalog.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Catalog.Driver)),
		DSN:    strings.TrimSpace(cfg.Catalog.DSN),
	}
	switch cc.Driver {
	case "", "postgres", "postgresql", "sqlite", "sqlite3":
	default:
		return catalog.Config{}, fmt.Errorf("unknown catalog.driver: %s", cfg.Catalog.Driver)
	}
	if cc.DSN == "" {
		return catalog.Config{}, fmt.Errorf("catalog.dsn is required")
	}
	return cc, nil
}

func mapLockConfig(cfg *Config) (lock.Config, bool, error) {
	lc := cfg.Lock
	if !lc.Enabled {
		return lock.Config{}, false, nil
	}
	if strings.TrimSpace(lc.Addr) == "" {
		return lock.Config{}, false, fmt.Errorf("lock.addr is required when lock.enabled=true")
	}
	ttl, err := parseDurationOrDefault("lock.ttl", lc.TTL, lock.DefaultTTL)
	if err != nil {
		return lock.Config{}, false, err
	}
	return lock.Config{
		Addr:      strings.TrimSpace(lc.Addr),
		Password:  lc.Password,
		DB:        lc.DB,
		TTL:       ttl,
		KeyPrefix: lc.KeyPrefix,
	}, true, nil
}
