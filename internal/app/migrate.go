package app

import (
	"expirybot/internal/storage"
)

// Migrate applies pending ledger migrations for the storage configured in
// cfgPath. It does not touch the catalog or the gateway.
func Migrate(cfgPath string) (int, error) {
	cfg, err := NewConfigManager(cfgPath).Load()
	if err != nil {
		return 0, err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return 0, err
	}
	if !enabled {
		return 0, storage.ErrDisabled
	}
	return storage.MigrateConfig(sc)
}
