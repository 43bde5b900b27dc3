package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expirybot/internal/config"
	"expirybot/internal/gateway"
	"expirybot/internal/governor"
)

func baseConfig() *Config {
	return &Config{
		Gateway: config.GatewayConfig{BaseURL: "http://evolution:8080/", Instance: "akram"},
		Dispatch: config.DispatchConfig{
			Timezone:    "America/Cuiaba",
			CountryCode: "55",
		},
		Scheduler: config.SchedulerConfig{Enabled: true},
		Storage:   config.StorageConfig{Driver: "sqlite", Path: "./data/ledger.db"},
		Catalog:   config.CatalogConfig{Driver: "postgres", DSN: "postgres://catalog"},
		Logging:   config.LoggingConfig{Level: "info"},
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	off := false
	cases := []struct {
		name    string
		in      config.StorageConfig
		enabled bool
		driver  string
		migrate bool
		wantErr bool
	}{
		{name: "none", in: config.StorageConfig{Driver: "none"}},
		{name: "empty", in: config.StorageConfig{}},
		{name: "file", in: config.StorageConfig{Driver: "file", Path: "./data"}, enabled: true, driver: "file"},
		{name: "sqlite", in: config.StorageConfig{Driver: "SQLite3", Path: "x.db"}, enabled: true, driver: "sqlite", migrate: true},
		{name: "sqlite no migrate", in: config.StorageConfig{Driver: "sqlite", Path: "x.db", AutoMigrate: &off}, enabled: true, driver: "sqlite"},
		{name: "postgres", in: config.StorageConfig{Driver: "postgres", DSN: "postgres://x"}, enabled: true, driver: "postgres", migrate: true},
		{name: "postgres without dsn", in: config.StorageConfig{Driver: "postgres"}, wantErr: true},
		{name: "sqlite without path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "bad busy timeout", in: config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "mongo"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Storage = tc.in
			sc, enabled, err := mapStorageConfig(cfg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.enabled, enabled)
			assert.Equal(t, tc.driver, sc.Driver)
			assert.Equal(t, tc.migrate, sc.AutoMigrate)
		})
	}
}

func TestMapGatewayConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	gc, err := mapGatewayConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "akram", gc.Instance)
	assert.Equal(t, "55", gc.CountryCode)
	assert.Equal(t, gateway.DefaultRetryPenalty, gc.RetryPenalty)

	cfg.Gateway.RetryPenalty = "0s"
	gc, err = mapGatewayConfig(cfg)
	require.NoError(t, err)
	assert.Zero(t, gc.RetryPenalty)

	cfg.Gateway.Timeout = "forever"
	_, err = mapGatewayConfig(cfg)
	assert.ErrorContains(t, err, "gateway.timeout")

	cfg = baseConfig()
	cfg.Gateway.BaseURL = " "
	_, err = mapGatewayConfig(cfg)
	assert.ErrorContains(t, err, "gateway.base_url")
}

func TestMapGovernorConfig(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	gc, err := mapGovernorConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, governor.DefaultMinDelay, gc.MinDelay)
	assert.Equal(t, governor.DefaultMaxDelay, gc.MaxDelay)
	assert.Equal(t, governor.DefaultBatchPause, gc.BatchPause)

	cfg.Dispatch.MinDelay = "10s"
	cfg.Dispatch.MaxDelay = "5s"
	_, err = mapGovernorConfig(cfg)
	assert.ErrorContains(t, err, "dispatch.max_delay")
}

func TestMapJobs(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	jobs, err := mapJobs(cfg)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, vendorJob, jobs[0].name)
	assert.Equal(t, defaultVendorSchedule, jobs[0].schedule)
	assert.Equal(t, defaultVendorTimeout, jobs[0].timeout)
	assert.True(t, jobs[0].enabled)
	assert.Equal(t, clientJob, jobs[1].name)
	assert.Equal(t, defaultClientSchedule, jobs[1].schedule)

	off := false
	cfg.Scheduler.Client = config.JobConfig{Enabled: &off, Schedule: "01:30", Timeout: "90m"}
	jobs, err = mapJobs(cfg)
	require.NoError(t, err)
	assert.False(t, jobs[1].enabled)
	assert.Equal(t, "01:30", jobs[1].schedule)
	assert.Equal(t, 90*time.Minute, jobs[1].timeout)

	cfg.Scheduler.Vendor.Schedule = "every:never"
	_, err = mapJobs(cfg)
	assert.ErrorContains(t, err, "scheduler.vendor.schedule")
}

func TestMapSchedulerConfigTimezoneFallback(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	assert.Equal(t, "America/Cuiaba", mapSchedulerConfig(cfg).Timezone)

	cfg.Scheduler.Timezone = "UTC"
	assert.Equal(t, "UTC", mapSchedulerConfig(cfg).Timezone)

	cfg.Scheduler.Timezone = ""
	cfg.Dispatch.Timezone = ""
	assert.Equal(t, DefaultTimezone, mapSchedulerConfig(cfg).Timezone)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateConfig(context.Background(), baseConfig()))

	cases := map[string]func(c *Config){
		"country code":    func(c *Config) { c.Dispatch.CountryCode = "+55" },
		"negative batch":  func(c *Config) { c.Dispatch.BatchSize = -1 },
		"timezone":        func(c *Config) { c.Dispatch.Timezone = "Mars/Base" },
		"alert phone":     func(c *Config) { c.Logging.Alert.Enabled = true },
		"log level":       func(c *Config) { c.Logging.Level = "loud" },
		"sample ratio":    func(c *Config) { c.Telemetry.SampleRatio = 2 },
		"otlp endpoint":   func(c *Config) { c.Telemetry.Enabled = true },
		"lock addr":       func(c *Config) { c.Lock.Enabled = true },
		"catalog dsn":     func(c *Config) { c.Catalog.DSN = "" },
		"http timeout":    func(c *Config) { c.HTTP.ReadTimeout = "-1s" },
		"engine workers":  func(c *Config) { c.TaskEngine.Workers = -2 },
		"engine timeout":  func(c *Config) { c.TaskEngine.DefaultTimeout = "1 hour" },
		"job schedule":    func(c *Config) { c.Scheduler.Client.Schedule = "cron:not a cron" },
		"scheduler zone":  func(c *Config) { c.Scheduler.Timezone = "Nowhere/Town" },
		"missing gateway": func(c *Config) { c.Gateway.Instance = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig()
			mutate(cfg)
			assert.Error(t, validateConfig(context.Background(), cfg))
		})
	}
	assert.Error(t, validateConfig(context.Background(), nil))
}
