package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var countryCodePattern = regexp.MustCompile(`^\d{1,3}$`)

var logLevels = []any{"", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled", "off"}

// validateConfig rejects configs that would fail to map. It runs on the
// initial load and before every hot-reload commit.
func validateConfig(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	checks := []struct {
		section string
		err     error
	}{
		{"dispatch", validation.ValidateStruct(&cfg.Dispatch,
			validation.Field(&cfg.Dispatch.CountryCode, validation.Match(countryCodePattern)),
			validation.Field(&cfg.Dispatch.BatchSize, validation.Min(0)),
			validation.Field(&cfg.Dispatch.VendorItemCap, validation.Min(0), validation.Max(200)),
			validation.Field(&cfg.Dispatch.ClientItemCap, validation.Min(0), validation.Max(200)),
			validation.Field(&cfg.Dispatch.InactiveDays, validation.Min(0)),
			validation.Field(&cfg.Dispatch.MaxErrors, validation.Min(0)),
		)},
		{"gateway", validation.ValidateStruct(&cfg.Gateway,
			validation.Field(&cfg.Gateway.MaxAttempts, validation.Min(0), validation.Max(10)),
		)},
		{"task_engine", validation.ValidateStruct(&cfg.TaskEngine,
			validation.Field(&cfg.TaskEngine.Workers, validation.Min(0), validation.Max(16)),
			validation.Field(&cfg.TaskEngine.QueueSize, validation.Min(0)),
			validation.Field(&cfg.TaskEngine.HistorySize, validation.Min(0)),
		)},
		{"lock", validation.ValidateStruct(&cfg.Lock,
			validation.Field(&cfg.Lock.DB, validation.Min(0)),
		)},
		{"http", validation.ValidateStruct(&cfg.HTTP,
			validation.Field(&cfg.HTTP.TriggersPerMinute, validation.Min(0)),
		)},
		{"logging", validation.ValidateStruct(&cfg.Logging,
			validation.Field(&cfg.Logging.Level, validation.In(logLevels...)),
		)},
		{"logging.alert", validation.ValidateStruct(&cfg.Logging.Alert,
			validation.Field(&cfg.Logging.Alert.Phone, validation.When(cfg.Logging.Alert.Enabled, validation.Required)),
			validation.Field(&cfg.Logging.Alert.MinLevel, validation.In(logLevels...)),
			validation.Field(&cfg.Logging.Alert.PerMinute, validation.Min(0)),
		)},
		{"telemetry", validation.ValidateStruct(&cfg.Telemetry,
			validation.Field(&cfg.Telemetry.Endpoint, validation.When(cfg.Telemetry.Enabled, validation.Required)),
			validation.Field(&cfg.Telemetry.SampleRatio, validation.Min(0.0), validation.Max(1.0)),
		)},
	}
	for _, c := range checks {
		if c.err != nil {
			return fmt.Errorf("%s: %w", c.section, c.err)
		}
	}

	// Everything below parses durations and names the offending field itself.
	if _, err := mapGatewayConfig(cfg); err != nil {
		return err
	}
	if _, err := mapGovernorConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := loadLocation("scheduler.timezone", mapSchedulerConfig(cfg).Timezone); err != nil {
		return err
	}
	if _, err := mapJobs(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCatalogConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapLockConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}
