package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Secrets (gateway API key, DSNs, redis password) are usually supplied through
// EXPIRYBOT_* environment variables; see env.go.
type Config struct {
	Gateway    GatewayConfig    `json:"gateway"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Storage    StorageConfig    `json:"storage"`
	Catalog    CatalogConfig    `json:"catalog"`
	Lock       LockConfig       `json:"lock"`
	HTTP       HTTPConfig       `json:"http"`
	Logging    LoggingConfig    `json:"logging"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
}

// GatewayConfig points at one Evolution API instance.
//
// Defaults:
//   - timeout: "45s" (per send attempt)
//   - status_timeout: "10s"
//   - max_attempts: 3
//   - retry_base: "2s", retry_penalty: "10s"
//   - typing_delay: "1500ms"
type GatewayConfig struct {
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key,omitempty"`
	Instance string `json:"instance"`

	Timeout       string `json:"timeout,omitempty"`
	StatusTimeout string `json:"status_timeout,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryPenalty  string `json:"retry_penalty,omitempty"`
	TypingDelay   string `json:"typing_delay,omitempty"`
}

// DispatchConfig controls pacing, chunking and eligibility.
//
// Defaults:
//   - timezone: "America/Cuiaba"
//   - country_code: "55"
//   - min_delay: "3s", max_delay: "7s"
//   - batch_size: 10, batch_pause: "30s"
//   - vendor_item_cap: 25, client_item_cap: 20
//   - inactive_days: 30
//   - max_errors: 20 (errors kept in a run summary)
type DispatchConfig struct {
	Timezone    string `json:"timezone,omitempty"`
	CountryCode string `json:"country_code,omitempty"`

	MinDelay   string `json:"min_delay,omitempty"`
	MaxDelay   string `json:"max_delay,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
	BatchPause string `json:"batch_pause,omitempty"`

	VendorItemCap int `json:"vendor_item_cap,omitempty"`
	ClientItemCap int `json:"client_item_cap,omitempty"`
	InactiveDays  int `json:"inactive_days,omitempty"`
	MaxErrors     int `json:"max_errors,omitempty"`
}

// SchedulerConfig controls the periodic triggers.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone. Empty means dispatch.timezone.
	Timezone string `json:"timezone,omitempty"`

	Vendor JobConfig `json:"vendor"`
	Client JobConfig `json:"client"`
}

// JobConfig is one scheduled dispatch job.
//
// Schedule accepts cron ("0 8-18 * * *"), descriptors ("@every 30m"),
// bare durations ("30m") and HH:MM intervals ("01:30" = every 90 minutes).
type JobConfig struct {
	// Enabled is a pointer so an omitted block defaults to on.
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (j JobConfig) IsEnabled() bool { return j.Enabled == nil || *j.Enabled }

// TaskEngineConfig controls the task execution engine.
//
// Defaults:
//   - workers: 1
//   - queue_size: 16
//   - default_timeout: "0s" (disabled)
//   - history_size: 100
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// StorageConfig selects the delivery ledger backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/expirybot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	// AutoMigrate applies embedded migrations on open (default true).
	AutoMigrate *bool `json:"auto_migrate,omitempty"`
}

// CatalogConfig points at the products/clients/phone_numbers database.
type CatalogConfig struct {
	Driver string `json:"driver"` // postgres | sqlite
	DSN    string `json:"dsn,omitempty"`
}

// LockConfig enables the cross-process run lock.
type LockConfig struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	TTL       string `json:"ttl,omitempty"` // default "2h"
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// HTTPConfig controls the operator API and webhook listener.
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default ":8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// TriggersPerMinute rate limits the trigger/send routes (default 6).
	TriggersPerMinute int  `json:"triggers_per_minute,omitempty"`
	Metrics           bool `json:"metrics"`
	// APIKey, when set, is required in X-API-Key on /api routes.
	APIKey string      `json:"api_key,omitempty"`
	Pprof  PprofConfig `json:"pprof"`
}

// PprofConfig exposes /debug/pprof on the API listener. Keep it off on
// listeners reachable from outside unless api_key is set.
type PprofConfig struct {
	Enabled              bool `json:"enabled"`
	MutexProfileFraction int  `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int  `json:"block_profile_rate,omitempty"`
	MemProfileRate       int  `json:"mem_profile_rate,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards warnings to an operator phone via the gateway.
type LoggingAlert struct {
	Enabled   bool   `json:"enabled"`
	Phone     string `json:"phone,omitempty"`
	MinLevel  string `json:"min_level,omitempty"`
	PerMinute int    `json:"per_minute,omitempty"`
}

// TelemetryConfig exports traces over OTLP/HTTP.
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint,omitempty"` // host:port
	Insecure    bool    `json:"insecure,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty"`
}
