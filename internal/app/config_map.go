package app

import (
	"fmt"
	"strings"
	"time"

	"expirybot/internal/dispatch"
	"expirybot/internal/gateway"
	"expirybot/internal/governor"
	"expirybot/internal/httpapi"
	"expirybot/internal/selector"
	"expirybot/internal/task/engine"
	"expirybot/internal/task/scheduler"
	"expirybot/internal/telemetry"
	logx "expirybot/pkg/logx"
)

const DefaultTimezone = "America/Cuiaba"

// Default job triggers and run budgets.
const (
	defaultVendorSchedule = "@every 30m"
	defaultClientSchedule = "0 8-18 * * *"
	defaultVendorTimeout  = 2 * time.Hour
	defaultClientTimeout  = 4 * time.Hour
)

func loadLocation(path, tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid %q: %w", path, tz, err)
	}
	return loc, nil
}

func mapLogConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:   cfg.Logging.Alert.Enabled,
			Phone:     cfg.Logging.Alert.Phone,
			MinLevel:  cfg.Logging.Alert.MinLevel,
			PerMinute: cfg.Logging.Alert.PerMinute,
		},
	}
}

func mapGatewayConfig(cfg *Config) (gateway.Config, error) {
	g := cfg.Gateway
	if strings.TrimSpace(g.BaseURL) == "" {
		return gateway.Config{}, fmt.Errorf("gateway.base_url is required")
	}
	if strings.TrimSpace(g.Instance) == "" {
		return gateway.Config{}, fmt.Errorf("gateway.instance is required")
	}
	out := gateway.Config{
		BaseURL:     g.BaseURL,
		APIKey:      g.APIKey,
		Instance:    strings.TrimSpace(g.Instance),
		CountryCode: strings.TrimSpace(cfg.Dispatch.CountryCode),
		MaxAttempts: g.MaxAttempts,
	}
	var err error
	if out.Timeout, err = parseDurationField("gateway.timeout", g.Timeout); err != nil {
		return gateway.Config{}, err
	}
	if out.StatusTimeout, err = parseDurationField("gateway.status_timeout", g.StatusTimeout); err != nil {
		return gateway.Config{}, err
	}
	if out.RetryBase, err = parseDurationField("gateway.retry_base", g.RetryBase); err != nil {
		return gateway.Config{}, err
	}
	if strings.TrimSpace(g.RetryPenalty) == "" {
		out.RetryPenalty = gateway.DefaultRetryPenalty
	} else if out.RetryPenalty, err = parseDurationField("gateway.retry_penalty", g.RetryPenalty); err != nil {
		return gateway.Config{}, err
	}
	if out.TypingDelay, err = parseDurationField("gateway.typing_delay", g.TypingDelay); err != nil {
		return gateway.Config{}, err
	}
	return out, nil
}

func mapGovernorConfig(cfg *Config) (governor.Config, error) {
	d := cfg.Dispatch
	minDelay, err := parseDurationOrDefault("dispatch.min_delay", d.MinDelay, governor.DefaultMinDelay)
	if err != nil {
		return governor.Config{}, err
	}
	maxDelay, err := parseDurationOrDefault("dispatch.max_delay", d.MaxDelay, governor.DefaultMaxDelay)
	if err != nil {
		return governor.Config{}, err
	}
	if maxDelay < minDelay {
		return governor.Config{}, fmt.Errorf("dispatch.max_delay (%s) must be >= dispatch.min_delay (%s)", maxDelay, minDelay)
	}
	pause, err := parseDurationOrDefault("dispatch.batch_pause", d.BatchPause, governor.DefaultBatchPause)
	if err != nil {
		return governor.Config{}, err
	}
	return governor.Config{MinDelay: minDelay, MaxDelay: maxDelay, BatchSize: d.BatchSize, BatchPause: pause}, nil
}

func mapDispatchConfig(cfg *Config) (dispatch.Config, selector.Options, error) {
	loc, err := loadLocation("dispatch.timezone", cfg.Dispatch.Timezone)
	if err != nil {
		return dispatch.Config{}, selector.Options{}, err
	}
	d := cfg.Dispatch
	dc := dispatch.Config{
		Location:    loc,
		CountryCode: strings.TrimSpace(d.CountryCode),
		VendorCap:   d.VendorItemCap,
		ClientCap:   d.ClientItemCap,
		MaxErrors:   d.MaxErrors,
	}
	so := selector.Options{
		InactiveDays: d.InactiveDays,
		CountryCode:  dc.CountryCode,
		Location:     loc,
	}
	return dc, so, nil
}

func mapEngineConfig(cfg *Config) (engine.Config, error) {
	te := cfg.TaskEngine
	def, err := parseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: def,
		HistorySize:    te.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *Config) scheduler.Config {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Dispatch.Timezone)
	}
	if tz == "" {
		tz = DefaultTimezone
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: tz}
}

// jobSpec is one resolved dispatch job registration.
type jobSpec struct {
	name     string
	channel  dispatch.Channel
	enabled  bool
	schedule string
	timeout  time.Duration
}

func mapJobs(cfg *Config) ([]jobSpec, error) {
	v, c := cfg.Scheduler.Vendor, cfg.Scheduler.Client
	vt, err := parseDurationOrDefault("scheduler.vendor.timeout", v.Timeout, defaultVendorTimeout)
	if err != nil {
		return nil, err
	}
	ct, err := parseDurationOrDefault("scheduler.client.timeout", c.Timeout, defaultClientTimeout)
	if err != nil {
		return nil, err
	}
	jobs := []jobSpec{
		{name: vendorJob, channel: dispatch.ChannelVendor, enabled: v.IsEnabled(), schedule: orDefault(v.Schedule, defaultVendorSchedule), timeout: vt},
		{name: clientJob, channel: dispatch.ChannelClient, enabled: c.IsEnabled(), schedule: orDefault(c.Schedule, defaultClientSchedule), timeout: ct},
	}
	for _, j := range jobs {
		if err := scheduler.ValidateSchedule(j.schedule); err != nil {
			return nil, fmt.Errorf("scheduler.%s.schedule: %w", j.channel, err)
		}
	}
	return jobs, nil
}

func mapHTTPConfig(cfg *Config) (httpapi.Config, error) {
	h := cfg.HTTP
	read, err := parseDurationField("http.read_timeout", h.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := parseDurationField("http.write_timeout", h.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:              strings.TrimSpace(h.Addr),
		ReadTimeout:       read,
		WriteTimeout:      write,
		TriggersPerMinute: h.TriggersPerMinute,
		APIKey:            h.APIKey,
		ServiceName:       orDefault(cfg.Telemetry.ServiceName, "expirybot"),
		Pprof: httpapi.PprofConfig{
			Enabled:              h.Pprof.Enabled,
			MutexProfileFraction: h.Pprof.MutexProfileFraction,
			BlockProfileRate:     h.Pprof.BlockProfileRate,
			MemProfileRate:       h.Pprof.MemProfileRate,
		},
	}, nil
}

func mapTelemetryConfig(cfg *Config, version string) telemetry.Config {
	t := cfg.Telemetry
	return telemetry.Config{
		Enabled:     t.Enabled,
		Endpoint:    strings.TrimSpace(t.Endpoint),
		Insecure:    t.Insecure,
		ServiceName: orDefault(t.ServiceName, "expirybot"),
		SampleRatio: t.SampleRatio,
		Version:     version,
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
