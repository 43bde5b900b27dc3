package config

import (
	"reflect"
	"sort"
	"strings"

	logx "expirybot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never secrets or DSNs), and
// (3) the changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	restart := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 20)

	// Gateway (never log api key)
	og, ng := oldCfg.Gateway, newCfg.Gateway
	keyChanged := og.APIKey != ng.APIKey
	og.APIKey, ng.APIKey = "", ""
	if og != ng || keyChanged {
		changed = append(changed, "gateway")
		restart = append(restart, "gateway")
		attrs = append(attrs,
			logx.String("gateway.base_url", strings.TrimSpace(ng.BaseURL)),
			logx.String("gateway.instance", strings.TrimSpace(ng.Instance)),
			logx.Bool("gateway.api_key_changed", keyChanged),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		d := newCfg.Dispatch
		attrs = append(attrs,
			logx.String("dispatch.timezone", d.Timezone),
			logx.String("dispatch.min_delay", d.MinDelay),
			logx.String("dispatch.max_delay", d.MaxDelay),
			logx.Int("dispatch.batch_size", d.BatchSize),
			logx.String("dispatch.batch_pause", d.BatchPause),
			logx.Int("dispatch.vendor_item_cap", d.VendorItemCap),
			logx.Int("dispatch.client_item_cap", d.ClientItemCap),
			logx.Int("dispatch.inactive_days", d.InactiveDays),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		s := newCfg.Scheduler
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", s.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
			logx.String("scheduler.vendor", s.Vendor.Schedule),
			logx.Bool("scheduler.vendor_enabled", s.Vendor.IsEnabled()),
			logx.String("scheduler.client", s.Client.Schedule),
			logx.Bool("scheduler.client_enabled", s.Client.IsEnabled()),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
		restart = append(restart, "task_engine")
		te := newCfg.TaskEngine
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(te.DefaultTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if oldCfg.Catalog != newCfg.Catalog {
		changed = append(changed, "catalog")
		restart = append(restart, "catalog")
		attrs = append(attrs, logx.String("catalog.driver", strings.TrimSpace(newCfg.Catalog.Driver)))
	}

	if oldCfg.Lock != newCfg.Lock {
		changed = append(changed, "lock")
		restart = append(restart, "lock")
		attrs = append(attrs, logx.Bool("lock.enabled", newCfg.Lock.Enabled))
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	apiKeyChanged := oh.APIKey != nh.APIKey
	oh.APIKey, nh.APIKey = "", ""
	if oh != nh || apiKeyChanged {
		changed = append(changed, "http")
		restart = append(restart, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.api_key_changed", apiKeyChanged),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	if oldCfg.Telemetry != newCfg.Telemetry {
		changed = append(changed, "telemetry")
		restart = append(restart, "telemetry")
		attrs = append(attrs, logx.Bool("telemetry.enabled", newCfg.Telemetry.Enabled))
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
