package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "EXPIRYBOT"

// envOverrides holds deployment values that usually live outside the config file.
type envOverrides struct {
	GatewayBaseURL  string `envconfig:"GATEWAY_BASE_URL"`
	GatewayAPIKey   string `envconfig:"GATEWAY_API_KEY"`
	GatewayInstance string `envconfig:"GATEWAY_INSTANCE"`
	Timezone        string `envconfig:"TIMEZONE"`
	StorageDSN      string `envconfig:"STORAGE_DSN"`
	CatalogDSN      string `envconfig:"CATALOG_DSN"`
	RedisAddr       string `envconfig:"REDIS_ADDR"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD"`
	HTTPAddr        string `envconfig:"HTTP_ADDR"`
	HTTPAPIKey      string `envconfig:"HTTP_API_KEY"`
	AlertPhone      string `envconfig:"ALERT_PHONE"`
	OTLPEndpoint    string `envconfig:"OTLP_ENDPOINT"`
}

// ApplyEnv overlays EXPIRYBOT_* environment variables onto cfg.
// Empty variables leave the file value untouched.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("env: %w", err)
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Gateway.BaseURL, env.GatewayBaseURL)
	set(&cfg.Gateway.APIKey, env.GatewayAPIKey)
	set(&cfg.Gateway.Instance, env.GatewayInstance)
	set(&cfg.Dispatch.Timezone, env.Timezone)
	set(&cfg.Storage.DSN, env.StorageDSN)
	set(&cfg.Catalog.DSN, env.CatalogDSN)
	set(&cfg.Lock.Addr, env.RedisAddr)
	set(&cfg.Lock.Password, env.RedisPassword)
	set(&cfg.HTTP.Addr, env.HTTPAddr)
	set(&cfg.HTTP.APIKey, env.HTTPAPIKey)
	set(&cfg.Logging.Alert.Phone, env.AlertPhone)
	set(&cfg.Telemetry.Endpoint, env.OTLPEndpoint)
	return nil
}
