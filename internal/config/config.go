package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Addresses AddressConfig
	Cache     CacheConfig
	Observe   ObserveConfig
	Schedule  ScheduleConfig
	Server    ServerConfig
	Vendor    VendorConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`
}

// VendorConfig describes how the vendor API is reached.
type VendorConfig struct {
	BaseURL   string `env:"VENDOR_BASE_URL, default=https://kundapi.affarsverken.se/api/v1/open-api"`
	BrandName string `env:"VENDOR_BRAND_NAME, default=Affarsverken"`

	// Timeout bounds every outgoing request so that a hung call cannot stall
	// an address's refresh cycle indefinitely.
	Timeout time.Duration `env:"VENDOR_HTTP_TIMEOUT, default=30s"`

	MaxIdleConns    int `env:"VENDOR_MAX_IDLE_CONNS, default=10"`
	MaxConnsPerHost int `env:"VENDOR_MAX_CONNS_PER_HOST, default=4"`
}

// CacheConfig locates the persisted cache document.
type CacheConfig struct {
	File string `env:"CACHE_FILE, default=affarsverken_config.json"`

	// BuildingLifetime is how long a resolved building query key is reused
	// before the address is searched again.
	BuildingLifetime time.Duration `env:"BUILDING_CACHE_LIFETIME, default=720h"`
}

type ScheduleConfig struct {
	Interval     time.Duration `env:"REFRESH_INTERVAL, default=12h"`
	CycleTimeout time.Duration `env:"REFRESH_CYCLE_TIMEOUT, default=2m"`

	// RequireFirstSuccess stops startup when any address fails its first
	// refresh. Otherwise such addresses stay not ready until a later cycle
	// succeeds.
	RequireFirstSuccess bool `env:"REFRESH_REQUIRE_FIRST_SUCCESS, default=false"`
}

// AddressConfig lists the addresses to poll. Either or both sources may be
// given; at least one address must result.
type AddressConfig struct {
	// File is a YAML document with an "addresses" list.
	File string `env:"ADDRESSES_FILE"`

	// Inline is a ";" separated list of "address" or "address=name" items.
	Inline string `env:"ADDRESSES"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=waste-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Vendor.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid vendor configuration: %w", err)
	}

	if err := cfg.Schedule.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid schedule configuration: %w", err)
	}

	if cfg.Addresses.File == "" && cfg.Addresses.Inline == "" {
		return cfg, errors.New("ADDRESSES_FILE or ADDRESSES must be configured")
	}

	return cfg, nil
}

// Validate checks that the vendor base URL is usable.
func (c *VendorConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("VENDOR_BASE_URL could not be parsed: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("VENDOR_BASE_URL must be an absolute URL: %s", c.BaseURL)
	}
	if c.Timeout <= 0 {
		return errors.New("VENDOR_HTTP_TIMEOUT must be positive")
	}
	return nil
}

func (c *ScheduleConfig) Validate() error {
	if c.Interval <= 0 {
		return errors.New("REFRESH_INTERVAL must be positive")
	}
	if c.CycleTimeout <= 0 {
		return errors.New("REFRESH_CYCLE_TIMEOUT must be positive")
	}
	return nil
}
