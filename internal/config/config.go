package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port                     string `mapstructure:"PORT"`
	DatabaseURL              string `mapstructure:"DB_DSN"`
	DBMaxConns               int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns               int32  `mapstructure:"DB_MIN_CONNS"`
	StoreDriver              string `mapstructure:"STORE_DRIVER"`
	FacilityTimezone         string `mapstructure:"FACILITY_TIMEZONE"`
	JoinMaxAttempts          int    `mapstructure:"JOIN_MAX_ATTEMPTS"`
	AutoResetIntervalSeconds int    `mapstructure:"AUTO_RESET_INTERVAL_SECONDS"`
	RateLimitPerMinute       int    `mapstructure:"RATE_LIMIT_PER_MIN"`
	RateLimitBurst           int    `mapstructure:"RATE_LIMIT_BURST"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	AuthJWTSecret            string `mapstructure:"AUTH_JWT_SECRET"`
	LogLevel                 string `mapstructure:"LOG_LEVEL"`
	LogFormat                string `mapstructure:"LOG_FORMAT"`
	MigrationsDir            string `mapstructure:"MIGRATIONS_DIR"`
	OTLPEndpoint             string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure             bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

var keys = []string{
	"PORT",
	"DB_DSN",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"STORE_DRIVER",
	"FACILITY_TIMEZONE",
	"JOIN_MAX_ATTEMPTS",
	"AUTO_RESET_INTERVAL_SECONDS",
	"RATE_LIMIT_PER_MIN",
	"RATE_LIMIT_BURST",
	"REDIS_URL",
	"AUTH_JWT_SECRET",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"MIGRATIONS_DIR",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_EXPORTER_OTLP_INSECURE",
}

// Load reads configuration from the environment, falling back to a .env file
// in the working directory when present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("FACILITY_TIMEZONE", "UTC")
	v.SetDefault("JOIN_MAX_ATTEMPTS", 5)
	v.SetDefault("AUTO_RESET_INTERVAL_SECONDS", 0)
	v.SetDefault("RATE_LIMIT_PER_MIN", 120)
	v.SetDefault("RATE_LIMIT_BURST", 30)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	return cfg, nil
}

// Validate checks the settings needed before any component is built.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DB_DSN is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.JoinMaxAttempts < 1 {
		return fmt.Errorf("JOIN_MAX_ATTEMPTS must be at least 1, got %d", c.JoinMaxAttempts)
	}
	if c.AutoResetIntervalSeconds < 0 {
		return fmt.Errorf("AUTO_RESET_INTERVAL_SECONDS must not be negative")
	}
	return nil
}

// Location resolves FACILITY_TIMEZONE, the zone that decides where one queue
// day ends and the next begins.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.FacilityTimezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("FACILITY_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

func (c *Config) AutoResetInterval() time.Duration {
	if c.AutoResetIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.AutoResetIntervalSeconds) * time.Second
}
