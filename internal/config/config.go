// Package config loads the server configuration from a YAML file, .env
// files and INDEXHUB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/slipstream/indexhub/internal/indexer/proxy"
	"github.com/slipstream/indexhub/internal/indexer/ratelimit"
	"github.com/slipstream/indexhub/internal/indexer/search"
	"github.com/slipstream/indexhub/internal/indexer/status"
	"github.com/slipstream/indexhub/internal/logger"
)

// EnvPrefix prefixes every environment override, e.g. INDEXHUB_SERVER_PORT.
const EnvPrefix = "INDEXHUB"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Database  DatabaseConfig       `mapstructure:"database"`
	Logging   logger.Config        `mapstructure:"logging"`
	Health    status.BackoffConfig `mapstructure:"health"`
	Search    search.Config        `mapstructure:"search"`
	RateLimit ratelimit.Config     `mapstructure:"rateLimit"`
	Links     LinksConfig          `mapstructure:"links"`
	Proxy     proxy.Config         `mapstructure:"proxy"`
	Scheduler SchedulerConfig      `mapstructure:"scheduler"`
	Backends  BackendsConfig       `mapstructure:"backends"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// URLBase is prepended to every mapped link, e.g. "/indexhub".
	URLBase string `mapstructure:"urlBase"`
	// TrustProxy honors X-Forwarded-For, X-Forwarded-Host and
	// X-Forwarded-Proto. Enable it only behind a reverse proxy.
	TrustProxy bool `mapstructure:"trustProxy"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LinksConfig holds the secret download tokens are sealed with.
type LinksConfig struct {
	Secret string `mapstructure:"secret"`
}

// SchedulerConfig holds the cron expressions of the maintenance tasks.
type SchedulerConfig struct {
	HealthSnapshot string        `mapstructure:"healthSnapshot"`
	HealthProbe    string        `mapstructure:"healthProbe"`
	AuditPrune     string        `mapstructure:"auditPrune"`
	AuditRetention time.Duration `mapstructure:"auditRetention"`
}

// BackendsConfig points at the backend definitions file.
type BackendsConfig struct {
	File string `mapstructure:"file"`
	// KeyringService is used for "keyring:user" references without a service.
	KeyringService string `mapstructure:"keyringService"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 9696,
		},
		Database: DatabaseConfig{
			Path: "./data/indexhub.db",
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "console",
		},
		Health:    status.DefaultBackoffConfig(),
		Search:    search.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Proxy:     proxy.DefaultConfig(),
		Scheduler: SchedulerConfig{
			HealthSnapshot: "*/5 * * * *",
			HealthProbe:    "*/15 * * * *",
			AuditPrune:     "0 3 * * *",
			AuditRetention: 30 * 24 * time.Hour,
		},
		Backends: BackendsConfig{
			File:           "./backends.yaml",
			KeyringService: "indexhub",
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > .env files > config file > defaults
func Load(configPath string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, Default())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.indexhub")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads .env files without overriding variables that are
// already set. A missing default .env is not an error.
func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.urlBase", d.Server.URLBase)
	v.SetDefault("server.trustProxy", d.Server.TrustProxy)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", d.Logging.Path)
	v.SetDefault("logging.maxSizeMB", d.Logging.MaxSizeMB)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
	v.SetDefault("logging.maxAgeDays", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("health.failureThreshold", d.Health.FailureThreshold)
	v.SetDefault("health.initialBackoff", d.Health.InitialBackoff)
	v.SetDefault("health.maxBackoff", d.Health.MaxBackoff)
	v.SetDefault("health.multiplier", d.Health.Multiplier)
	v.SetDefault("health.rateLimitBackoff", d.Health.RateLimitBackoff)
	v.SetDefault("health.rateLimitMaxBackoff", d.Health.RateLimitMaxBackoff)

	v.SetDefault("search.timeout", d.Search.Timeout)
	v.SetDefault("search.maxPages", d.Search.MaxPages)
	v.SetDefault("search.maxResults", d.Search.MaxResults)

	v.SetDefault("rateLimit.queryInterval", d.RateLimit.QueryInterval)
	v.SetDefault("rateLimit.queryBurst", d.RateLimit.QueryBurst)
	v.SetDefault("rateLimit.queryLimit", d.RateLimit.QueryLimit)
	v.SetDefault("rateLimit.queryPeriod", d.RateLimit.QueryPeriod)
	v.SetDefault("rateLimit.grabLimit", d.RateLimit.GrabLimit)
	v.SetDefault("rateLimit.grabPeriod", d.RateLimit.GrabPeriod)

	v.SetDefault("links.secret", d.Links.Secret)

	v.SetDefault("proxy.attempts", d.Proxy.Attempts)
	v.SetDefault("proxy.retryDelay", d.Proxy.RetryDelay)
	v.SetDefault("proxy.timeout", d.Proxy.Timeout)
	v.SetDefault("proxy.userAgent", d.Proxy.UserAgent)

	v.SetDefault("scheduler.healthSnapshot", d.Scheduler.HealthSnapshot)
	v.SetDefault("scheduler.healthProbe", d.Scheduler.HealthProbe)
	v.SetDefault("scheduler.auditPrune", d.Scheduler.AuditPrune)
	v.SetDefault("scheduler.auditRetention", d.Scheduler.AuditRetention)

	v.SetDefault("backends.file", d.Backends.File)
	v.SetDefault("backends.keyringService", d.Backends.KeyringService)
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.URLBase != "" && !strings.HasPrefix(c.Server.URLBase, "/") {
		return fmt.Errorf("url base %q must start with /", c.Server.URLBase)
	}
	if err := c.Health.Validate(); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
