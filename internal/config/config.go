// Package config handles configuration loading for StockGuard.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"stockguard/internal/archive"
	"stockguard/internal/auth"
	"stockguard/internal/detector"
	"stockguard/internal/logging"
	"stockguard/internal/notify"
	"stockguard/internal/storage"
	"stockguard/internal/throttle"
)

// Config holds the complete application configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Logging  logging.Config  `yaml:"logging"`
	Storage  StorageConfig   `yaml:"storage"`
	Throttle throttle.Config `yaml:"throttle"`
	Detector detector.Config `yaml:"detector"`
	Auth     auth.Config     `yaml:"auth"`
	Notify   NotifyConfig    `yaml:"notify"`
	Archive  archive.Config  `yaml:"archive"`
	Profiles ProfilesConfig  `yaml:"profiles"`
}

// ProfilesConfig seeds the per-actor trust profiles: which locations
// and devices each actor may use without raising alerts.
type ProfilesConfig struct {
	Locations map[string][]string `yaml:"locations"`
	Devices   map[string][]string `yaml:"devices"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// TrustProxy accepts X-Forwarded-For for rate limiting. Enable only
	// behind a proxy under our control.
	TrustProxy bool `yaml:"trust_proxy"`
}

// StorageConfig holds the audit store settings. When disabled the
// service keeps records in memory, which is only suitable for tests.
type StorageConfig struct {
	Enabled    bool                     `yaml:"enabled"`
	ClickHouse storage.ClickHouseConfig `yaml:"clickhouse"`
}

// NotifyConfig holds alert dispatch settings.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Kafka    KafkaConfig     `yaml:"kafka"`
}

// WebhookConfig configures one webhook alert destination.
type WebhookConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// KafkaConfig wraps the Kafka sink settings with an enable switch.
type KafkaConfig struct {
	Enabled bool `yaml:"enabled"`

	notify.KafkaConfig `yaml:",inline"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Logging: logging.DefaultConfig(),
		Storage: StorageConfig{
			Enabled:    false,
			ClickHouse: storage.DefaultClickHouseConfig(),
		},
		Throttle: throttle.DefaultConfig(),
		Detector: detector.DefaultConfig(),
		Auth:     auth.DefaultConfig(),
		Notify: NotifyConfig{
			Kafka: KafkaConfig{
				Enabled:     false,
				KafkaConfig: notify.DefaultKafkaConfig(),
			},
		},
		Archive: archive.DefaultConfig(),
	}
}

// Load reads configuration from the file named by STOCKGUARD_CONFIG_PATH
// (default configs/config.yaml), falling back to defaults when the file
// is absent, then applies environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("STOCKGUARD_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("STOCKGUARD_HTTP_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Server.HTTPPort = n
		}
	}

	if level := os.Getenv("STOCKGUARD_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if enabled := os.Getenv("STOCKGUARD_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Auth.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Auth.Redis.Password = pass
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Notify.Kafka.Enabled = true
		c.Notify.Kafka.Brokers = []string{brokers}
	}

	if bucket := os.Getenv("STOCKGUARD_ARCHIVE_BUCKET"); bucket != "" {
		c.Archive.Enabled = true
		c.Archive.S3.Bucket = bucket
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.Server.HTTPPort)
	}
	if c.Throttle.RequestsPerMinute < 1 {
		return fmt.Errorf("requests_per_minute must be positive")
	}
	if c.Detector.BusinessHoursStart < 0 || c.Detector.BusinessHoursStart > 23 ||
		c.Detector.BusinessHoursEnd < 0 || c.Detector.BusinessHoursEnd > 24 {
		return fmt.Errorf("business hours out of range")
	}
	if c.Detector.BusinessHoursStart >= c.Detector.BusinessHoursEnd {
		return fmt.Errorf("business hours start must precede end")
	}
	if c.Storage.Enabled && len(c.Storage.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("storage enabled but no clickhouse hosts configured")
	}
	for i, w := range c.Notify.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %d has no url", i)
		}
	}
	if c.Notify.Kafka.Enabled && len(c.Notify.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka notify enabled but no brokers configured")
	}
	if c.Archive.Enabled {
		if err := c.Archive.S3.Validate(); err != nil {
			return err
		}
	}
	return nil
}
