// Package config provides configuration management for the dispatch service.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure shared by every
// process (server, worker, retrycontroller, scheduler).
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Bus        BusConfig
	Retry      RetryConfig
	Scheduler  SchedulerConfig
	Encryption EncryptionConfig
	SendGrid   SendGridConfig
	WhatsApp   WhatsAppConfig
	Migrations MigrationsConfig
}

// MigrationsConfig points at the golang-migrate source applied on startup.
type MigrationsConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds configuration for the status-history dedup cache.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// BusConfig holds NATS JetStream connection and topic-mapping configuration.
type BusConfig struct {
	URL             string            `mapstructure:"url"`
	Topics          map[string]string `mapstructure:"topics"`
	DLQTopics       map[string]string `mapstructure:"dlq_topics"`
	ConnectTimeout  time.Duration     `mapstructure:"connect_timeout"`
	PublishTimeout  time.Duration     `mapstructure:"publish_timeout"`
}

// RetryConfig holds Retry Controller tuning parameters.
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	Delay        time.Duration `mapstructure:"delay"`
	BatchSize    int           `mapstructure:"batch_size"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	CronSpec     string        `mapstructure:"cron_spec"`
}

// SchedulerConfig holds Scheduler tuning parameters.
type SchedulerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	CronSpec  string        `mapstructure:"cron_spec"`
}

// EncryptionConfig controls AES-GCM encryption-at-rest for sensitive columns.
type EncryptionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Key     string `mapstructure:"key"`
}

// SendGridConfig holds default timeout/endpoint settings for the email
// provider adapter, plus the final environment-level credential fallback
// tier consulted only when neither a site nor the global config has one.
type SendGridConfig struct {
	APIEndpoint      string        `mapstructure:"api_endpoint"`
	Timeout          time.Duration `mapstructure:"timeout"`
	DefaultAPIKey    string        `mapstructure:"default_api_key"`
	DefaultFromEmail string        `mapstructure:"default_from_email"`
	DefaultFromName  string        `mapstructure:"default_from_name"`
}

// WhatsAppConfig holds default timeout/endpoint settings for the WhatsApp
// provider adapter. Per-site credentials are resolved separately.
type WhatsAppConfig struct {
	APIEndpoint   string        `mapstructure:"api_endpoint"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	// DefaultAPIKey satisfies pkg/whatsapp.NewClient's non-empty-key
	// requirement; the shared client only ever sends with the per-tenant
	// key threaded through SendMessageWithKey, never this one.
	DefaultAPIKey string `mapstructure:"default_api_key"`
}

// Load loads and validates the service configuration from environment
// variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("DISPATCH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/dispatch/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "15m")

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("bus.connect_timeout", "10s")
	v.SetDefault("bus.publish_timeout", "5s")
	v.SetDefault("bus.topics", map[string]string{
		"EMAIL":    "notifications-email",
		"WHATSAPP": "notifications-whatsapp",
	})
	v.SetDefault("bus.dlq_topics", map[string]string{
		"EMAIL":    "notifications-email-dlq",
		"WHATSAPP": "notifications-whatsapp-dlq",
	})

	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.delay", "30s")
	v.SetDefault("retry.batch_size", 100)
	v.SetDefault("retry.scan_interval", "15s")

	v.SetDefault("scheduler.interval", "10s")
	v.SetDefault("scheduler.batch_size", 100)

	v.SetDefault("encryption.enabled", false)

	v.SetDefault("sendgrid.timeout", "30s")
	v.SetDefault("sendgrid.api_endpoint", "https://api.sendgrid.com/v3/mail/send")

	v.SetDefault("whatsapp.timeout", "30s")
	v.SetDefault("whatsapp.retry_attempts", 3)
	v.SetDefault("whatsapp.retry_delay", "5s")
	v.SetDefault("whatsapp.default_api_key", "unused-placeholder-key")

	v.SetDefault("migrations.path", "file://migrations")
}

// DSN builds the lib/pq connection string for the configured database.
func (cfg *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Name,
		cfg.Database.User, cfg.Database.Password, cfg.Database.SSLMode,
	)
}

// validate checks that every required configuration value is present and
// well-formed.
func (cfg *Config) validate() error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if cfg.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if cfg.Database.User == "" {
		return fmt.Errorf("database user is required")
	}

	if cfg.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if cfg.Redis.Port <= 0 || cfg.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d", cfg.Redis.Port)
	}

	if cfg.Bus.URL == "" {
		return fmt.Errorf("bus url is required")
	}
	if len(cfg.Bus.Topics) == 0 {
		return fmt.Errorf("at least one bus topic mapping is required")
	}

	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries cannot be negative")
	}
	if cfg.Retry.BatchSize <= 0 {
		return fmt.Errorf("retry batch_size must be positive")
	}

	if cfg.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler batch_size must be positive")
	}

	if cfg.Encryption.Enabled && cfg.Encryption.Key == "" {
		return fmt.Errorf("encryption key is required when encryption is enabled")
	}

	return nil
}
