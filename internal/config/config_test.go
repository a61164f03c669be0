package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Host: "db", Name: "dispatch", User: "dispatch"},
		Redis:    RedisConfig{Host: "redis", Port: 6379},
		Bus: BusConfig{
			URL:    "nats://localhost:4222",
			Topics: map[string]string{"EMAIL": "notifications-email"},
		},
		Retry:     RetryConfig{MaxRetries: 5, BatchSize: 100},
		Scheduler: SchedulerConfig{BatchSize: 100},
	}
}

func TestDSN_FormatsLibpqConnectionString(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Host: "db.internal", Port: 5432, Name: "dispatch",
		User: "app", Password: "secret", SSLMode: "require",
	}}

	require.Equal(t, "host=db.internal port=5432 dbname=dispatch user=app password=secret sslmode=require", cfg.DSN())
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, validConfig().validate())
}

func TestValidate_RejectsInvalidServerPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	require.Error(t, cfg.validate())
}

func TestValidate_RejectsMissingDatabaseHost(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Host = ""
	require.Error(t, cfg.validate())
}

func TestValidate_RejectsMissingBusTopics(t *testing.T) {
	cfg := validConfig()
	cfg.Bus.Topics = nil
	require.Error(t, cfg.validate())
}

func TestValidate_RejectsNegativeMaxRetries(t *testing.T) {
	cfg := validConfig()
	cfg.Retry.MaxRetries = -1
	require.Error(t, cfg.validate())
}

func TestValidate_RejectsEncryptionEnabledWithoutKey(t *testing.T) {
	cfg := validConfig()
	cfg.Encryption = EncryptionConfig{Enabled: true}
	require.Error(t, cfg.validate())
}

func TestValidate_RejectsNonPositiveSchedulerBatchSize(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.BatchSize = 0
	require.Error(t, cfg.validate())
}

func TestSetDefaults_PopulatesMigrationsPath(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	require.Equal(t, "file://migrations", v.GetString("migrations.path"))
	require.Equal(t, 30*time.Second, v.GetDuration("sendgrid.timeout"))
}
