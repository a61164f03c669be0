// Package app wires the shared infrastructure every dispatch process needs
// (database, cache, bus, logger, migrations) into one bootstrap step, so the
// four cmd/ entry points differ only in which component they run on top of
// it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/notifyhub/dispatch/internal/bus"
	"github.com/notifyhub/dispatch/internal/config"
	"github.com/notifyhub/dispatch/internal/credentials"
	"github.com/notifyhub/dispatch/internal/ledger"
	"github.com/notifyhub/dispatch/internal/repository"
)

// Deps bundles the shared dependencies constructed from configuration.
type Deps struct {
	Config      *config.Config
	Logger      zerolog.Logger
	DB          *sql.DB
	Redis       *redis.Client
	Bus         *bus.Bus
	Messages    *repository.MessageRepository
	Sites       *repository.SiteRepository
	Sessions    *repository.ChannelSessionRepository
	GlobalCfg   *repository.GlobalProviderConfigRepository
	Ledger      *ledger.Ledger
	EnvDefaults credentials.EnvDefaults
}

// Bootstrap loads configuration, opens the database and cache connections,
// applies pending migrations, and assembles the repositories and ledger
// shared by every process.
func Bootstrap(ctx context.Context, serviceName string) (*Deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := zerolog.New(zerolog.NewConsoleWriter()).With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(cfg, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	var encryptionKey []byte
	if cfg.Encryption.Enabled {
		encryptionKey = []byte(cfg.Encryption.Key)
	}

	messages, err := repository.NewMessageRepository(db, cfg, encryptionKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("constructing message repository: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	messageBus, err := bus.New(cfg, logger)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, fmt.Errorf("connecting to bus: %w", err)
	}

	return &Deps{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Redis:     redisClient,
		Bus:       messageBus,
		Messages:  messages,
		Sites:     repository.NewSiteRepository(db),
		Sessions:  repository.NewChannelSessionRepository(db),
		GlobalCfg: repository.NewGlobalProviderConfigRepository(db),
		Ledger:    ledger.New(db, redisClient, messages),
		EnvDefaults: credentials.EnvDefaults{
			SendGridAPIKey:   cfg.SendGrid.DefaultAPIKey,
			EmailFromAddress: cfg.SendGrid.DefaultFromEmail,
			EmailFromName:    cfg.SendGrid.DefaultFromName,
		},
	}, nil
}

// Close releases the database, cache, and bus connections.
func (d *Deps) Close() {
	d.Bus.Close()
	_ = d.Redis.Close()
	_ = d.DB.Close()
}

func runMigrations(cfg *config.Config, logger zerolog.Logger) error {
	driver, err := postgres.WithInstance(mustOpenForMigration(cfg), &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.Migrations.Path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("loading migrations from %s: %w", cfg.Migrations.Path, err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}

	logger.Info().Msg("migrations up to date")
	return nil
}

// mustOpenForMigration opens a short-lived connection dedicated to the
// migration driver, kept separate from the pooled connection returned to
// callers since golang-migrate takes ownership of the *sql.DB it wraps.
func mustOpenForMigration(cfg *config.Config) *sql.DB {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open migration connection: %v\n", err)
		os.Exit(1)
	}
	return db
}
