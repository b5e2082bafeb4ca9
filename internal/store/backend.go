package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/veracity/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// BackendConfig selects and locates the storage backends.
type BackendConfig struct {
	Kind           string // postgres, sqlite or memory
	DatabaseURL    string
	MigrationsPath string
	SQLitePath     string

	Submissions   string // store or redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Backend bundles the three stores the engine needs plus the health checks
// and cleanup of whatever connections were opened for them.
type Backend struct {
	Signals     domain.SignalStore
	Submissions domain.SubmissionStore
	Settlements domain.SettlementStore
	Checks      map[string]func(ctx context.Context) error

	closers []func() error
}

// OpenBackend connects the configured backends. On error everything opened
// so far is closed again.
func OpenBackend(ctx context.Context, cfg BackendConfig, logger *zap.Logger) (*Backend, error) {
	b := &Backend{Checks: make(map[string]func(ctx context.Context) error)}

	switch cfg.Kind {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if cfg.MigrationsPath != "" {
			applied, err := ApplyMigrations(ctx, pool, cfg.MigrationsPath)
			if err != nil {
				b.Close()
				return nil, err
			}
			logger.Info("migrations applied", zap.Strings("files", applied))
		}
		b.Signals = NewSignalStore(pool)
		b.Submissions = NewSubmissionStore(pool)
		b.Settlements = NewSettlementStore(pool)
		logger.Info("connected to database")

	case "sqlite":
		db, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		b.Signals = db.Signals()
		b.Submissions = db.Submissions()
		b.Settlements = db.Settlements()
		logger.Info("opened sqlite database", zap.String("path", cfg.SQLitePath))

	case "memory":
		b.Signals = NewInMemorySignalStore()
		b.Submissions = NewInMemorySubmissionStore()
		b.Settlements = NewInMemorySettlementStore()
		logger.Warn("using in-memory store, state is lost on restart")

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Kind)
	}

	switch cfg.Submissions {
	case "", "store":
	case "redis":
		client, err := NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.Submissions = NewRedisSubmissionStore(client)
		b.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info("buffering submissions in redis", zap.String("addr", cfg.RedisAddr))
	default:
		b.Close()
		return nil, fmt.Errorf("unknown submission backend %q", cfg.Submissions)
	}

	return b, nil
}

// Close releases connections in reverse order of opening.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
