package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/akave-ai/clockwork/internal/config"
	"github.com/akave-ai/clockwork/internal/database"
	"github.com/akave-ai/clockwork/internal/repository"
	"github.com/akave-ai/clockwork/internal/storage"
)

// openStorage builds the backend named by cfg.Storage.Driver. The returned
// close func releases whatever the backend holds open.
func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.Storage, func(), error) {
	sc := cfg.Storage
	expiration := time.Duration(sc.Expiration) * time.Minute
	noop := func() {}

	codec, err := storage.NewCodec(sc.Format, sc.Compress)
	if err != nil {
		return nil, noop, err
	}

	switch sc.Driver {
	case "files":
		s, err := storage.NewFileStorage(sc.Files.Path, codec, expiration)
		return s, noop, err

	case "sqlite":
		s, err := storage.NewSQLiteStorage(sc.SQLite.Path, sc.SQLite.PoolSize, codec, expiration)
		if err != nil {
			return nil, noop, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn().Err(err).Msg("close sqlite storage")
			}
		}, nil

	case "sql":
		if err := database.RunMigrations(ctx, database.DSN(cfg.Database)); err != nil {
			return nil, noop, fmt.Errorf("migrations: %w", err)
		}
		pool, err := database.NewPool(ctx, cfg.Database, logger, cfg.NewRelic.Enable)
		if err != nil {
			return nil, noop, fmt.Errorf("database pool: %w", err)
		}
		return repository.NewRequestRepository(pool, expiration), pool.Close, nil

	case "s3":
		s, err := storage.NewS3Storage(sc.S3, codec)
		if err != nil {
			return nil, noop, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Str("bucket", sc.S3.Bucket).Msg("s3 ensure bucket (storing may fail)")
		}
		return s, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown storage driver %q", sc.Driver)
}

// runCleanup expires old records every interval until ctx is done.
func runCleanup(ctx context.Context, c storage.Cleaner, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Cleanup(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("clockwork cleanup")
				continue
			}
			if n > 0 {
				logger.Debug().Int("removed", n).Msg("clockwork cleanup")
			}
		}
	}
}
