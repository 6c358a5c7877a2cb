package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/quantfold/etfbot/internal/blob/s3"
	"github.com/quantfold/etfbot/internal/cache/redis"
	"github.com/quantfold/etfbot/internal/config"
	"github.com/quantfold/etfbot/internal/domain"
	"github.com/quantfold/etfbot/internal/store/postgres"
)

// Dependencies bundles the optional backends the pipeline taps into. Every
// field may be nil: the bot records to CSV regardless, and each backend is
// wired only when its config section is enabled.
type Dependencies struct {
	TickStore  domain.TickStore
	PriceCache domain.PriceCache
	BlobWriter domain.BlobWriter
}

// Wire constructs the enabled backend implementations from the configuration
// and returns them with a cleanup function that releases connections in
// reverse order on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if cfg.Database.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.TickStore = postgres.NewTickStore(pgClient.Pool(), cfg.Data.Source)
		logger.Info("tick archive enabled", slog.String("database", cfg.Database.Database))
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		logger.Info("price cache enabled", slog.String("addr", cfg.Redis.Addr))
	}

	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 health: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		logger.Info("end of day archive enabled", slog.String("bucket", cfg.S3.Bucket))
	}

	return deps, cleanup, nil
}
