package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fluid-project/personal-data-server/internal/config"
	"github.com/fluid-project/personal-data-server/internal/domain"
	"github.com/fluid-project/personal-data-server/internal/repository"
)

// SchemaApplier creates the tables on startup.
type SchemaApplier interface {
	ApplySchema(ctx context.Context) error
}

// EnsureSchema applies the embedded DDL on start when DB_AUTO_MIGRATE is enabled.
func EnsureSchema(lc fx.Lifecycle, cfg config.Config, db SchemaApplier, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.DBAutoMigrate {
				logger.Info("schema bootstrap disabled")
				return nil
			}
			if err := db.ApplySchema(ctx); err != nil {
				return fmt.Errorf("bootstrap schema: %w", err)
			}
			logger.Info("schema applied")
			return nil
		},
	})
}

// SeedProviders upserts the configured provider credentials so the registry can resolve them.
// Run after EnsureSchema.
func SeedProviders(lc fx.Lifecycle, cfg config.Config, providers repository.ProviderRepository, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return seedProviders(ctx, cfg, providers, node, logger)
		},
	})
}

func seedProviders(ctx context.Context, cfg config.Config, providers repository.ProviderRepository, node *snowflake.Node, logger *zap.Logger) error {
	for name, ep := range cfg.Providers() {
		if strings.TrimSpace(ep.ClientID) == "" || strings.TrimSpace(ep.ClientSecret) == "" {
			logger.Warn("provider credentials not configured", zap.String("provider", name))
			continue
		}

		id := node.Generate().Int64()
		existing, err := providers.GetByName(ctx, name)
		switch {
		case err == nil:
			id = existing.ID
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("bootstrap lookup provider: %w", err)
		}

		if _, err := providers.Upsert(ctx, domain.SsoProvider{
			ID:           id,
			Name:         name,
			ClientID:     ep.ClientID,
			ClientSecret: ep.ClientSecret,
		}); err != nil {
			return fmt.Errorf("bootstrap provider %s: %w", name, err)
		}
		logger.Info("provider seeded", zap.String("provider", name), zap.Int64("provider_id", id))
	}
	return nil
}

// StatePurger deletes tracker records created before cutoff.
type StatePurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeStaleStates periodically removes tracker records that can no longer pass the
// anti-forgery check. Abandoned logins otherwise accumulate in referer_tracker.
func PurgeStaleStates(lc fx.Lifecycle, cfg config.Config, purger StatePurger, logger *zap.Logger) {
	if cfg.StateStore != config.StateStorePostgres || cfg.StateTTL <= 0 {
		return
	}
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})
			go func() {
				defer close(done)
				runPurgeLoop(runCtx, cfg.StateTTL, purger, logger)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func runPurgeLoop(ctx context.Context, ttl time.Duration, purger StatePurger, logger *zap.Logger) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			purged, err := purger.PurgeBefore(ctx, now.UTC().Add(-ttl))
			if err != nil {
				logger.Warn("purge stale states failed", zap.Error(err))
				continue
			}
			if purged > 0 {
				logger.Info("stale states purged", zap.Int64("count", purged))
			}
		}
	}
}
