package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/fluid-project/personal-data-server/internal/adapter/cache"
	oauthadapter "github.com/fluid-project/personal-data-server/internal/adapter/oauth"
	"github.com/fluid-project/personal-data-server/internal/bootstrap"
	"github.com/fluid-project/personal-data-server/internal/config"
	httptransport "github.com/fluid-project/personal-data-server/internal/http"
	"github.com/fluid-project/personal-data-server/internal/http/handler"
	apimiddleware "github.com/fluid-project/personal-data-server/internal/middleware"
	"github.com/fluid-project/personal-data-server/internal/repository"
	"github.com/fluid-project/personal-data-server/internal/server"
	prefsservice "github.com/fluid-project/personal-data-server/internal/service/prefs"
	ssoservice "github.com/fluid-project/personal-data-server/internal/service/sso"
	"github.com/fluid-project/personal-data-server/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			telemetry.NewMetrics,
			newSnowflake,
			newPGXPool,
			repository.NewGateway,
			newProviderRepository,
			newAccountRepository,
			newLoginTokenRepository,
			newPreferencesRepository,
			repository.NewPostgresStateTracker,
			newStateTracker,
			newProviderClient,
			newRateLimiter,
			ssoservice.NewRegistry,
			ssoservice.NewIdentityService,
			prefsservice.NewService,
			newLoginTokenIssuer,
			ssoservice.NewService,
			handler.NewSSOHandler,
			handler.NewPrefsHandler,
			newHealthHandler,
			newHandlers,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, ensureSchema, bootstrap.SeedProviders, purgeStaleStates, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), telemetry.Options{
		Endpoint:    cfg.TelemetryEndpoint,
		Insecure:    cfg.TelemetryInsecure,
		ServiceName: cfg.ServiceName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newProviderRepository(gw *repository.Gateway) repository.ProviderRepository {
	return repository.NewPostgresProviderRepo(gw)
}

func newAccountRepository(gw *repository.Gateway) repository.AccountRepository {
	return repository.NewPostgresAccountRepo(gw)
}

func newLoginTokenRepository(gw *repository.Gateway) repository.LoginTokenRepository {
	return repository.NewPostgresLoginTokenRepo(gw)
}

func newPreferencesRepository(gw *repository.Gateway) repository.PreferencesRepository {
	return repository.NewPostgresPreferencesRepo(gw)
}

// newStateTracker selects the referer tracker backend. Redis is only dialled when selected.
func newStateTracker(lc fx.Lifecycle, cfg config.Config, pg *repository.PostgresStateTracker, logger *zap.Logger) (repository.StateTracker, error) {
	switch cfg.StateStore {
	case config.StateStoreRedis:
		client, err := newRedisClient(lc, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("state tracker backend", zap.String("store", config.StateStoreRedis), zap.String("addr", cfg.RedisAddr))
		return cacheadapter.NewRedisStateStore(client), nil
	default:
		logger.Info("state tracker backend", zap.String("store", config.StateStorePostgres))
		return pg, nil
	}
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newProviderClient() oauthadapter.ProviderClient {
	return oauthadapter.NewHTTPProviderClient(nil)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(map[string]int{
		apimiddleware.ScopeSSO:   cfg.SSORateLimitRPM,
		apimiddleware.ScopePrefs: cfg.PrefsRateLimitRPM,
	})
}

func newLoginTokenIssuer(prefs prefsservice.Service) ssoservice.LoginTokenIssuer {
	return prefs
}

func newHealthHandler(gw *repository.Gateway) *handler.HealthHandler {
	return handler.NewHealthHandler(gw)
}

func newHandlers(sso *handler.SSOHandler, prefs *handler.PrefsHandler, health *handler.HealthHandler) httptransport.Handlers {
	return httptransport.Handlers{SSO: sso, Prefs: prefs, Health: health}
}

func ensureSchema(lc fx.Lifecycle, cfg config.Config, gw *repository.Gateway, logger *zap.Logger) {
	bootstrap.EnsureSchema(lc, cfg, gw, logger)
}

func purgeStaleStates(lc fx.Lifecycle, cfg config.Config, pg *repository.PostgresStateTracker, logger *zap.Logger) {
	bootstrap.PurgeStaleStates(lc, cfg, pg, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
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
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
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

func useTelemetry(*telemetry.Provider) {}
