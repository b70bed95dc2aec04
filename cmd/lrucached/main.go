// Command lrucached hosts the homeserver caches and serves the admin API
// used to inspect and resize them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/p-blackswan/lrucache/internal/admin"
	"github.com/p-blackswan/lrucache/internal/caches"
	"github.com/p-blackswan/lrucache/internal/config"
	"github.com/p-blackswan/lrucache/internal/health"
	"github.com/p-blackswan/lrucache/internal/metrics"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	props, err := cfg.CacheProperties()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load cache properties")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("admin_addr", cfg.AdminListenAddr).
		Str("cache_config", cfg.CacheConfigPath).
		Float64("global_factor", props.GlobalFactor).
		Msg("starting lrucached")

	metricsRegistry := metrics.New()
	registry, err := caches.NewRegistry(props, metricsRegistry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create cache registry")
	}
	serverCaches, err := caches.NewServer(registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server caches")
	}

	checker := health.NewChecker(logger)
	checker.Register("caches", health.CacheCheck(registry.Stats))

	reload := func(_ context.Context) ([]string, error) {
		return reloadProperties(registry)
	}

	srv := admin.NewServer(admin.ServerConfig{
		ListenAddr: cfg.AdminListenAddr,
		Auth: admin.AuthConfig{
			Mode:      cfg.AdminAuthMode,
			APIKey:    cfg.AdminAPIKey,
			JWTSecret: []byte(cfg.AdminJWTSecret),
		},
		RateLimitRPS: cfg.AdminRateLimitRPS,
	}, registry, checker, metricsRegistry, reload, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("shutting down gracefully")
				return srv.Shutdown()
			case <-hup:
				if _, err := reloadProperties(registry); err != nil {
					logger.Error().Err(err).Msg("cache config reload failed, keeping previous factors")
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("lrucached exited with error")
	}

	logger.Info().
		Int("users_in_room", serverCaches.UsersInRoom.Len()).
		Int("state_events", serverCaches.StateEvents.Len()).
		Int("device_keys", serverCaches.DeviceKeys.Len()).
		Int("room_versions", serverCaches.RoomVersions.Len()).
		Msg("lrucached stopped")
}

// reloadProperties re-reads the environment and cache file and broadcasts
// the resulting factors.
func reloadProperties(registry *caches.Registry) ([]string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	props, err := cfg.CacheProperties()
	if err != nil {
		return nil, err
	}
	return registry.Apply(props)
}
