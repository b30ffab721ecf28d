package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/physiohub/progress-engine/config"
	"github.com/physiohub/progress-engine/internal/application"
	"github.com/physiohub/progress-engine/internal/application/command"
	"github.com/physiohub/progress-engine/internal/application/eventhandler"
	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/internal/infrastructure/locking"
	"github.com/physiohub/progress-engine/internal/infrastructure/messaging"
	"github.com/physiohub/progress-engine/internal/infrastructure/metrics"
	"github.com/physiohub/progress-engine/internal/infrastructure/persistence/guard"
	"github.com/physiohub/progress-engine/internal/infrastructure/persistence/memory"
	"github.com/physiohub/progress-engine/internal/infrastructure/persistence/postgres"
	"github.com/physiohub/progress-engine/internal/infrastructure/persistence/redis"
	httpserver "github.com/physiohub/progress-engine/internal/interface/http"
	"github.com/physiohub/progress-engine/internal/interface/http/handlers"
	"github.com/physiohub/progress-engine/pkg/logger"
	"github.com/physiohub/progress-engine/pkg/retry"
	"github.com/physiohub/progress-engine/pkg/timeutil"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the progress HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

// eventBus объединяет обе реализации шины.
type eventBus interface {
	shared.EventBus
	Close() error
}

func run(ctx context.Context, cfg *config.Config) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЛОГИРОВАНИЕ И МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting progress engine",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("timezone", cfg.App.Timezone),
		logger.String("achievement_policy", string(cfg.Engine.AchievementPolicy)),
		logger.String("streak_clock", string(cfg.Engine.StreakClock)),
	)

	m := metrics.New()
	clock := timeutil.SystemClock{}
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩЕ ПРОГРЕССА
	// ─────────────────────────────────────────────────────────────────────────
	var repo progress.Repository

	if cfg.UseInMemoryStore() {
		log.Warn("DATABASE_URL is not set, progress is kept in memory")
		repo = memory.NewProgressRepository(clock)
	} else {
		log.Info("connecting to database...")
		pgCfg := postgresConfig(cfg)
		pgCfg.Logger = log
		var conn *postgres.Connection
		err := retry.Startup().Do(ctx, func(ctx context.Context) error {
			var err error
			conn, err = postgres.NewConnection(ctx, pgCfg)
			return retry.Retryable(err)
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			log.Info("closing database connection...")
			conn.Close()
		}()

		if cfg.Database.AutoMigrate {
			n, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("migrations completed", logger.Int("applied", n))
		}

		health.AddCheck("postgres", handlers.NewPingCheck(conn))
		repo = guard.NewRepository(postgres.NewProgressRepository(conn, clock), nil, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS: КЕШ, РАСПРЕДЕЛЁННАЯ БЛОКИРОВКА (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	lockers := locking.Chain{locking.NewKeyedLocker()}
	var cache *redis.Cache

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...", logger.String("addr", cfg.Redis.Addr))
		var c *redis.Cache
		err := retry.Startup().Do(ctx, func(ctx context.Context) error {
			var err error
			c, err = redis.NewCache(ctx, redisConfig(cfg))
			return retry.Retryable(err)
		})
		if err != nil {
			// Без Redis движок работает, но без кеша и межпроцессной блокировки.
			if cfg.Engine.DistributedLock {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			log.Warn("redis unavailable, continuing without cache", logger.Err(err))
		} else {
			cache = c
			defer func() {
				if err := cache.Close(); err != nil {
					log.Warn("failed to close redis", logger.Err(err))
				}
			}()

			// Без распределённой блокировки Redis только ускоряет чтение.
			if cfg.Engine.DistributedLock {
				health.AddCheck("redis", handlers.NewPingCheck(cache))
			} else {
				health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
			}
			repo = redis.NewCachedRepository(repo, redis.NewProgressCache(cache), cfg.Engine.CacheTTL, log)

			if cfg.Engine.DistributedLock {
				lockCfg := redis.DefaultLockConfig()
				lockCfg.TTL = cfg.Engine.LockTTL
				lockers = append(lockers, redis.NewLearnerLocker(cache, lockCfg, log))
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS И ОБРАБОТЧИКИ
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	busCfg.Metrics = m

	var bus eventBus = messaging.NewInMemoryEventBus(busCfg)
	if cache != nil && cfg.Features.IsEnabled(config.FeatureEventsFanout, "") {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(cache),
			ChannelName:    cfg.Engine.EventChannel,
			LocalBusConfig: busCfg,
			Logger:         log,
		})
		if err != nil {
			log.Warn("redis event bus unavailable, events stay local", logger.Err(err))
		} else {
			bus = redisBus
		}
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("failed to close event bus", logger.Err(err))
		}
	}()

	if err := registerEventHandlers(bus, cfg, log); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ДВИЖОК ПРОГРЕССА
	// ─────────────────────────────────────────────────────────────────────────
	engine := application.NewEngine(command.PipelineConfig{
		Repository:   repo,
		Locker:       lockers,
		Publisher:    bus,
		Clock:        clock,
		Streaks:      progress.NewStreakEngine(cfg.Engine.StreakClock, cfg.App.Location),
		Achievements: progress.NewAchievementEngine(cfg.Engine.AchievementPolicy),
		MaxAttempts:  cfg.Engine.MaxAttempts,
		Logger:       log,
		Metrics:      m,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	deps := httpserver.Dependencies{
		Progress:      engine,
		Auth:          handlers.NewJWTAuth(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		HealthChecker: health,
		Logger:        log,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = m
	}
	if cache != nil && cfg.HTTP.RateLimitPerMin > 0 {
		deps.RateLimiter = redis.NewRateLimiter(cache, cfg.HTTP.RateLimitPerMin, time.Minute)
	}

	srv := httpserver.NewServer(httpConfig(cfg), deps)
	errCh := srv.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("progress engine is running", logger.String("http_address", httpConfig(cfg).Address()))

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			log.Error("http server error", logger.Err(err))
			return err
		}
	}

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	uptime := srv.Uptime()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}

	// Шина, Redis и база закрываются через defer в обратном порядке.
	log.Info("shutdown completed", logger.Duration("uptime", uptime.Round(time.Second)))
	return nil
}

// registerEventHandlers подписывает уведомления, управляемые feature flags.
func registerEventHandlers(bus shared.EventSubscriber, cfg *config.Config, log *logger.Logger) error {
	notifier := eventhandler.NewLogNotifier(log)

	onUnlocked := eventhandler.NewOnAchievementUnlockedHandler(notifier, log)
	onUnlocked.SetGate(cfg.Features.Gate(config.FeatureNotifyAchievement))
	if err := onUnlocked.Register(bus); err != nil {
		return err
	}

	onBroken := eventhandler.NewOnStreakBrokenHandler(notifier, cfg.Engine.StreakNotifyMin, log)
	onBroken.SetGate(cfg.Features.Gate(config.FeatureNotifyStreakBroken))
	return onBroken.Register(bus)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func postgresConfig(cfg *config.Config) postgres.Config {
	pg := postgres.DefaultConfig()
	pg.URL = cfg.Database.URL
	pg.MaxConns = int32(cfg.Database.MaxConns)
	pg.MinConns = int32(cfg.Database.MinConns)
	pg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	pg.ConnectTimeout = cfg.Database.ConnectTimeout
	pg.SlowQuery = cfg.Database.SlowQuery
	return pg
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.Addr = cfg.Redis.Addr
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}

func httpConfig(cfg *config.Config) httpserver.Config {
	hc := httpserver.DefaultConfig()
	hc.Host = cfg.HTTP.Host
	hc.Port = cfg.HTTP.Port
	hc.ReadTimeout = cfg.HTTP.ReadTimeout
	hc.WriteTimeout = cfg.HTTP.WriteTimeout
	hc.IdleTimeout = cfg.HTTP.IdleTimeout
	hc.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	hc.AllowedOrigins = cfg.HTTP.AllowedOrigins
	hc.EnableMetrics = cfg.Observability.MetricsEnabled
	hc.RateLimitPerMin = cfg.HTTP.RateLimitPerMin
	return hc
}
