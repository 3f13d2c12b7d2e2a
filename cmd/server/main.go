// Package main - точка входа HTTP API Smart Analytics.
//
// Сервер загружает текущую ведомость (Redis, затем PostgreSQL), разрешает
// сессии, выданные сервисом входа, и отдаёт каждому пользователю только те
// записи учеников, которые ему положено видеть.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/analizadordatos/smart-analytics/config"

	// Application layer
	"github.com/analizadordatos/smart-analytics/internal/application/command"
	"github.com/analizadordatos/smart-analytics/internal/application/query"

	// Domain layer
	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/analytics"
	"github.com/analizadordatos/smart-analytics/internal/domain/roster"

	// Infrastructure layer
	"github.com/analizadordatos/smart-analytics/internal/infrastructure/auth"
	"github.com/analizadordatos/smart-analytics/internal/infrastructure/persistence/postgres"
	"github.com/analizadordatos/smart-analytics/internal/infrastructure/persistence/redis"
	"github.com/analizadordatos/smart-analytics/internal/infrastructure/scheduler"
	"github.com/analizadordatos/smart-analytics/internal/infrastructure/scheduler/jobs"

	// Interface layer
	httpserver "github.com/analizadordatos/smart-analytics/internal/interface/http"
	"github.com/analizadordatos/smart-analytics/internal/interface/http/handlers"

	// Packages
	"github.com/analizadordatos/smart-analytics/pkg/circuitbreaker"
	"github.com/analizadordatos/smart-analytics/pkg/logger"
	"github.com/analizadordatos/smart-analytics/pkg/retry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.NewFromConfig(cfg.Observability.LogLevel, cfg.Observability.LogFormat).
		With(logger.String("app", cfg.App.Name))

	log.Info("starting Smart Analytics API",
		logger.String("version", cfg.App.Version),
		logger.String("environment", string(cfg.App.Environment)),
		logger.String("auth_mode", cfg.Auth.Mode),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ (опционально вне production)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		dbConn     *postgres.Connection
		rosterRepo roster.Repository
	)

	if cfg.Database.URL != "" {
		log.Info("connecting to database...")
		dbConn, err = connectDatabase(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			log.Info("closing database connection...")
			dbConn.Close()
		}()
		log.Info("database connection established")

		// ─────────────────────────────────────────────────────────────────────
		// 4. МИГРАЦИИ
		// ─────────────────────────────────────────────────────────────────────
		if cfg.Database.AutoMigrate {
			applied, err := postgres.NewMigrator(dbConn).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date", logger.Int("applied", applied))
		}

		rosterRepo = postgres.NewRosterRepository(dbConn)
	} else {
		log.Warn("DATABASE_URL is not set, analyzed rosters will not survive a restart")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache  *redis.Cache
		rosterCache *redis.RosterCache
	)

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCache, err = connectRedis(ctx, cfg.Redis)
		switch {
		case err == nil:
			defer func() {
				log.Info("closing Redis connection...")
				_ = redisCache.Close()
			}()
			breaker := circuitbreaker.CacheBreaker(redis.IsBenign, breakerLogger(log))
			rosterCache = redis.NewRosterCache(redisCache, cfg.Redis.RosterTTL, redis.WithRosterBreaker(breaker))
			log.Info("Redis connection established")
		case cfg.Auth.Mode == config.AuthModeRedis:
			return fmt.Errorf("failed to connect to Redis (required for AUTH_MODE=redis): %w", err)
		default:
			log.Warn("failed to connect to Redis, roster caching disabled", logger.Err(err))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ТЕКУЩАЯ ВЕДОМОСТЬ
	// ─────────────────────────────────────────────────────────────────────────
	var rosterOpts []roster.Option
	if rosterRepo != nil {
		rosterOpts = append(rosterOpts, roster.WithRepository(rosterRepo))
	}
	if rosterCache != nil {
		rosterOpts = append(rosterOpts, roster.WithCache(rosterCache))
	}
	rosterOpts = append(rosterOpts, roster.WithErrorHandler(func(op string, err error) {
		log.Warn("roster side effect failed", logger.Operation(op), logger.Err(err))
	}))
	rosters := roster.NewContext(rosterOpts...)

	if err := rosters.Load(ctx); err != nil {
		log.Warn("failed to load current roster, starting empty", logger.Err(err))
	} else if rosters.Loaded() {
		log.Info("current roster loaded")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ДОМЕН: АНАЛИЗАТОР И ПРАВИЛА ДОСТУПА
	// ─────────────────────────────────────────────────────────────────────────
	flags := cfg.Features

	analyzer := analytics.NewAnalyzer(
		analytics.RiskModel{Midpoint: cfg.Analytics.RiskMidpoint, Scale: cfg.Analytics.RiskScale},
		analytics.WithSuppliedRisk(flags.IsEnabled(config.FeatureSuppliedRisk, nil)),
	)
	resolver := access.NewResolver(nil, access.IdentityMatcher{
		LegacyNameMatch: cfg.Access.LegacyNameMatch,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 8. СЕССИИ
	// ─────────────────────────────────────────────────────────────────────────
	var (
		sessions     access.SessionSource
		terminator   access.SessionTerminator
		sessionStore *redis.SessionStore
	)

	switch cfg.Auth.Mode {
	case config.AuthModeJWT:
		sessions = auth.NewJWTSessionSource(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTLeeway)
	default:
		breaker := circuitbreaker.SessionBreaker(redis.IsBenign, breakerLogger(log))
		sessionStore = redis.NewSessionStore(redisCache, cfg.Auth.SessionTTL, redis.WithSessionBreaker(breaker))
		sessions = sessionStore
		terminator = sessionStore
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ОБРАБОТЧИКИ КОМАНД И ЗАПРОСОВ
	// ─────────────────────────────────────────────────────────────────────────
	textPolicy := query.TextPolicy(func(s *access.Session) bool {
		fc := &config.FeatureContext{}
		if s != nil {
			fc.Identity = s.Identity
			fc.IsAdmin = s.Role == access.RoleAdmin
		}
		return flags.IsEnabled(config.FeatureRoleAdaptedText, fc)
	})

	getStudent := query.NewGetStudentHandler(resolver, rosters)
	getStudent.SetTextPolicy(textPolicy)
	listStudents := query.NewListStudentsHandler(resolver, rosters)
	listStudents.SetTextPolicy(textPolicy)
	getSummary := query.NewGetSummaryHandler(resolver, rosters)
	getSummary.SetTextPolicy(textPolicy)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. КЛЮЧИ СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	var serviceAuth *handlers.APIKeyAuth
	if len(cfg.Auth.ServiceKeyHashes) > 0 {
		keys, invalid := handlers.ParseServiceKeys(cfg.Auth.ServiceKeyHashes)
		for _, name := range invalid {
			log.Warn("ignoring service key with invalid bcrypt hash", logger.String("service", name))
		}
		if len(keys) > 0 {
			serviceAuth = handlers.NewAPIKeyAuth(cfg.Auth.ServiceKeyHeader, keys)
			log.Info("roster import enabled", logger.Int("services", len(keys)))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	var (
		sched      *scheduler.Scheduler
		refreshJob *jobs.RefreshRosterJob
	)
	if rosterRepo != nil && cfg.Scheduler.RosterRefreshInterval > 0 {
		sched = scheduler.New(scheduler.Config{Logger: log})
		refreshJob = jobs.NewRefreshRosterJob(rosters, cfg.Database.QueryTimeout, log)
		if err := sched.Register(refreshJob, scheduler.Every(cfg.Scheduler.RosterRefreshInterval)); err != nil {
			return fmt.Errorf("failed to register %s: %w", refreshJob.Name(), err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if dbConn != nil {
		health.AddCheck("postgres", handlers.NewPingCheck(dbConn))
	}
	if redisCache != nil {
		if cfg.Auth.Mode == config.AuthModeRedis {
			health.AddCheck("redis", handlers.NewPingCheck(redisCache))
		} else {
			health.AddOptionalCheck("redis", handlers.NewPingCheck(redisCache))
		}
	}
	health.AddOptionalCheck("roster", handlers.NewRosterLoadedCheck(rosters))

	if dbConn != nil {
		health.AddDetail("postgres_pool", func() any { return dbConn.Stats() })
	}
	if rosterCache != nil {
		health.AddDetail("redis_roster_breaker", func() any { return rosterCache.BreakerState().String() })
	}
	if sessionStore != nil {
		health.AddDetail("redis_session_breaker", func() any { return sessionStore.BreakerState().String() })
	}
	if sched != nil {
		health.AddDetail("scheduler", schedulerDetail(sched, refreshJob))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 13. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpserver.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	serverCfg.RateLimitRPS = cfg.HTTP.RateLimitRPS
	serverCfg.RateLimitBurst = cfg.HTTP.RateLimitBurst
	serverCfg.TrustedProxies = cfg.HTTP.TrustedProxies
	serverCfg.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	serverCfg.Version = cfg.App.Version

	server := httpserver.NewServer(serverCfg, httpserver.Dependencies{
		GetSession:    query.NewGetSessionHandler(resolver),
		GetStudent:    getStudent,
		ListStudents:  listStudents,
		GetSummary:    getSummary,
		AnalyzeRoster: command.NewAnalyzeRosterHandler(resolver, analyzer, rosters),
		ImportRoster:  command.NewImportRosterHandler(rosters),
		ClearRoster:   command.NewClearRosterHandler(resolver, rosters),
		Logout:        command.NewLogoutHandler(terminator),
		Sessions:      sessions,
		ServiceAuth:   serviceAuth,
		ImportEnabled: func(service string) bool {
			return flags.IsEnabled(config.FeatureRosterImport, &config.FeatureContext{Identity: service})
		},
		HealthChecker: health,
		Logger:        log,
	})

	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 14. ФОНОВЫЕ ЗАДАЧИ
	// ─────────────────────────────────────────────────────────────────────────
	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 15. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", logger.Err(err))
	}
	if sched != nil {
		_ = sched.Stop()
	}

	log.Info("shutdown completed successfully", logger.Duration("uptime", server.Uptime()))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// connectDatabase подключается к PostgreSQL с повторными попытками.
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*postgres.Connection, error) {
	opts := postgres.DefaultPoolOptions()
	if cfg.MaxOpenConns > 0 {
		opts.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		opts.MinConns = int32(min(cfg.MaxIdleConns, cfg.MaxOpenConns))
	}
	opts.MaxConnLifetime = cfg.ConnMaxLifetime
	opts.MaxConnIdleTime = cfg.ConnMaxIdleTime

	retrier := retry.ConnectRetrier(func(attempt int, err error, delay time.Duration) {
		log.Warn("database not reachable, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})

	var conn *postgres.Connection
	err := retrier.Do(ctx, func(ctx context.Context) error {
		c, err := postgres.NewConnectionFromURL(ctx, cfg.URL, opts)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// connectRedis предпочитает REDIS_URL, иначе собирает адрес из отдельных полей.
func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Cache, error) {
	if cfg.URL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		return redis.NewCacheFromURL(dialCtx, cfg.URL)
	}

	rc := redis.DefaultConfig()
	rc.Host = cfg.Host
	rc.Port = cfg.Port
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	if cfg.PoolSize > 0 {
		rc.PoolSize = cfg.PoolSize
	}
	rc.MinIdleConns = cfg.MinIdleConns
	if cfg.DialTimeout > 0 {
		rc.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.WriteTimeout
	}
	return redis.NewCache(rc)
}

// schedulerDetail сводит метрики планировщика и состояние задачи обновления.
func schedulerDetail(sched *scheduler.Scheduler, job *jobs.RefreshRosterJob) handlers.DetailFunc {
	return func() any {
		snap := sched.Metrics().Snapshot()
		detail := map[string]any{
			"running":          sched.IsRunning(),
			"total_executions": snap.TotalExecutions,
			"total_failures":   snap.TotalFailures,
			"success_rate":     snap.SuccessRate,
			"avg_duration":     snap.AverageDuration.String(),
		}
		if info, err := sched.GetJobInfo(job.Name()); err == nil {
			jobDetail := map[string]any{
				"schedule":   info.Schedule,
				"run_count":  info.RunCount,
				"fail_count": info.FailCount,
				"next_run":   info.NextRun,
				"swaps":      job.Swaps(),
			}
			if !info.LastRun.IsZero() {
				jobDetail["last_run"] = info.LastRun
			}
			if info.LastResult != nil && info.LastResult.Error != nil {
				jobDetail["last_error"] = info.LastResult.Error.Error()
			}
			detail[job.Name()] = jobDetail
		}
		return detail
	}
}

func breakerLogger(log *logger.Logger) func(name string, from, to circuitbreaker.State) {
	return func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.Component(name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}
}
