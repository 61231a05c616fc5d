package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"authsvc/internal/cache"
	"authsvc/internal/captcha"
	"authsvc/internal/clock"
	"authsvc/internal/config"
	"authsvc/internal/database"
	"authsvc/internal/handlers"
	"authsvc/internal/jobs"
	"authsvc/internal/log"
	"authsvc/internal/mail"
	"authsvc/internal/metrics"
	"authsvc/internal/middleware"
	"authsvc/internal/models"
	"authsvc/internal/ratelimit"
	"authsvc/internal/repository"
	"authsvc/internal/security"
	"authsvc/internal/securitytoken"
	"authsvc/internal/server"
	"authsvc/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if cfg.Postgres.AutoMigrate {
		if err := database.Migrate(ctx, dbPool); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	var recorder metrics.Recorder = metrics.Nop{}
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.NewCollector(registry)
	}

	clk := clock.System()
	users := repository.NewUserRepository(dbPool)
	refreshTokens := repository.NewRefreshTokenRepository(dbPool)
	securityTokenRepo := repository.NewSecurityTokenRepository(dbPool)
	tx := database.NewTransactor(dbPool)

	signer, err := security.NewSigner(cfg.Security.JWTAlgorithm, cfg.Security.JWTSecret, cfg.Security.JWTPreviousSecret, clk)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid signing configuration")
	}
	accessTokens := security.NewAccessTokens(security.NewCodec(clk), signer, cfg.Security.AccessTokenTTL)

	tokenService := securitytoken.NewService(securityTokenRepo, tx, clk, map[models.TokenType]securitytoken.Policy{
		models.TokenTypeEmailVerification: {TTL: cfg.Tokens.EmailVerificationTTL, Bytes: cfg.Tokens.Bytes},
		models.TokenTypePasswordReset:     {TTL: cfg.Tokens.PasswordResetTTL, Bytes: cfg.Tokens.Bytes},
	}, recorder, logger)

	outbox, closeOutbox := newOutbox(cfg, redisClient, logger)
	mailer := mail.NewMailer(outbox, cfg.Mail.FrontendURL, clk, recorder, logger)

	authService := service.NewAuthService(service.Deps{
		Users:          users,
		RefreshTokens:  refreshTokens,
		SecurityTokens: tokenService,
		AccessTokens:   accessTokens,
		Mailer:         mailer,
		Tx:             tx,
		Clock:          clk,
		Metrics:        recorder,
		Log:            logger,
	}, service.Options{
		RefreshTTL:        cfg.Security.RefreshTokenTTL,
		RefreshTokenBytes: cfg.Tokens.Bytes,
	})

	limiters, stopLimiters := newLimiters(cfg, redisClient)

	handlerSet := handlers.NewHandlerSet(handlers.Deps{
		Log:    logger,
		Config: cfg,
		Auth:   authService,
		Admin:  service.NewAdminService(authService),
		Gate: middleware.Gate{
			Tokens:       accessTokens,
			Users:        users,
			AccessCookie: cfg.Security.AccessCookie,
			Metrics:      recorder,
			Log:          logger,
		},
		Limiters:       limiters,
		Captcha:        newCaptcha(cfg, logger),
		Metrics:        recorder,
		MetricsHandler: metricsHandler(cfg, registry),
		Checks: map[string]handlers.HealthCheck{
			"database": dbPool.Ping,
			"cache":    cache.Ping(redisClient),
		},
	})

	httpServer, err := server.NewHTTPServer(cfg, logger, handlerSet)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build http server")
	}

	scheduler := jobs.NewScheduler(cfg.Jobs, refreshTokens, securityTokenRepo, clk, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient, func() {
		stopLimiters()
		closeOutbox()
	})
}

func newOutbox(cfg *config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) (mail.Outbox, func()) {
	switch cfg.Mail.Transport {
	case "kafka":
		outbox := mail.NewKafkaOutbox(cfg.Kafka)
		return outbox, func() {
			if err := outbox.Close(); err != nil {
				logger.Error().Err(err).Msg("kafka writer close error")
			}
		}
	case "none":
		return mail.NewLogOutbox(logger), func() {}
	default:
		return mail.NewRedisStreamOutbox(redisClient, cfg.Mail.Stream), func() {}
	}
}

func newCaptcha(cfg *config.AppConfig, logger zerolog.Logger) middleware.CaptchaVerifier {
	if !cfg.Captcha.Enabled {
		return nil
	}
	return captcha.NewRecaptcha(cfg.Captcha, logger)
}

func newLimiters(cfg *config.AppConfig, redisClient *redis.Client) (handlers.Limiters, func()) {
	if !cfg.RateLimit.Enabled {
		return handlers.Limiters{}, func() {}
	}

	general := cfg.RateLimit.General
	if !cfg.IsProduction() {
		general.Limit = max(general.Limit, 1000)
	}
	rules := []ratelimit.Rule{
		{Name: "auth", Limit: cfg.RateLimit.Auth.Limit, Window: cfg.RateLimit.Auth.Window},
		{Name: "general", Limit: general.Limit, Window: general.Window},
		{Name: "strict", Limit: cfg.RateLimit.Strict.Limit, Window: cfg.RateLimit.Strict.Window},
	}

	built := make([]ratelimit.Limiter, len(rules))
	var memory []*ratelimit.Memory
	for i, rule := range rules {
		if cfg.RateLimit.Backend == "memory" {
			m := ratelimit.NewMemory(rule, 0)
			memory = append(memory, m)
			built[i] = m
			continue
		}
		built[i] = ratelimit.NewRedis(redisClient, rule)
	}

	return handlers.Limiters{Auth: built[0], General: built[1], Strict: built[2]}, func() {
		for _, m := range memory {
			m.Stop()
		}
	}
}

func metricsHandler(cfg *config.AppConfig, registry *prometheus.Registry) http.Handler {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.Handler(registry)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client, release func()) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("forced shutdown failed")
		}
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	release()

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
