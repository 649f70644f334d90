package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/anandkorat/phonepe-bridge/internal/common"
	"github.com/anandkorat/phonepe-bridge/internal/config"
	"github.com/anandkorat/phonepe-bridge/internal/gateway"
	"github.com/anandkorat/phonepe-bridge/internal/health"
	"github.com/anandkorat/phonepe-bridge/internal/obs"
	"github.com/anandkorat/phonepe-bridge/internal/ratelimit"
	"github.com/anandkorat/phonepe-bridge/internal/record"
	"github.com/anandkorat/phonepe-bridge/internal/session"
	"github.com/anandkorat/phonepe-bridge/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "phonepe_bridge")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName: "phonepe-bridge-api",
			Endpoint:    envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Environment: cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := runMigrations(cfg); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	pool := mustInitDatabase(ctx, cfg, logger, "phonepe-bridge-api")
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger, metricsEnabled)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	taskClient := asynq.NewClient(asynqOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	outbound := &http.Client{
		Timeout:   cfg.OutboundTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	tokens := &token.Source{
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		ClientVersion: cfg.ClientVersion,
		TokenURL:      strings.TrimRight(cfg.IdentityBaseURL, "/") + "/v1/oauth/token",
		HTTP:          outbound,
		Logger:        logger.With().Str("component", "token").Logger(),
	}
	gatewayClient := &gateway.Client{
		BaseURL: cfg.GatewayBaseURL,
		Tokens:  tokens,
		HTTP:    outbound,
		Logger:  logger.With().Str("component", "gateway").Logger(),
	}

	coordinator := &session.Coordinator{
		Records: record.NewStore(pool),
		Gateway: gatewayClient,
		Polls: &session.PollEnqueuer{
			Client:   taskClient,
			Delay:    cfg.PollDelay,
			MaxRetry: cfg.PollMaxRetry,
			Logger:   logger,
		},
		Logger:         logger,
		CustomerName:   cfg.DefaultCustomerName,
		CustomerMobile: cfg.DefaultCustomerMobile,
		RedirectScheme: cfg.RedirectScheme,
	}

	handlers := &session.Handlers{
		Sessions:      coordinator,
		Replays:       &session.ReplayGuard{R: redisClient, TTL: cfg.WebhookReplayTTL, Logger: logger},
		Validate:      validator.New(),
		Logger:        logger,
		PublicBaseURL: cfg.PublicBaseURL,
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	limiter := &ratelimit.Limiter{
		Client: redisClient,
		Window: cfg.RateLimitWindow,
		Max:    cfg.RateLimitMax,
		Logger: logger,
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{DB: pool, Redis: redisClient}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		// Checkout creation is shopper-driven and throttled; the return and
		// webhook callbacks are gateway-driven and must never be.
		v.Group(func(pay chi.Router) {
			pay.Use(limiter.Middleware)
			pay.Use(idem.Middleware)
			pay.Post("/pay", handlers.Pay)
			pay.Post("/pay/token", handlers.PayToken)
			pay.Get("/pay/checkout", handlers.PayCheckout)
			pay.Post("/pay/url", handlers.PayURL)
		})
		v.Get("/status/{orderID}", handlers.Return)
		v.Get("/cancel/{orderID}", handlers.Return)
		v.Get("/order/{orderID}", handlers.Order)
		v.Post("/webhook/phonepe", handlers.Webhook)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
}

func runMigrations(cfg *config.Config) error {
	m, err := migrate.New("file://"+cfg.MigrationsPath, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger, appName string) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metricsEnabled bool) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}
