package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/anandkorat/phonepe-bridge/internal/config"
	"github.com/anandkorat/phonepe-bridge/internal/gateway"
	"github.com/anandkorat/phonepe-bridge/internal/obs"
	"github.com/anandkorat/phonepe-bridge/internal/record"
	"github.com/anandkorat/phonepe-bridge/internal/session"
	"github.com/anandkorat/phonepe-bridge/internal/token"
)

// The worker consumes delayed status-poll tasks: each pending checkout gets
// re-checked against the gateway until it settles or runs out of retries.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "phonepe_bridge"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
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
	coordinator := &session.Coordinator{
		Records: record.NewStore(pool),
		Gateway: &gateway.Client{
			BaseURL: cfg.GatewayBaseURL,
			Tokens:  tokens,
			HTTP:    outbound,
			Logger:  logger.With().Str("component", "gateway").Logger(),
		},
		Logger:         logger,
		CustomerName:   cfg.DefaultCustomerName,
		CustomerMobile: cfg.DefaultCustomerMobile,
		RedirectScheme: cfg.RedirectScheme,
	}

	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	srv := asynq.NewServer(asynqOpt, asynq.Config{
		Concurrency: envInt("WORKER_CONCURRENCY", 5),
		Queues:      map[string]int{session.QueuePolls: 1},
		RetryDelayFunc: func(_ int, _ error, _ *asynq.Task) time.Duration {
			return cfg.PollDelay
		},
		Logger: asynqZerolog{logger},
	})

	mux := asynq.NewServeMux()
	mux.Handle(session.TaskTypeStatusPoll, &session.PollWorker{Sessions: coordinator, Logger: logger})

	logger.Info().Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// asynqZerolog adapts zerolog to asynq's logger interface.
type asynqZerolog struct {
	l zerolog.Logger
}

func (a asynqZerolog) Debug(args ...interface{}) { a.l.Debug().Msgf("%v", args) }
func (a asynqZerolog) Info(args ...interface{})  { a.l.Info().Msgf("%v", args) }
func (a asynqZerolog) Warn(args ...interface{})  { a.l.Warn().Msgf("%v", args) }
func (a asynqZerolog) Error(args ...interface{}) { a.l.Error().Msgf("%v", args) }
func (a asynqZerolog) Fatal(args ...interface{}) { a.l.Fatal().Msgf("%v", args) }

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "phonepe-bridge-worker"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
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

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}
