package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/app"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logger"
	"github.com/hackgods/clinic-booking/internal/payment"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("dev").Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env).With().Str("service", "api-server").Logger()
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:     cfg.OtelEnabled,
		ServiceName: "clinic-api",
		Endpoint:    cfg.OtelEndpoint,
		SampleRatio: cfg.OtelSamplingRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry setup error")
	}

	core, err := app.Open(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup error")
	}
	defer core.Close()
	log.Info().Str("practitioner_id", core.PractitionerID.String()).Str("zone", core.Zone.String()).Msg("connected to Postgres")

	var (
		limiter     api.Limiter
		redisPinger api.Pinger
	)
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		// Redis only backs the rate limiter.
		log.Warn().Err(err).Msg("redis unavailable, rate limiting disabled")
	} else {
		defer closeRedis(rdb, log)
		limiter = redisclient.NewRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "rl:api")
		redisPinger = api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Info().Msg("connected to Redis")
	}

	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set, authenticated routes will reject every request")
	}

	bookings := payment.NewService(app.Gateway(cfg, log), core.Appointments, cfg.PaymentCurrency, log)
	webhooks := payment.NewWebhookProcessor(
		cfg.StripeWebhookSecret,
		cfg.StripeWebhookTolerance,
		core.Appointments,
		payment.NewPgEventLog(core.Pool),
		log,
	)

	handler := api.NewRouter(api.RouterConfig{
		Slots:          core.Slots,
		Appointments:   core.Appointments,
		Bookings:       bookings,
		Webhooks:       webhooks,
		Limiter:        limiter,
		PractitionerID: core.PractitionerID,
		JWTSecret:      cfg.JWTSecret,
		Postgres:       core.Pool,
		Redis:          redisPinger,
		Logger:         log,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracer shutdown error")
	}

	log.Info().Msg("api-server stopped")
}

func closeRedis(rdb *redis.Client, log zerolog.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing redis")
	}
}
