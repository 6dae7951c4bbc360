package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-booking/internal/app"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/logger"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/telemetry"
	"github.com/hackgods/clinic-booking/internal/worker"
)

const batchLimit = 200

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("dev").Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env).With().Str("service", "worker").Logger()
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, telemetry.Config{
		Enabled:     cfg.OtelEnabled,
		ServiceName: "clinic-worker",
		Endpoint:    cfg.OtelEndpoint,
		SampleRatio: cfg.OtelSamplingRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry setup error")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	core, err := app.Open(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup error")
	}
	defer core.Close()

	var locker redisclient.Locker = redisclient.LocalLocker{}
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, running jobs without leadership lock; run a single worker replica")
	} else {
		defer func() { _ = rdb.Close() }()
		locker = redisclient.NewJobLocker(rdb, "lock:job", cfg.LockTTL)
	}

	jobs := []worker.Job{
		{
			Name: "materialize-horizon",
			Run: func(ctx context.Context) (int, error) {
				return core.Slots.MaterializeHorizon(ctx, core.PractitionerID, cfg.HorizonDays)
			},
		},
		{
			Name: "dispatch-reminders",
			Run: func(ctx context.Context) (int, error) {
				return core.Appointments.DispatchDueReminders(ctx, batchLimit)
			},
		},
		{
			Name: "expire-pending",
			Run: func(ctx context.Context) (int, error) {
				return core.Appointments.ExpireStalePending(ctx, cfg.PendingTTL, batchLimit)
			},
		},
	}

	if len(cfg.KafkaBrokers) > 0 {
		writer := events.NewKafkaWriter(cfg.KafkaBrokers)
		defer func() {
			if err := writer.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing kafka writer")
			}
		}()
		relay := events.NewRelay(events.NewPgStore(core.Pool), writer, cfg.KafkaTopicPrefix, cfg.OutboxBatchSize, log)
		jobs = append(jobs, worker.Job{Name: "outbox-relay", Timeout: 30 * time.Second, Run: relay.RunOnce})
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, outbox events stay unpublished")
	}

	worker.NewRunner(locker, log, jobs...).Run(rootCtx, cfg.WorkerInterval)
}
