package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/apperr"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

// Job is one periodic unit of work. Run reports how many items it handled.
type Job struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) (int, error)
}

// Runner executes its jobs on a fixed interval. Each job runs under a
// named lock so that only one replica performs it per tick.
type Runner struct {
	jobs   []Job
	locker redisclient.Locker
	log    zerolog.Logger
}

func NewRunner(locker redisclient.Locker, log zerolog.Logger, jobs ...Job) *Runner {
	return &Runner{jobs: jobs, locker: locker, log: log}
}

// Run executes all jobs once at startup and then on every tick until ctx
// is cancelled.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	r.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("shutdown signal received, stopping worker")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce runs every job in order. A failing job does not stop the others.
func (r *Runner) RunOnce(ctx context.Context) {
	for _, job := range r.jobs {
		if ctx.Err() != nil {
			return
		}
		r.runJob(ctx, job)
	}
}

func (r *Runner) runJob(ctx context.Context, job Job) {
	log := r.log.With().Str("job", job.Name).Logger()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var handled int
	err := r.locker.WithLock(runCtx, job.Name, func(ctx context.Context) error {
		n, err := job.Run(ctx)
		handled = n
		return err
	})

	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		log.Debug().Msg("job held by another worker, skipping")
	case apperr.Is(err, apperr.KindTransient):
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("job deferred to next tick, store unavailable")
	case err != nil:
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("job run error")
	default:
		log.Info().Int("handled", handled).Dur("elapsed", time.Since(start)).Msg("job run complete")
	}
}
