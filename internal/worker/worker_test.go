package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/apperr"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

type busyLocker struct{ busy map[string]bool }

func (l busyLocker) WithLock(ctx context.Context, job string, fn func(ctx context.Context) error) error {
	if l.busy[job] {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

func TestRunOnce_FailureDoesNotStopOtherJobs(t *testing.T) {
	var ran []string
	job := func(name string, err error) Job {
		return Job{Name: name, Run: func(context.Context) (int, error) {
			ran = append(ran, name)
			return 1, err
		}}
	}

	r := NewRunner(redisclient.LocalLocker{}, zerolog.Nop(),
		job("horizon", errors.New("db down")),
		job("reminders", nil),
	)
	r.RunOnce(context.Background())

	if len(ran) != 2 {
		t.Fatalf("expected both jobs to run, got %v", ran)
	}
}

func TestRunOnce_TransientFailureLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	r := NewRunner(redisclient.LocalLocker{}, zerolog.New(&buf),
		Job{Name: "reminders", Run: func(context.Context) (int, error) {
			return 0, apperr.Wrap(apperr.KindTransient, context.DeadlineExceeded, "claim due reminders")
		}},
	)
	r.RunOnce(context.Background())

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "job deferred") {
		t.Fatalf("expected a deferral warning, got %s", out)
	}
}

func TestRunOnce_SkipsLockedJobs(t *testing.T) {
	var ran []string
	mk := func(name string) Job {
		return Job{Name: name, Run: func(context.Context) (int, error) {
			ran = append(ran, name)
			return 0, nil
		}}
	}

	r := NewRunner(busyLocker{busy: map[string]bool{"relay": true}}, zerolog.Nop(), mk("relay"), mk("expiry"))
	r.RunOnce(context.Background())

	if len(ran) != 1 || ran[0] != "expiry" {
		t.Fatalf("expected only the unlocked job to run, got %v", ran)
	}
}

func TestRunOnce_JobTimeout(t *testing.T) {
	var deadline time.Time
	r := NewRunner(redisclient.LocalLocker{}, zerolog.Nop(), Job{
		Name:    "slow",
		Timeout: time.Second,
		Run: func(ctx context.Context) (int, error) {
			deadline, _ = ctx.Deadline()
			return 0, nil
		},
	})
	r.RunOnce(context.Background())

	if deadline.IsZero() || time.Until(deadline) > time.Second {
		t.Fatalf("expected job context to carry its timeout, got %v", deadline)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runs := 0
	r := NewRunner(redisclient.LocalLocker{}, zerolog.Nop(), Job{Name: "tick", Run: func(context.Context) (int, error) {
		runs++
		cancel()
		return 0, nil
	}})

	done := make(chan struct{})
	go func() {
		r.Run(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
	if runs != 1 {
		t.Fatalf("expected the startup run only, got %d", runs)
	}
}
