package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/stayawake/stayawake/internal/metrics"
)

// Job runs a function on a fixed interval until stopped.
type Job struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewJob creates a periodic job.
func NewJob(name string, interval time.Duration, fn func(ctx context.Context) error, logger *slog.Logger) *Job {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Job{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With("component", "job", "job", name),
	}
}

// Name returns the job name.
func (j *Job) Name() string {
	return j.name
}

// Run executes the job every interval. Blocks until ctx is cancelled or
// Shutdown is called.
func (j *Job) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return errors.New("job already started")
	}
	j.started = true
	j.done = make(chan struct{})
	ctx, j.cancel = context.WithCancel(ctx)
	j.mu.Unlock()

	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := j.fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				j.logger.Error("job run failed", "error", err)
			}
		}
	}
}

// Shutdown stops the job and waits for a running iteration to finish.
func (j *Job) Shutdown(ctx context.Context) error {
	j.mu.Lock()
	if !j.started {
		j.mu.Unlock()
		return nil
	}
	cancel := j.cancel
	done := j.done
	j.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Expirer ends subscriptions whose billing period is over.
type Expirer interface {
	ExpireDue(ctx context.Context) (int, error)
}

// NewExpiryJob moves ended scheduled cancellations back to the free plan.
func NewExpiryJob(subs Expirer, interval time.Duration, logger *slog.Logger) *Job {
	var j *Job
	j = NewJob("subscription_expiry", interval, func(ctx context.Context) error {
		n, err := subs.ExpireDue(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			j.logger.Info("subscriptions expired", "count", n)
		}
		return nil
	}, logger)
	return j
}

// Pruner trims ping history.
type Pruner interface {
	PrunePings(ctx context.Context, keep int) (int64, error)
}

// NewPruneJob keeps only the newest keep records per link.
func NewPruneJob(store Pruner, keep int, interval time.Duration, logger *slog.Logger, recorder metrics.Recorder) *Job {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	var j *Job
	j = NewJob("ping_prune", interval, func(ctx context.Context) error {
		removed, err := store.PrunePings(ctx, keep)
		if err != nil {
			return err
		}
		if removed > 0 {
			recorder.AddPingsPruned(removed)
			j.logger.Debug("ping history pruned", "removed", removed)
		}
		return nil
	}, logger)
	return j
}
