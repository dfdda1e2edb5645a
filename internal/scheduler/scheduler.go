// Package scheduler runs the ping engine: it probes every due link on a
// fixed tick and meters each probe against the owner's credit.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stayawake/stayawake/internal/config"
	"github.com/stayawake/stayawake/internal/metrics"
	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/repository"
)

const (
	// DefaultTick is the interval between scans for due links.
	DefaultTick = 60 * time.Second
	// DefaultBatchSize is the max links fetched per tick.
	DefaultBatchSize = 500
	// DefaultConcurrency is the max probes in flight per tick.
	DefaultConcurrency = 32
	// DefaultLeaseTTL bounds how long a distributed probe lease is held.
	DefaultLeaseTTL = 30 * time.Second
)

// Skip reasons reported to metrics.
const (
	SkipInFlight           = "in_flight"
	SkipLeased             = "leased"
	SkipAccountMissing     = "account_missing"
	SkipAccountDisabled    = "account_disabled"
	SkipInsufficientCredit = "insufficient_credit"
	SkipLinkDeleted        = "link_deleted"
)

// Store is the storage needed by the scheduler.
type Store interface {
	GetAccount(ctx context.Context, email string) (*model.Account, error)
	ListDueLinks(ctx context.Context, q repository.DueQuery) ([]*model.Link, error)
	CompletePing(ctx context.Context, c *model.PingCompletion) (*model.Link, error)
}

// Lease guards a link across scheduler instances.
type Lease interface {
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key string) error
}

// TickStats summarises one tick.
type TickStats struct {
	Due       int
	Completed int
	Skipped   int
	Errors    int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLease enables distributed probe leases.
func WithLease(lease Lease) Option {
	return func(s *Scheduler) { s.lease = lease }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(s *Scheduler) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// Scheduler probes due links and commits the results.
type Scheduler struct {
	store    Store
	prober   Prober
	policies model.PlanPolicies
	cfg      config.SchedulerConfig
	logger   *slog.Logger
	metrics  metrics.Recorder
	lease    Lease
	now      func() time.Time
	tracer   trace.Tracer

	inFlight sync.Map // link ID -> struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Scheduler. Zero values in cfg fall back to the package defaults.
func New(store Store, prober Prober, policies model.PlanPolicies, cfg config.SchedulerConfig, logger *slog.Logger, opts ...Option) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}

	s := &Scheduler{
		store:    store,
		prober:   prober,
		policies: policies,
		cfg:      cfg,
		logger:   logger.With("component", "scheduler"),
		metrics:  metrics.NewNoop(),
		now:      func() time.Time { return time.Now().UTC() },
		tracer:   otel.Tracer("stayawake/scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks immediately and then every cfg.Tick. Blocks until ctx is
// cancelled or Shutdown is called.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.done = make(chan struct{})
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	defer close(s.done)

	s.logger.Info("scheduler started", "tick", s.cfg.Tick, "concurrency", s.cfg.Concurrency)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return nil
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// Shutdown stops the loop and waits for in-flight probes to finish.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	start := time.Now()
	stats, err := s.Tick(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("tick failed", "error", err)
	}
	s.metrics.ObserveTick(time.Since(start), stats.Due)

	if stats.Due > 0 {
		s.logger.Debug("tick complete",
			"due", stats.Due,
			"completed", stats.Completed,
			"skipped", stats.Skipped,
			"errors", stats.Errors,
		)
	}
}

// Tick processes one batch of due links and waits for it to finish.
func (s *Scheduler) Tick(ctx context.Context) (TickStats, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.tick",
		trace.WithAttributes(attribute.Int("batch.limit", s.cfg.BatchSize)),
	)
	defer span.End()

	due, err := s.store.ListDueLinks(ctx, repository.DueQuery{
		Now:      s.now(),
		Limit:    s.cfg.BatchSize,
		Policies: s.policies,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due links")
		return TickStats{}, fmt.Errorf("list due links: %w", err)
	}
	span.SetAttributes(attribute.Int("batch.due", len(due)))

	var (
		mu    sync.Mutex
		stats = TickStats{Due: len(due)}
	)
	record := func(r result) {
		mu.Lock()
		defer mu.Unlock()
		switch r {
		case resultCompleted:
			stats.Completed++
		case resultSkipped:
			stats.Skipped++
		case resultError:
			stats.Errors++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, link := range due {
		link := link
		g.Go(func() error {
			record(s.process(gctx, link))
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("batch.completed", stats.Completed),
		attribute.Int("batch.skipped", stats.Skipped),
		attribute.Int("batch.errors", stats.Errors),
	)
	return stats, ctx.Err()
}

type result int

const (
	resultCompleted result = iota
	resultSkipped
	resultError
)

// process probes one link and commits the outcome.
func (s *Scheduler) process(ctx context.Context, link *model.Link) result {
	if _, busy := s.inFlight.LoadOrStore(link.ID, struct{}{}); busy {
		return s.skip(link, SkipInFlight)
	}
	defer s.inFlight.Delete(link.ID)

	if s.lease != nil {
		key := "probe:" + link.ID
		ok, err := s.lease.AcquireLease(ctx, key, s.cfg.LeaseTTL)
		switch {
		case err != nil:
			// Redis trouble: the in-flight guard still covers this instance.
			s.logger.Warn("probe lease unavailable", "link_id", link.ID, "error", err)
		case !ok:
			return s.skip(link, SkipLeased)
		default:
			defer func() {
				if err := s.lease.ReleaseLease(context.WithoutCancel(ctx), key); err != nil {
					s.logger.Warn("probe lease release failed", "link_id", link.ID, "error", err)
				}
			}()
		}
	}

	owner, err := s.store.GetAccount(ctx, link.OwnerEmail)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return s.skip(link, SkipAccountMissing)
		}
		s.logger.Error("load owner failed", "link_id", link.ID, "error", err)
		return resultError
	}
	if owner.IsDisabled() {
		return s.skip(link, SkipAccountDisabled)
	}

	policy := s.policies.ForAccount(owner)
	if owner.Credit < policy.PingCost {
		return s.skip(link, SkipInsufficientCredit)
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.probe",
		trace.WithAttributes(
			attribute.String("link.id", link.ID),
			attribute.String("link.url", link.URL),
		),
	)
	defer span.End()

	pingedAt := s.now()
	res := s.prober.Probe(ctx, link.URL)
	if ctx.Err() != nil {
		// Shutting down mid-probe; the link stays due.
		return resultSkipped
	}
	s.metrics.ObservePingLatency(res.ResponseTime)
	span.SetAttributes(
		attribute.String("probe.outcome", string(res.Outcome)),
		attribute.Int("probe.status_code", res.StatusCode),
	)

	completion := &model.PingCompletion{
		Record: &model.PingRecord{
			ID:           ulid.Make().String(),
			LinkID:       link.ID,
			URL:          link.URL,
			OwnerEmail:   link.OwnerEmail,
			StatusCode:   res.StatusCode,
			Outcome:      res.Outcome,
			ResponseTime: res.ResponseTime,
			Error:        res.Err,
			PingedAt:     pingedAt,
		},
		NextDueAt: s.now().Add(policy.Interval),
		Cost:      policy.PingCost,
	}

	if _, err := s.store.CompletePing(context.WithoutCancel(ctx), completion); err != nil {
		switch {
		case errors.Is(err, repository.ErrLinkNotFound):
			return s.skip(link, SkipLinkDeleted)
		case errors.Is(err, repository.ErrInsufficientCredit):
			return s.skip(link, SkipInsufficientCredit)
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "complete ping")
			s.logger.Error("complete ping failed", "link_id", link.ID, "error", err)
			return resultError
		}
	}

	s.metrics.IncPingCompleted(string(res.Outcome))
	s.metrics.AddCreditDebited(policy.PingCost)
	s.logger.Debug("link pinged",
		"link_id", link.ID,
		"outcome", res.Outcome,
		"status_code", res.StatusCode,
		"response_time_ms", res.ResponseTime.Milliseconds(),
	)
	return resultCompleted
}

func (s *Scheduler) skip(link *model.Link, reason string) result {
	s.metrics.IncPingSkipped(reason)
	s.logger.Debug("link skipped", "link_id", link.ID, "reason", reason)
	return resultSkipped
}
