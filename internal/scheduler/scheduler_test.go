package scheduler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayawake/stayawake/internal/config"
	"github.com/stayawake/stayawake/internal/metrics"
	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/repository"
	"github.com/stayawake/stayawake/internal/repository/memory"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:      true,
		Tick:         time.Minute,
		BatchSize:    100,
		Concurrency:  4,
		ProbeTimeout: 2 * time.Second,
		LeaseTTL:     time.Second,
	}
}

func seed(t *testing.T, store *memory.Store, email string, credit int64, url string) *model.Link {
	t.Helper()
	return seedDue(t, store, email, credit, url, testNow)
}

func seedDue(t *testing.T, store *memory.Store, email string, credit int64, url string, due time.Time) *model.Link {
	t.Helper()
	ctx := context.Background()

	_, _, err := store.CreateAccountIfAbsent(ctx, &model.Account{
		Email:              email,
		Credit:             credit,
		Plan:               model.PlanFree,
		SubscriptionStatus: model.SubscriptionNone,
		CreatedAt:          testNow,
	}, 0)
	require.NoError(t, err)

	link, err := store.CreateLink(ctx, email, func(owner *model.Account, existing int) (*model.Link, error) {
		return &model.Link{
			ID:         "link-" + email,
			OwnerEmail: email,
			URL:        url,
			NextDueAt:  due,
			CreatedAt:  due,
		}, nil
	})
	require.NoError(t, err)
	return link
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestScheduler(store Store, prober Prober, opts ...Option) *Scheduler {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(store, prober, model.DefaultPlanPolicies(), testConfig(), discardLogger(), opts...)
}

func TestTick_ProbesAndDebits(t *testing.T) {
	store := memory.New()
	srv, hits := countingServer(t, http.StatusOK)
	link := seed(t, store, "a@example.com", 21_600, srv.URL)
	rec := metrics.NewInMemory()

	s := newTestScheduler(store, NewHTTPProber(2*time.Second, AllowPrivateTargets()), WithMetrics(rec))

	stats, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickStats{Due: 1, Completed: 1}, stats)
	assert.Equal(t, int32(1), hits.Load())

	got, err := store.GetLink(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.PingCount)
	require.NotNil(t, got.LastPingAt)
	assert.Equal(t, testNow, *got.LastPingAt)
	assert.Equal(t, testNow.Add(10*time.Minute), got.NextDueAt)

	acct, err := store.GetAccount(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(21_590), acct.Credit)

	records, err := store.RecentPings(context.Background(), link.ID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.PingSuccess, records[0].Outcome)
	assert.Equal(t, http.StatusOK, records[0].StatusCode)

	// Not due again until the interval elapses.
	stats, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Due)

	snap := rec.Snapshot()
	assert.Equal(t, uint64(1), snap.PingsCompleted["success"])
	assert.Equal(t, int64(10), snap.CreditDebited)
}

func TestTick_PaidPlanPolicy(t *testing.T) {
	store := memory.New()
	srv, _ := countingServer(t, http.StatusOK)
	link := seed(t, store, "a@example.com", 21_600, srv.URL)

	end := testNow.Add(time.Hour)
	_, err := store.UpdateAccount(context.Background(), "a@example.com", func(a *model.Account) error {
		a.Plan = model.PlanPaid
		a.SubscriptionStatus = model.SubscriptionActive
		a.CurrentPeriodEnd = &end
		return nil
	})
	require.NoError(t, err)

	s := newTestScheduler(store, NewHTTPProber(2*time.Second, AllowPrivateTargets()))
	_, err = s.Tick(context.Background())
	require.NoError(t, err)

	got, err := store.GetLink(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(6*time.Minute), got.NextDueAt)

	acct, err := store.GetAccount(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(21_594), acct.Credit)
}

// staleStore serves a due list captured earlier, as if the owner changed
// between the fetch and the probe.
type staleStore struct {
	*memory.Store
	due []*model.Link
}

func (s staleStore) ListDueLinks(ctx context.Context, q repository.DueQuery) ([]*model.Link, error) {
	return s.due, nil
}

func captureDue(t *testing.T, store *memory.Store) []*model.Link {
	t.Helper()
	due, err := store.ListDueLinks(context.Background(), repository.DueQuery{
		Now:      testNow,
		Limit:    10,
		Policies: model.DefaultPlanPolicies(),
	})
	require.NoError(t, err)
	require.Len(t, due, 1)
	return due
}

func TestTick_InsufficientCreditNeverProbes(t *testing.T) {
	store := memory.New()
	srv, hits := countingServer(t, http.StatusOK)
	link := seed(t, store, "a@example.com", 5, srv.URL)

	s := newTestScheduler(store, NewHTTPProber(2*time.Second, AllowPrivateTargets()))
	for i := 0; i < 5; i++ {
		stats, err := s.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, TickStats{}, stats, "unfunded links are not fetched")
	}

	assert.Zero(t, hits.Load())
	got, err := store.GetLink(context.Background(), link.ID)
	require.NoError(t, err)
	assert.Zero(t, got.PingCount)
	assert.Equal(t, testNow, got.NextDueAt, "schedule does not advance while unfunded")

	acct, err := store.GetAccount(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(5), acct.Credit)
}

func TestTick_CreditSpentAfterFetchSkipped(t *testing.T) {
	store := memory.New()
	srv, hits := countingServer(t, http.StatusOK)
	seed(t, store, "a@example.com", 100, srv.URL)
	due := captureDue(t, store)

	_, err := store.UpdateAccount(context.Background(), "a@example.com", func(a *model.Account) error {
		a.Credit = 5
		return nil
	})
	require.NoError(t, err)

	s := newTestScheduler(staleStore{Store: store, due: due}, NewHTTPProber(2*time.Second, AllowPrivateTargets()))
	stats, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickStats{Due: 1, Skipped: 1}, stats)
	assert.Zero(t, hits.Load())
}

func TestTick_DisabledAccountSkipped(t *testing.T) {
	store := memory.New()
	srv, hits := countingServer(t, http.StatusOK)
	seed(t, store, "a@example.com", 21_600, srv.URL)
	due := captureDue(t, store)
	require.NoError(t, store.SetDisabled(context.Background(), "a@example.com", testNow))

	s := newTestScheduler(store, NewHTTPProber(2*time.Second, AllowPrivateTargets()))
	stats, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Due, "disabled owners are not fetched")

	s = newTestScheduler(staleStore{Store: store, due: due}, NewHTTPProber(2*time.Second, AllowPrivateTargets()))
	stats, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, hits.Load())
}

func TestTick_UnfundedBacklogDoesNotStarveFundedLinks(t *testing.T) {
	store := memory.New()
	srv, hits := countingServer(t, http.StatusOK)
	seedDue(t, store, "broke1@example.com", 0, srv.URL+"/broke1", testNow.Add(-time.Hour))
	seedDue(t, store, "broke2@example.com", 0, srv.URL+"/broke2", testNow.Add(-time.Hour))
	funded := seed(t, store, "funded@example.com", 21_600, srv.URL+"/funded")

	cfg := testConfig()
	cfg.BatchSize = 2
	s := New(store, NewHTTPProber(2*time.Second, AllowPrivateTargets()), model.DefaultPlanPolicies(), cfg, discardLogger(),
		WithClock(func() time.Time { return testNow }))

	stats, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickStats{Due: 1, Completed: 1}, stats)
	assert.Equal(t, int32(1), hits.Load())

	got, err := store.GetLink(context.Background(), funded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.PingCount)
}

func TestTick_FailureIsRecordedAndCharged(t *testing.T) {
	store := memory.New()
	srv, _ := countingServer(t, http.StatusServiceUnavailable)
	link := seed(t, store, "a@example.com", 100, srv.URL)

	s := newTestScheduler(store, NewHTTPProber(2*time.Second, AllowPrivateTargets()))
	stats, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	records, err := store.RecentPings(context.Background(), link.ID, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.PingFailure, records[0].Outcome)
	assert.Equal(t, http.StatusServiceUnavailable, records[0].StatusCode)

	acct, err := store.GetAccount(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(90), acct.Credit)
}

type deletingProber struct {
	store *memory.Store
}

func (p deletingProber) Probe(ctx context.Context, url string) ProbeResult {
	_ = p.store.DeleteLink(ctx, "a@example.com", "link-a@example.com")
	return ProbeResult{StatusCode: 200, Outcome: model.PingSuccess, ResponseTime: time.Millisecond}
}

func TestTick_LinkDeletedMidProbe(t *testing.T) {
	store := memory.New()
	link := seed(t, store, "a@example.com", 21_600, "https://example.com")

	s := newTestScheduler(store, deletingProber{store: store})
	stats, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickStats{Due: 1, Skipped: 1}, stats)

	acct, err := store.GetAccount(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(21_600), acct.Credit, "discarded probe is not charged")

	records, err := store.RecentPings(context.Background(), link.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

type fakeLease struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLease) AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLease) ReleaseLease(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

func TestTick_LeaseHeldElsewhere(t *testing.T) {
	store := memory.New()
	srv, hits := countingServer(t, http.StatusOK)
	link := seed(t, store, "a@example.com", 21_600, srv.URL)

	lease := &fakeLease{held: map[string]bool{"probe:" + link.ID: true}}
	s := newTestScheduler(store, NewHTTPProber(2*time.Second, AllowPrivateTargets()), WithLease(lease))

	stats, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, hits.Load())

	require.NoError(t, lease.ReleaseLease(context.Background(), "probe:"+link.ID))
	stats, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.False(t, lease.held["probe:"+link.ID], "lease released after probe")
}

type blockingProber struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (p *blockingProber) Probe(ctx context.Context, url string) ProbeResult {
	if p.calls.Add(1) == 1 {
		close(p.started)
	}
	<-p.release
	return ProbeResult{StatusCode: 200, Outcome: model.PingSuccess}
}

func TestTick_ConcurrentTicksProbeOnce(t *testing.T) {
	store := memory.New()
	seed(t, store, "a@example.com", 21_600, "https://example.com")

	prober := &blockingProber{started: make(chan struct{}), release: make(chan struct{})}
	s := newTestScheduler(store, prober)

	first := make(chan TickStats, 1)
	go func() {
		stats, _ := s.Tick(context.Background())
		first <- stats
	}()
	<-prober.started

	stats, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped, "second tick sees the link in flight")

	close(prober.release)
	assert.Equal(t, 1, (<-first).Completed)
	assert.Equal(t, int32(1), prober.calls.Load())

	acct, err := store.GetAccount(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(21_590), acct.Credit)
}

func TestRunAndShutdown(t *testing.T) {
	store := memory.New()
	srv, hits := countingServer(t, http.StatusOK)
	seed(t, store, "a@example.com", 21_600, srv.URL)

	s := New(store, NewHTTPProber(time.Second, AllowPrivateTargets()), model.DefaultPlanPolicies(), testConfig(), discardLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 10*time.Millisecond,
		"run ticks immediately on start")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-errCh)
}
