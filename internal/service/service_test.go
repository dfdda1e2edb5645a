package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/repository/memory"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testNow}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store    *memory.Store
	clock    *fakeClock
	accounts *AccountService
	ledger   *LedgerService
	registry *LinkRegistry
	subs     *SubscriptionService
	times    *ResponseTimeService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	clock := newFakeClock()
	policy := DefaultLedgerPolicy()
	policies := model.DefaultPlanPolicies()
	logger := discardLogger()
	opt := WithClock(clock.Now)

	return &fixture{
		store:    store,
		clock:    clock,
		accounts: NewAccountService(store, policy, logger, opt),
		ledger:   NewLedgerService(store, policy, logger, opt),
		registry: NewLinkRegistry(store, policies, logger, opt),
		subs:     NewSubscriptionService(store, policies, DefaultBillingPeriod, logger, opt),
		times:    NewResponseTimeService(store),
	}
}

func (f *fixture) signIn(t *testing.T, email string) *model.Account {
	t.Helper()
	acct, _, err := f.accounts.Authenticate(context.Background(), email)
	require.NoError(t, err)
	return acct
}
