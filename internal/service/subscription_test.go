package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayawake/stayawake/internal/metrics"
	"github.com/stayawake/stayawake/internal/model"
)

func TestSubscription_UpgradeAndRenew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t, "a@example.com")

	res, err := f.subs.Upgrade(ctx, "a@example.com", "sub_123")
	require.NoError(t, err)
	assert.Equal(t, model.PlanPaid, res.Account.Plan)
	assert.Equal(t, model.SubscriptionActive, res.Account.SubscriptionStatus)
	assert.Equal(t, "sub_123", res.Account.SubscriptionID)
	require.NotNil(t, res.Account.CurrentPeriodEnd)
	assert.Equal(t, testNow.Add(DefaultBillingPeriod), *res.Account.CurrentPeriodEnd)
	assert.NotEmpty(t, res.Details)

	// Renewing early extends from the current period end.
	f.clock.Advance(24 * time.Hour)
	res, err = f.subs.Renew(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(2*DefaultBillingPeriod), *res.Account.CurrentPeriodEnd)

	info, err := f.subs.Plan(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.PlanPaid, info.EffectivePlan)
	assert.Equal(t, 6*time.Minute, info.Policy.Interval)
}

func TestSubscription_InvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t, "a@example.com")

	_, err := f.subs.Cancel(ctx, "a@example.com")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.subs.Renew(ctx, "a@example.com")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.subs.Resume(ctx, "a@example.com")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.subs.Upgrade(ctx, "a@example.com", "")
	require.NoError(t, err)
	_, err = f.subs.Upgrade(ctx, "a@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "already active")

	_, err = f.subs.Upgrade(ctx, "ghost@example.com", "")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSubscription_CancelReactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t, "a@example.com")

	_, err := f.subs.Upgrade(ctx, "a@example.com", "")
	require.NoError(t, err)

	res, err := f.subs.Cancel(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionScheduledCancel, res.Account.SubscriptionStatus)
	assert.Equal(t, model.PlanPaid, res.Account.EffectivePlan(), "benefits last until period end")

	res, err = f.subs.Reactivate(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, res.Account.SubscriptionStatus)
}

func TestSubscription_PauseResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t, "a@example.com")

	_, err := f.subs.Upgrade(ctx, "a@example.com", "")
	require.NoError(t, err)

	res, err := f.subs.Pause(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionPaused, res.Account.SubscriptionStatus)
	assert.Equal(t, model.PlanFree, res.Account.EffectivePlan())

	res, err = f.subs.Resume(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, res.Account.SubscriptionStatus)
	assert.Equal(t, model.PlanPaid, res.Account.EffectivePlan())
}

func TestSubscription_ExpireDue(t *testing.T) {
	store := newFixture(t).store
	clock := newFakeClock()
	rec := metrics.NewInMemory()
	subs := NewSubscriptionService(store, model.DefaultPlanPolicies(), DefaultBillingPeriod, discardLogger(),
		WithClock(clock.Now), WithMetrics(rec))
	accounts := NewAccountService(store, DefaultLedgerPolicy(), discardLogger(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		email := fmt.Sprintf("u%d@example.com", i)
		_, _, err := accounts.Authenticate(ctx, email)
		require.NoError(t, err)
		_, err = subs.Upgrade(ctx, email, "")
		require.NoError(t, err)
	}
	_, err := subs.Cancel(ctx, "u0@example.com")
	require.NoError(t, err)
	_, err = subs.Cancel(ctx, "u1@example.com")
	require.NoError(t, err)

	n, err := subs.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "periods have not ended yet")

	clock.Advance(DefaultBillingPeriod)
	n, err = subs.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, email := range []string{"u0@example.com", "u1@example.com"} {
		info, err := subs.Plan(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, model.PlanFree, info.Plan)
		assert.Equal(t, model.SubscriptionCancelled, info.SubscriptionStatus)
	}

	info, err := subs.Plan(ctx, "u2@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, info.SubscriptionStatus, "active subscriptions are not expired")

	assert.Equal(t, uint64(2), rec.Snapshot().SubscriptionActions["expire"])

	// Cancelled accounts can upgrade again.
	_, err = subs.Upgrade(ctx, "u0@example.com", "")
	assert.NoError(t, err)
}
