package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/repository"
)

// DefaultBillingPeriod is the length of one paid billing period.
const DefaultBillingPeriod = 30 * 24 * time.Hour

// expiryBatchSize caps how many subscriptions one ExpireDue call handles.
const expiryBatchSize = 200

// TransitionResult describes the outcome of a subscription change.
type TransitionResult struct {
	Account *model.Account
	// Details is a sentence suitable for showing to the account holder.
	Details string
}

// PlanInfo is the plan view of an account.
type PlanInfo struct {
	Plan               model.Plan
	EffectivePlan      model.Plan
	SubscriptionStatus model.SubscriptionStatus
	CurrentPeriodEnd   *time.Time
	Policy             model.PlanPolicy
}

// SubscriptionService drives the paid-plan state machine.
type SubscriptionService struct {
	store         repository.AccountStore
	policies      model.PlanPolicies
	billingPeriod time.Duration
	logger        *slog.Logger
	opts          options
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(store repository.AccountStore, policies model.PlanPolicies, billingPeriod time.Duration, logger *slog.Logger, opts ...Option) *SubscriptionService {
	if billingPeriod <= 0 {
		billingPeriod = DefaultBillingPeriod
	}
	return &SubscriptionService{
		store:         store,
		policies:      policies,
		billingPeriod: billingPeriod,
		logger:        logger.With("component", "service.subscription"),
		opts:          buildOptions(opts),
	}
}

// Plan returns the plan view of an account.
func (s *SubscriptionService) Plan(ctx context.Context, rawEmail string) (*PlanInfo, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}

	acct, err := s.store.GetAccount(ctx, email)
	if err != nil {
		return nil, translate(err)
	}

	return &PlanInfo{
		Plan:               acct.Plan,
		EffectivePlan:      acct.EffectivePlan(),
		SubscriptionStatus: acct.SubscriptionStatus,
		CurrentPeriodEnd:   acct.CurrentPeriodEnd,
		Policy:             s.policies.ForAccount(acct),
	}, nil
}

// Upgrade starts a paid subscription. subscriptionID is the payment
// provider's reference and may be empty.
func (s *SubscriptionService) Upgrade(ctx context.Context, rawEmail, subscriptionID string) (*TransitionResult, error) {
	return s.apply(ctx, rawEmail, model.ActionUpgrade, func(a *model.Account, now time.Time) string {
		end := now.Add(s.billingPeriod)
		a.Plan = model.PlanPaid
		a.CurrentPeriodEnd = &end
		if subscriptionID != "" {
			a.SubscriptionID = subscriptionID
		}
		return fmt.Sprintf("Your paid plan is active until %s.", formatDate(end))
	})
}

// Renew extends an active subscription by one billing period.
func (s *SubscriptionService) Renew(ctx context.Context, rawEmail string) (*TransitionResult, error) {
	return s.apply(ctx, rawEmail, model.ActionRenew, func(a *model.Account, now time.Time) string {
		start := now
		if a.CurrentPeriodEnd != nil && a.CurrentPeriodEnd.After(now) {
			start = *a.CurrentPeriodEnd
		}
		end := start.Add(s.billingPeriod)
		a.CurrentPeriodEnd = &end
		return fmt.Sprintf("Your subscription has been renewed until %s.", formatDate(end))
	})
}

// Cancel schedules cancellation at the end of the current period. Paid
// benefits stay in effect until then.
func (s *SubscriptionService) Cancel(ctx context.Context, rawEmail string) (*TransitionResult, error) {
	return s.apply(ctx, rawEmail, model.ActionCancel, func(a *model.Account, now time.Time) string {
		if a.CurrentPeriodEnd == nil {
			end := now
			a.CurrentPeriodEnd = &end
		}
		return fmt.Sprintf("Your subscription will be cancelled at the end of the billing period on %s. "+
			"You keep paid benefits until then.", formatDate(*a.CurrentPeriodEnd))
	})
}

// Reactivate withdraws a scheduled cancellation.
func (s *SubscriptionService) Reactivate(ctx context.Context, rawEmail string) (*TransitionResult, error) {
	return s.apply(ctx, rawEmail, model.ActionReactivate, func(a *model.Account, now time.Time) string {
		return "Your subscription has been reactivated and will renew as usual."
	})
}

// Pause suspends paid benefits without cancelling.
func (s *SubscriptionService) Pause(ctx context.Context, rawEmail string) (*TransitionResult, error) {
	return s.apply(ctx, rawEmail, model.ActionPause, func(a *model.Account, now time.Time) string {
		return "Your subscription is paused. Free plan limits apply until you resume."
	})
}

// Resume restores a paused subscription.
func (s *SubscriptionService) Resume(ctx context.Context, rawEmail string) (*TransitionResult, error) {
	return s.apply(ctx, rawEmail, model.ActionResume, func(a *model.Account, now time.Time) string {
		return "Your subscription has been resumed."
	})
}

// ExpireDue moves every scheduled cancellation whose period has ended to
// cancelled and reverts the plan to free. It returns how many were expired.
func (s *SubscriptionService) ExpireDue(ctx context.Context) (int, error) {
	now := s.opts.now()

	due, err := s.store.ListExpiredSubscriptions(ctx, now, expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired subscriptions: %w", err)
	}

	expired := 0
	for _, acct := range due {
		_, err := s.apply(ctx, acct.Email, model.ActionExpire, func(a *model.Account, now time.Time) string {
			a.Plan = model.PlanFree
			return "Your subscription has ended. You are now on the free plan."
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrInvalidTransition):
			// Reactivated between listing and locking.
		default:
			s.logger.Error("subscription_expiry_failed", "email", acct.Email, "error", err)
		}
	}

	return expired, nil
}

// apply runs one state machine step under the account lock.
func (s *SubscriptionService) apply(
	ctx context.Context,
	rawEmail string,
	action model.SubscriptionAction,
	mutate func(a *model.Account, now time.Time) string,
) (*TransitionResult, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}

	now := s.opts.now()
	var (
		details string
		from    model.SubscriptionStatus
	)

	acct, err := s.store.UpdateAccount(ctx, email, func(a *model.Account) error {
		next, ok := model.NextStatus(a.SubscriptionStatus, action)
		if !ok {
			return fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, action, a.SubscriptionStatus)
		}
		if action == model.ActionExpire && (a.CurrentPeriodEnd == nil || a.CurrentPeriodEnd.After(now)) {
			return fmt.Errorf("%w: billing period has not ended", ErrInvalidTransition)
		}

		from = a.SubscriptionStatus
		details = mutate(a, now)
		a.SubscriptionStatus = next
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.opts.metrics.IncSubscriptionTransition(string(action))
	s.logger.Info("subscription_transition",
		"email", email,
		"action", action,
		"from", from,
		"to", acct.SubscriptionStatus,
	)

	return &TransitionResult{Account: acct, Details: details}, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format("January 2, 2006")
}
