// Package model defines domain entities for the application.
package model

import "time"

// Plan is the billing tier of an account.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPaid Plan = "paid"
)

// IsValid reports whether p names a known plan.
func (p Plan) IsValid() bool {
	return p == PlanFree || p == PlanPaid
}

// Account is a customer identified by email. Credit is measured in minutes.
type Account struct {
	Email              string             `json:"email"`
	Credit             int64              `json:"credit"`
	Plan               Plan               `json:"plan"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	SubscriptionID     string             `json:"subscription_id,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	DisabledAt         *time.Time         `json:"-"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// IsDisabled returns true if the account was soft-disabled.
func (a *Account) IsDisabled() bool {
	return a.DisabledAt != nil
}

// EffectivePlan returns the plan whose benefits currently apply.
// Paid benefits hold while the subscription is active or scheduled to
// cancel; a paused subscription falls back to free until resumed.
func (a *Account) EffectivePlan() Plan {
	if a.Plan != PlanPaid {
		return PlanFree
	}
	switch a.SubscriptionStatus {
	case SubscriptionActive, SubscriptionScheduledCancel:
		return PlanPaid
	default:
		return PlanFree
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	if a.CurrentPeriodEnd != nil {
		t := *a.CurrentPeriodEnd
		c.CurrentPeriodEnd = &t
	}
	if a.DisabledAt != nil {
		t := *a.DisabledAt
		c.DisabledAt = &t
	}
	return &c
}
