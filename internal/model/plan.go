package model

import "time"

// PlanPolicy captures what a plan grants.
type PlanPolicy struct {
	Plan     Plan
	Interval time.Duration
	// LinkLimit is the maximum number of monitored links. Zero means unlimited.
	LinkLimit int
	// PingCost is the credit, in minutes, debited per completed probe.
	PingCost int64
}

// Unlimited reports whether the policy places no cap on links.
func (p PlanPolicy) Unlimited() bool {
	return p.LinkLimit <= 0
}

// AllowsAnother reports whether an owner holding count links may add one more.
func (p PlanPolicy) AllowsAnother(count int) bool {
	return p.Unlimited() || count < p.LinkLimit
}

// PlanPolicies maps each plan to its policy.
type PlanPolicies struct {
	Free PlanPolicy
	Paid PlanPolicy
}

// DefaultPlanPolicies returns the stock free and paid tiers.
func DefaultPlanPolicies() PlanPolicies {
	return PlanPolicies{
		Free: PlanPolicy{Plan: PlanFree, Interval: 10 * time.Minute, LinkLimit: 3, PingCost: 10},
		Paid: PlanPolicy{Plan: PlanPaid, Interval: 6 * time.Minute, LinkLimit: 0, PingCost: 6},
	}
}

// For returns the policy of the given plan. Unknown plans get the free policy.
func (p PlanPolicies) For(plan Plan) PlanPolicy {
	if plan == PlanPaid {
		return p.Paid
	}
	return p.Free
}

// ForAccount returns the policy of the account's effective plan.
func (p PlanPolicies) ForAccount(a *Account) PlanPolicy {
	return p.For(a.EffectivePlan())
}
