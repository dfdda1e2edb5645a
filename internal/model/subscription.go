package model

// SubscriptionStatus is the lifecycle state of a paid subscription.
type SubscriptionStatus string

const (
	SubscriptionNone            SubscriptionStatus = "none"
	SubscriptionActive          SubscriptionStatus = "active"
	SubscriptionScheduledCancel SubscriptionStatus = "scheduled_cancel"
	SubscriptionCancelled       SubscriptionStatus = "cancelled"
	SubscriptionPaused          SubscriptionStatus = "paused"
)

// SubscriptionAction is an operation applied to a subscription.
type SubscriptionAction string

const (
	ActionUpgrade    SubscriptionAction = "upgrade"
	ActionRenew      SubscriptionAction = "renew"
	ActionCancel     SubscriptionAction = "cancel"
	ActionReactivate SubscriptionAction = "reactivate"
	ActionPause      SubscriptionAction = "pause"
	ActionResume     SubscriptionAction = "resume"
	ActionExpire     SubscriptionAction = "expire"
)

type transitionKey struct {
	from   SubscriptionStatus
	action SubscriptionAction
}

var transitions = map[transitionKey]SubscriptionStatus{
	{SubscriptionNone, ActionUpgrade}:               SubscriptionActive,
	{SubscriptionCancelled, ActionUpgrade}:          SubscriptionActive,
	{SubscriptionActive, ActionRenew}:               SubscriptionActive,
	{SubscriptionActive, ActionCancel}:              SubscriptionScheduledCancel,
	{SubscriptionScheduledCancel, ActionReactivate}: SubscriptionActive,
	{SubscriptionActive, ActionPause}:               SubscriptionPaused,
	{SubscriptionPaused, ActionResume}:              SubscriptionActive,
	{SubscriptionScheduledCancel, ActionExpire}:     SubscriptionCancelled,
}

// NextStatus returns the status reached by applying action in state from.
// ok is false when the transition is not allowed.
func NextStatus(from SubscriptionStatus, action SubscriptionAction) (SubscriptionStatus, bool) {
	if from == "" {
		from = SubscriptionNone
	}
	next, ok := transitions[transitionKey{from, action}]
	return next, ok
}
