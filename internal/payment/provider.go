package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/stayawake/stayawake/internal/model"
)

// ErrUnsupportedPlan is returned when a checkout is requested for a plan
// that cannot be purchased.
var ErrUnsupportedPlan = errors.New("plan cannot be purchased")

// Descriptor is what a client needs to open the provider's checkout.
type Descriptor struct {
	SubscriptionID string     `json:"subscription_id"`
	Email          string     `json:"email"`
	Plan           model.Plan `json:"plan"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	CheckoutURL    string     `json:"checkout_url"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Provider creates subscriptions with a payment provider.
type Provider interface {
	CreateSubscription(ctx context.Context, email string, plan model.Plan) (*Descriptor, error)
}

// ManualProvider issues descriptors locally. Activation arrives later via
// the signed webhook once the customer completes checkout.
type ManualProvider struct {
	price       int64
	currency    string
	checkoutURL string
	now         func() time.Time
}

// NewManualProvider creates a ManualProvider.
func NewManualProvider(price int64, currency, checkoutURL string) *ManualProvider {
	return &ManualProvider{
		price:       price,
		currency:    currency,
		checkoutURL: checkoutURL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateSubscription returns a descriptor for the paid plan.
func (p *ManualProvider) CreateSubscription(ctx context.Context, email string, plan model.Plan) (*Descriptor, error) {
	if plan != model.PlanPaid {
		return nil, ErrUnsupportedPlan
	}

	id := "sub_" + ulid.Make().String()
	return &Descriptor{
		SubscriptionID: id,
		Email:          email,
		Plan:           plan,
		Amount:         p.price,
		Currency:       p.currency,
		CheckoutURL:    fmt.Sprintf("%s?subscription_id=%s", p.checkoutURL, id),
		CreatedAt:      p.now(),
	}, nil
}
