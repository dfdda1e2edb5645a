package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stayawake/stayawake/internal/service"
)

// Webhook event types.
const (
	EventActivated = "subscription.activated"
	EventCharged   = "subscription.charged"
	EventCancelled = "subscription.cancelled"
	EventPaused    = "subscription.paused"
	EventResumed   = "subscription.resumed"
)

var (
	// ErrMalformedEvent is returned for bodies that are not a valid event.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrUnknownEvent is returned for event types this service does not handle.
	ErrUnknownEvent = errors.New("unknown webhook event type")
)

// Event is the webhook body sent by the payment provider.
type Event struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Email          string `json:"email"`
	SubscriptionID string `json:"subscription_id"`
}

// SubscriptionManager applies subscription transitions.
type SubscriptionManager interface {
	Upgrade(ctx context.Context, email, subscriptionID string) (*service.TransitionResult, error)
	Renew(ctx context.Context, email string) (*service.TransitionResult, error)
	Cancel(ctx context.Context, email string) (*service.TransitionResult, error)
	Pause(ctx context.Context, email string) (*service.TransitionResult, error)
	Resume(ctx context.Context, email string) (*service.TransitionResult, error)
}

// Deduper remembers processed event IDs.
// MarkProcessed returns false if the key was already marked.
type Deduper interface {
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// WebhookProcessor verifies and applies provider events.
type WebhookProcessor struct {
	secret string
	window time.Duration
	subs   SubscriptionManager
	dedupe Deduper
	logger *slog.Logger
	now    func() time.Time
}

// NewWebhookProcessor creates a WebhookProcessor. A nil dedupe falls back
// to an in-process set.
func NewWebhookProcessor(secret string, window time.Duration, subs SubscriptionManager, dedupe Deduper, logger *slog.Logger) *WebhookProcessor {
	if dedupe == nil {
		dedupe = NewMemoryDeduper()
	}
	return &WebhookProcessor{
		secret: secret,
		window: window,
		subs:   subs,
		dedupe: dedupe,
		logger: logger.With("component", "payment.webhook"),
		now:    time.Now,
	}
}

// Enabled reports whether a webhook secret is configured.
func (p *WebhookProcessor) Enabled() bool {
	return p.secret != ""
}

// Verify checks the signature of a raw body.
func (p *WebhookProcessor) Verify(signature string, timestamp int64, body []byte) error {
	return Verify(p.secret, signature, timestamp, body, p.window, p.now())
}

// Handle applies a verified event. duplicate is true when the event ID was
// seen before and nothing was applied.
func (p *WebhookProcessor) Handle(ctx context.Context, body []byte) (result *service.TransitionResult, duplicate bool, err error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, false, ErrMalformedEvent
	}
	if evt.ID == "" || evt.Type == "" || evt.Email == "" {
		return nil, false, ErrMalformedEvent
	}

	apply, err := p.route(evt)
	if err != nil {
		return nil, false, err
	}

	key := "payment:event:" + evt.ID
	fresh, err := p.dedupe.MarkProcessed(ctx, key, 24*time.Hour)
	if err != nil {
		return nil, false, fmt.Errorf("dedupe event: %w", err)
	}
	if !fresh {
		p.logger.Info("webhook_duplicate", "event_id", evt.ID, "type", evt.Type)
		return nil, true, nil
	}

	result, err = apply(ctx)
	if err != nil {
		p.logger.Warn("webhook_apply_failed", "event_id", evt.ID, "type", evt.Type, "error", err)
		if !IsPermanent(err) {
			// Let the provider's retry reach us again.
			if ferr := p.dedupe.Forget(ctx, key); ferr != nil {
				p.logger.Error("webhook_forget_failed", "event_id", evt.ID, "error", ferr)
			}
		}
		return nil, false, err
	}

	p.logger.Info("webhook_applied",
		"event_id", evt.ID,
		"type", evt.Type,
		"status", result.Account.SubscriptionStatus,
	)
	return result, false, nil
}

func (p *WebhookProcessor) route(evt Event) (func(context.Context) (*service.TransitionResult, error), error) {
	switch evt.Type {
	case EventActivated:
		return func(ctx context.Context) (*service.TransitionResult, error) {
			return p.subs.Upgrade(ctx, evt.Email, evt.SubscriptionID)
		}, nil
	case EventCharged:
		return func(ctx context.Context) (*service.TransitionResult, error) {
			return p.subs.Renew(ctx, evt.Email)
		}, nil
	case EventCancelled:
		return func(ctx context.Context) (*service.TransitionResult, error) {
			return p.subs.Cancel(ctx, evt.Email)
		}, nil
	case EventPaused:
		return func(ctx context.Context) (*service.TransitionResult, error) {
			return p.subs.Pause(ctx, evt.Email)
		}, nil
	case EventResumed:
		return func(ctx context.Context) (*service.TransitionResult, error) {
			return p.subs.Resume(ctx, evt.Email)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, evt.Type)
	}
}

// IsPermanent reports whether retrying the event can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, service.ErrInvalidTransition) ||
		errors.Is(err, service.ErrAccountNotFound) ||
		errors.Is(err, service.ErrInvalidEmail)
}

// MemoryDeduper is a process-local Deduper.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryDeduper creates a MemoryDeduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), now: time.Now}
}

// MarkProcessed records key until ttl elapses. Expired keys are swept on
// every call.
func (d *MemoryDeduper) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	return true, nil
}

// Forget removes key.
func (d *MemoryDeduper) Forget(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.seen, key)
	return nil
}
