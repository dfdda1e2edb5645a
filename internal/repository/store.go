package repository

import (
	"context"
	"errors"
	"time"

	"github.com/stayawake/stayawake/internal/model"
)

// Common errors for storage operations.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrRegistrationClosed  = errors.New("registration closed")
	ErrInsufficientCredit  = errors.New("insufficient credit")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrLinkNotFound        = errors.New("link not found")
	ErrDuplicateLink       = errors.New("link already registered")
)

// LinkBuilder is invoked by CreateLink while the owner is locked. It receives
// the owner and the number of links the owner currently holds, and returns
// the link to insert or an error that aborts the registration.
type LinkBuilder func(owner *model.Account, existing int) (*model.Link, error)

// AccountMutator edits an account inside a locked read-modify-write.
// Returning an error aborts the update.
type AccountMutator func(a *model.Account) error

// AccountStore persists accounts and their credit balance.
type AccountStore interface {
	// CreateAccountIfAbsent returns the existing account for acct.Email, or
	// inserts acct. created reports whether an insert happened. When
	// maxAccounts > 0 and that many accounts exist, new emails are rejected
	// with ErrRegistrationClosed.
	CreateAccountIfAbsent(ctx context.Context, acct *model.Account, maxAccounts int) (*model.Account, bool, error)
	GetAccount(ctx context.Context, email string) (*model.Account, error)
	// DebitCredit subtracts amount if the balance covers it and returns the
	// new balance. Otherwise it returns ErrInsufficientCredit and leaves the
	// balance unchanged.
	DebitCredit(ctx context.Context, email string, amount int64) (int64, error)
	// AddCredit adds amount if the result stays within maxCredit and returns
	// the new balance. Otherwise it returns the unchanged balance together
	// with ErrCreditLimitExceeded.
	AddCredit(ctx context.Context, email string, amount, maxCredit int64) (int64, error)
	UpdateAccount(ctx context.Context, email string, fn AccountMutator) (*model.Account, error)
	ListExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]*model.Account, error)
	SetDisabled(ctx context.Context, email string, at time.Time) error
}

// LinkStore persists monitored links.
type LinkStore interface {
	// CreateLink counts the owner's links and inserts the result of build
	// atomically with respect to other CreateLink calls for the same owner.
	CreateLink(ctx context.Context, email string, build LinkBuilder) (*model.Link, error)
	GetLink(ctx context.Context, id string) (*model.Link, error)
	// ListLinksByOwner returns the owner's links oldest first.
	ListLinksByOwner(ctx context.Context, email string) ([]*model.Link, error)
	// DeleteLink removes a link owned by email. Missing and foreign links
	// both yield ErrLinkNotFound.
	DeleteLink(ctx context.Context, email, id string) error
	// ListDueLinks returns due links most overdue first. Links whose owner
	// is disabled or cannot pay for one probe are left out, so they never
	// take a slot in the batch.
	ListDueLinks(ctx context.Context, q DueQuery) ([]*model.Link, error)
}

// DueQuery selects links ready for a probe.
type DueQuery struct {
	Now   time.Time
	Limit int
	// Policies supplies the probe cost each owner must be able to cover.
	Policies model.PlanPolicies
}

// Eligible reports whether owner's links may be returned by ListDueLinks.
func (q DueQuery) Eligible(owner *model.Account) bool {
	if owner == nil || owner.IsDisabled() {
		return false
	}
	return owner.Credit >= q.Policies.ForAccount(owner).PingCost
}

// PingStore persists probe results.
type PingStore interface {
	// CompletePing commits a probe as one unit: record insert, link counter
	// and schedule update, and owner debit. A deleted link yields
	// ErrLinkNotFound and an exhausted owner yields ErrInsufficientCredit;
	// nothing is written in either case.
	CompletePing(ctx context.Context, c *model.PingCompletion) (*model.Link, error)
	// RecentPings returns up to limit records for the link, newest first.
	RecentPings(ctx context.Context, linkID string, limit int) ([]*model.PingRecord, error)
	// PrunePings keeps the newest keep records per link and returns how
	// many were removed.
	PrunePings(ctx context.Context, keep int) (int64, error)
}

// Store is the full persistence contract used by services.
type Store interface {
	AccountStore
	LinkStore
	PingStore
	Ping(ctx context.Context) error
}
