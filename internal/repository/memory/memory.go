// Package memory implements repository.Store in process memory.
// A single mutex guards all state, so every operation is atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/repository"
)

// Store is an in-memory repository.Store.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	links    map[string]*model.Link
	pings    map[string][]*model.PingRecord // by link ID, oldest first
}

var _ repository.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*model.Account),
		links:    make(map[string]*model.Link),
		pings:    make(map[string][]*model.PingRecord),
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) CreateAccountIfAbsent(ctx context.Context, acct *model.Account, maxAccounts int) (*model.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accounts[acct.Email]; ok {
		return existing.Clone(), false, nil
	}
	if maxAccounts > 0 && len(s.accounts) >= maxAccounts {
		return nil, false, repository.ErrRegistrationClosed
	}

	s.accounts[acct.Email] = acct.Clone()
	return acct.Clone(), true, nil
}

func (s *Store) GetAccount(ctx context.Context, email string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[email]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return acct.Clone(), nil
}

func (s *Store) DebitCredit(ctx context.Context, email string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[email]
	if !ok {
		return 0, repository.ErrAccountNotFound
	}
	if acct.Credit < amount {
		return acct.Credit, repository.ErrInsufficientCredit
	}
	acct.Credit -= amount
	acct.UpdatedAt = time.Now().UTC()
	return acct.Credit, nil
}

func (s *Store) AddCredit(ctx context.Context, email string, amount, maxCredit int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[email]
	if !ok {
		return 0, repository.ErrAccountNotFound
	}
	if acct.Credit+amount > maxCredit {
		return acct.Credit, repository.ErrCreditLimitExceeded
	}
	acct.Credit += amount
	acct.UpdatedAt = time.Now().UTC()
	return acct.Credit, nil
}

// UpdateAccount applies fn to a copy and stores it only if fn succeeds.
// Credit and disabled state are not editable through fn.
func (s *Store) UpdateAccount(ctx context.Context, email string, fn repository.AccountMutator) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[email]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}

	draft := acct.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}

	acct.Plan = draft.Plan
	acct.SubscriptionStatus = draft.SubscriptionStatus
	acct.SubscriptionID = draft.SubscriptionID
	acct.CurrentPeriodEnd = draft.CurrentPeriodEnd
	acct.UpdatedAt = time.Now().UTC()
	return acct.Clone(), nil
}

func (s *Store) ListExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Account
	for _, acct := range s.accounts {
		if acct.SubscriptionStatus != model.SubscriptionScheduledCancel || acct.CurrentPeriodEnd == nil {
			continue
		}
		if acct.CurrentPeriodEnd.After(now) {
			continue
		}
		out = append(out, acct.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CurrentPeriodEnd.Before(*out[j].CurrentPeriodEnd)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetDisabled(ctx context.Context, email string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[email]
	if !ok {
		return repository.ErrAccountNotFound
	}
	if acct.DisabledAt == nil {
		t := at
		acct.DisabledAt = &t
	}
	return nil
}

func (s *Store) CreateLink(ctx context.Context, email string, build repository.LinkBuilder) (*model.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.accounts[email]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}

	count := 0
	for _, l := range s.links {
		if l.OwnerEmail == email {
			count++
		}
	}

	link, err := build(owner.Clone(), count)
	if err != nil {
		return nil, err
	}

	for _, l := range s.links {
		if l.OwnerEmail == link.OwnerEmail && l.URL == link.URL {
			return nil, repository.ErrDuplicateLink
		}
	}

	s.links[link.ID] = link.Clone()
	return link.Clone(), nil
}

func (s *Store) GetLink(ctx context.Context, id string) (*model.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[id]
	if !ok {
		return nil, repository.ErrLinkNotFound
	}
	return link.Clone(), nil
}

func (s *Store) ListLinksByOwner(ctx context.Context, email string) ([]*model.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Link
	for _, l := range s.links {
		if l.OwnerEmail == email {
			out = append(out, l.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteLink(ctx context.Context, email, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[id]
	if !ok || link.OwnerEmail != email {
		return repository.ErrLinkNotFound
	}
	delete(s.links, id)
	return nil
}

func (s *Store) ListDueLinks(ctx context.Context, q repository.DueQuery) ([]*model.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Link
	for _, l := range s.links {
		if l.IsDue(q.Now) && q.Eligible(s.accounts[l.OwnerEmail]) {
			out = append(out, l.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].NextDueAt.Before(out[j].NextDueAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) CompletePing(ctx context.Context, c *model.PingCompletion) (*model.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := c.Record
	link, ok := s.links[rec.LinkID]
	if !ok {
		return nil, repository.ErrLinkNotFound
	}
	owner, ok := s.accounts[link.OwnerEmail]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	if owner.Credit < c.Cost {
		return nil, repository.ErrInsufficientCredit
	}

	owner.Credit -= c.Cost
	owner.UpdatedAt = time.Now().UTC()

	pingedAt := rec.PingedAt
	link.PingCount++
	link.LastPingAt = &pingedAt
	link.NextDueAt = c.NextDueAt

	stored := *rec
	s.pings[rec.LinkID] = append(s.pings[rec.LinkID], &stored)

	return link.Clone(), nil
}

func (s *Store) RecentPings(ctx context.Context, linkID string, limit int) ([]*model.PingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.pings[linkID]
	n := len(history)
	if limit > 0 && n > limit {
		n = limit
	}

	out := make([]*model.PingRecord, 0, n)
	for i := len(history) - 1; i >= len(history)-n; i-- {
		rec := *history[i]
		out = append(out, &rec)
	}
	return out, nil
}

func (s *Store) PrunePings(ctx context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, history := range s.pings {
		if len(history) <= keep {
			continue
		}
		drop := len(history) - keep
		removed += int64(drop)
		s.pings[id] = append([]*model.PingRecord(nil), history[drop:]...)
	}
	return removed, nil
}
