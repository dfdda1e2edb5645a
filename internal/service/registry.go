package service

import (
	"context"
	"log/slog"

	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/repository"
)

// RegistryStore is the storage needed by LinkRegistry.
type RegistryStore interface {
	repository.AccountStore
	repository.LinkStore
}

// LinkRegistry manages the monitored links of each account.
type LinkRegistry struct {
	store    RegistryStore
	policies model.PlanPolicies
	logger   *slog.Logger
	opts     options
}

// NewLinkRegistry creates a new LinkRegistry.
func NewLinkRegistry(store RegistryStore, policies model.PlanPolicies, logger *slog.Logger, opts ...Option) *LinkRegistry {
	return &LinkRegistry{
		store:    store,
		policies: policies,
		logger:   logger.With("component", "service.registry"),
		opts:     buildOptions(opts),
	}
}

// Register adds a link for the account. The link is due immediately.
func (s *LinkRegistry) Register(ctx context.Context, rawEmail, rawURL string) (*model.Link, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	target, err := canonicalizeURL(rawURL, s.opts.allowPrivate)
	if err != nil {
		return nil, err
	}

	now := s.opts.now()
	link, err := s.store.CreateLink(ctx, email, func(owner *model.Account, existing int) (*model.Link, error) {
		if owner.IsDisabled() {
			return nil, ErrAccountDisabled
		}
		if owner.Credit <= 0 {
			return nil, ErrInsufficientCredit
		}
		if policy := s.policies.ForAccount(owner); !policy.AllowsAnother(existing) {
			return nil, ErrLinkLimitReached
		}

		return &model.Link{
			ID:         NewID(),
			OwnerEmail: email,
			URL:        target,
			NextDueAt:  now,
			CreatedAt:  now,
		}, nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.opts.metrics.IncLinkCreated()
	s.logger.Info("link_registered", "link_id", link.ID, "email", email)

	return link, nil
}

// List returns the account's links in creation order.
func (s *LinkRegistry) List(ctx context.Context, rawEmail string) ([]*model.Link, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetAccount(ctx, email); err != nil {
		return nil, translate(err)
	}

	links, err := s.store.ListLinksByOwner(ctx, email)
	if err != nil {
		return nil, translate(err)
	}
	return links, nil
}

// Delete removes a link owned by the account. A missing link and a link
// owned by someone else produce the same ErrLinkNotFound.
func (s *LinkRegistry) Delete(ctx context.Context, rawEmail, id string) error {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return ErrLinkNotFound
	}
	if id == "" {
		return ErrLinkNotFound
	}

	if err := s.store.DeleteLink(ctx, email, id); err != nil {
		return translate(err)
	}

	s.opts.metrics.IncLinkDeleted()
	s.logger.Info("link_deleted", "link_id", id, "email", email)
	return nil
}

// Dashboard is the overview shown to an account holder.
type Dashboard struct {
	Account    *model.Account
	Policy     model.PlanPolicy
	Links      []*model.Link
	TotalLinks int
	TotalPings int64
}

// Dashboard returns the account summary together with its links.
func (s *LinkRegistry) Dashboard(ctx context.Context, rawEmail string) (*Dashboard, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}

	acct, err := s.store.GetAccount(ctx, email)
	if err != nil {
		return nil, translate(err)
	}

	links, err := s.store.ListLinksByOwner(ctx, email)
	if err != nil {
		return nil, translate(err)
	}

	d := &Dashboard{
		Account:    acct,
		Policy:     s.policies.ForAccount(acct),
		Links:      links,
		TotalLinks: len(links),
	}
	for _, l := range links {
		d.TotalPings += l.PingCount
	}
	return d, nil
}
