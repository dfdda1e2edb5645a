package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/repository"
)

// LedgerPolicy holds the credit amounts and the registration cap.
type LedgerPolicy struct {
	SignupCredit int64
	TopUpAmount  int64
	MaxCredit    int64
	// MaxAccounts closes registration once reached. Zero disables the cap.
	MaxAccounts int
}

// DefaultLedgerPolicy returns the stock credit amounts.
func DefaultLedgerPolicy() LedgerPolicy {
	return LedgerPolicy{
		SignupCredit: 21_600,
		TopUpAmount:  43_200,
		MaxCredit:    70_000,
		MaxAccounts:  100,
	}
}

// AccountService handles sign-in and account lifecycle.
type AccountService struct {
	store  repository.AccountStore
	policy LedgerPolicy
	logger *slog.Logger
	opts   options
}

// NewAccountService creates a new AccountService.
func NewAccountService(store repository.AccountStore, policy LedgerPolicy, logger *slog.Logger, opts ...Option) *AccountService {
	return &AccountService{
		store:  store,
		policy: policy,
		logger: logger.With("component", "service.account"),
		opts:   buildOptions(opts),
	}
}

// Authenticate returns the account for email, creating it with the signup
// credit on first sight. created reports whether the account is new.
func (s *AccountService) Authenticate(ctx context.Context, rawEmail string) (*model.Account, bool, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, false, err
	}

	now := s.opts.now()
	acct := &model.Account{
		Email:              email,
		Credit:             s.policy.SignupCredit,
		Plan:               model.PlanFree,
		SubscriptionStatus: model.SubscriptionNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	result, created, err := s.store.CreateAccountIfAbsent(ctx, acct, s.policy.MaxAccounts)
	if err != nil {
		if errors.Is(err, repository.ErrRegistrationClosed) {
			s.logger.Warn("registration_closed", "max_accounts", s.policy.MaxAccounts)
		}
		return nil, false, translate(err)
	}

	if created {
		s.logger.Info("account_created", "email", email, "credit", result.Credit)
	}

	return result, created, nil
}

// Get returns an account by email.
func (s *AccountService) Get(ctx context.Context, rawEmail string) (*model.Account, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}

	acct, err := s.store.GetAccount(ctx, email)
	if err != nil {
		return nil, translate(err)
	}
	return acct, nil
}

// Disable soft-disables an account. Its links stay registered but are no
// longer probed and no new links may be added.
func (s *AccountService) Disable(ctx context.Context, rawEmail string) error {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	if err := s.store.SetDisabled(ctx, email, s.opts.now()); err != nil {
		return fmt.Errorf("disable account: %w", translate(err))
	}

	s.logger.Info("account_disabled", "email", email)
	return nil
}
