package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stayawake/stayawake/internal/repository"
)

// LedgerService owns credit balances. Every mutation is a single
// conditional update in the store, so concurrent calls on one account
// never push the balance below zero or above the maximum.
type LedgerService struct {
	store  repository.AccountStore
	policy LedgerPolicy
	logger *slog.Logger
	opts   options
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(store repository.AccountStore, policy LedgerPolicy, logger *slog.Logger, opts ...Option) *LedgerService {
	return &LedgerService{
		store:  store,
		policy: policy,
		logger: logger.With("component", "service.ledger"),
		opts:   buildOptions(opts),
	}
}

// Policy returns the ledger amounts in force.
func (s *LedgerService) Policy() LedgerPolicy {
	return s.policy
}

// Balance returns the current credit of an account.
func (s *LedgerService) Balance(ctx context.Context, rawEmail string) (int64, error) {
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return 0, err
	}

	acct, err := s.store.GetAccount(ctx, email)
	if err != nil {
		return 0, translate(err)
	}
	return acct.Credit, nil
}

// Debit subtracts amount and returns the new balance.
func (s *LedgerService) Debit(ctx context.Context, rawEmail string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return 0, err
	}

	balance, err := s.store.DebitCredit(ctx, email, amount)
	if err != nil {
		return 0, translate(err)
	}

	s.opts.metrics.AddCreditDebited(amount)
	return balance, nil
}

// Credit adds amount and returns the new balance. A credit that would
// exceed the maximum fails with a *CreditLimitError.
func (s *LedgerService) Credit(ctx context.Context, rawEmail string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	email, err := NormalizeEmail(rawEmail)
	if err != nil {
		return 0, err
	}

	balance, err := s.store.AddCredit(ctx, email, amount, s.policy.MaxCredit)
	if err != nil {
		if errors.Is(err, repository.ErrCreditLimitExceeded) {
			remaining := s.policy.MaxCredit - balance
			if remaining < 0 {
				remaining = 0
			}
			s.logger.Info("credit_limit_exceeded",
				"email", email,
				"balance", balance,
				"requested", amount,
			)
			return balance, &CreditLimitError{
				CurrentBalance:    balance,
				Requested:         amount,
				Maximum:           s.policy.MaxCredit,
				RemainingCapacity: remaining,
			}
		}
		return 0, translate(err)
	}

	s.opts.metrics.AddCreditAdded(amount)
	s.logger.Info("credit_added", "email", email, "amount", amount, "balance", balance)
	return balance, nil
}

// TopUp adds the fixed top-up package.
func (s *LedgerService) TopUp(ctx context.Context, rawEmail string) (int64, error) {
	return s.Credit(ctx, rawEmail, s.policy.TopUpAmount)
}
