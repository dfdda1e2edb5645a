// Package service provides business logic for the application.
package service

import (
	"errors"
	"fmt"

	"github.com/stayawake/stayawake/internal/repository"
)

// Service errors.
var (
	ErrInvalidEmail        = errors.New("invalid email address")
	ErrInvalidURL          = errors.New("invalid URL")
	ErrURLTooLong          = errors.New("URL too long")
	ErrPrivateURL          = fmt.Errorf("%w: private or local address", ErrInvalidURL)
	ErrDuplicateLink       = errors.New("link already registered")
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrInvalidLimit        = errors.New("invalid limit")
	ErrInvalidPlan         = errors.New("invalid plan")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountDisabled     = errors.New("account is disabled")
	ErrRegistrationClosed  = errors.New("registration closed")
	ErrLinkNotFound        = errors.New("link not found")
	ErrLinkLimitReached    = errors.New("link limit reached for plan")
	ErrInsufficientCredit  = errors.New("insufficient credit")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrInvalidTransition   = errors.New("invalid subscription transition")
)

// CreditLimitError reports a credit that would push the balance past the maximum.
type CreditLimitError struct {
	CurrentBalance    int64
	Requested         int64
	Maximum           int64
	RemainingCapacity int64
}

func (e *CreditLimitError) Error() string {
	return fmt.Sprintf("credit limit exceeded: balance %d + %d > %d", e.CurrentBalance, e.Requested, e.Maximum)
}

// Unwrap lets errors.Is match ErrCreditLimitExceeded.
func (e *CreditLimitError) Unwrap() error {
	return ErrCreditLimitExceeded
}

// translate maps repository errors onto service errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, repository.ErrLinkNotFound):
		return ErrLinkNotFound
	case errors.Is(err, repository.ErrDuplicateLink):
		return ErrDuplicateLink
	case errors.Is(err, repository.ErrInsufficientCredit):
		return ErrInsufficientCredit
	case errors.Is(err, repository.ErrCreditLimitExceeded):
		return ErrCreditLimitExceeded
	case errors.Is(err, repository.ErrRegistrationClosed):
		return ErrRegistrationClosed
	default:
		return err
	}
}
