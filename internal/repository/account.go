package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stayawake/stayawake/internal/model"
)

const accountColumns = `email, credit, plan, subscription_status, subscription_id, current_period_end, disabled_at, created_at, updated_at`

// registrationLockKey serializes account inserts so the global cap holds.
const registrationLockKey int64 = 7_311_001

// CreateAccountIfAbsent returns the existing account or inserts a new one.
func (r *Repository) CreateAccountIfAbsent(ctx context.Context, acct *model.Account, maxAccounts int) (*model.Account, bool, error) {
	existing, err := r.GetAccount(ctx, acct.Email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, err
	}

	var (
		result  *model.Account
		created bool
	)
	err = r.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, registrationLockKey); err != nil {
			return fmt.Errorf("acquire registration lock: %w", err)
		}

		// Another request may have inserted the same email before we got the lock.
		found, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, acct.Email))
		if err == nil {
			result = found
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to get account: %w", err)
		}

		if maxAccounts > 0 {
			var count int
			if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
				return fmt.Errorf("failed to count accounts: %w", err)
			}
			if count >= maxAccounts {
				return ErrRegistrationClosed
			}
		}

		query := `
			INSERT INTO accounts (` + accountColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err = tx.Exec(ctx, query,
			acct.Email,
			acct.Credit,
			acct.Plan,
			acct.SubscriptionStatus,
			acct.SubscriptionID,
			acct.CurrentPeriodEnd,
			acct.DisabledAt,
			acct.CreatedAt,
			acct.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}

		result = acct
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return result, created, nil
}

// GetAccount retrieves an account by email.
func (r *Repository) GetAccount(ctx context.Context, email string) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`

	acct, err := scanAccount(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return acct, nil
}

// DebitCredit subtracts amount with a single conditional update.
func (r *Repository) DebitCredit(ctx context.Context, email string, amount int64) (int64, error) {
	query := `
		UPDATE accounts
		SET credit = credit - $2, updated_at = NOW()
		WHERE email = $1 AND credit >= $2
		RETURNING credit
	`

	var balance int64
	err := r.pool.QueryRow(ctx, query, email, amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to debit credit: %w", err)
	}

	// Either the account is missing or the balance is too low.
	if _, err := r.GetAccount(ctx, email); err != nil {
		return 0, err
	}
	return 0, ErrInsufficientCredit
}

// AddCredit adds amount with a single conditional update bounded by maxCredit.
func (r *Repository) AddCredit(ctx context.Context, email string, amount, maxCredit int64) (int64, error) {
	query := `
		UPDATE accounts
		SET credit = credit + $2, updated_at = NOW()
		WHERE email = $1 AND credit + $2 <= $3
		RETURNING credit
	`

	var balance int64
	err := r.pool.QueryRow(ctx, query, email, amount, maxCredit).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to add credit: %w", err)
	}

	acct, err := r.GetAccount(ctx, email)
	if err != nil {
		return 0, err
	}
	return acct.Credit, ErrCreditLimitExceeded
}

// UpdateAccount locks the account row, applies fn, and persists the
// subscription and plan fields.
func (r *Repository) UpdateAccount(ctx context.Context, email string, fn AccountMutator) (*model.Account, error) {
	var updated *model.Account

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		acct, err := lockAccount(ctx, tx, email)
		if err != nil {
			return err
		}

		if err := fn(acct); err != nil {
			return err
		}
		acct.UpdatedAt = time.Now().UTC()

		query := `
			UPDATE accounts
			SET plan = $2, subscription_status = $3, subscription_id = $4,
			    current_period_end = $5, updated_at = $6
			WHERE email = $1
		`
		_, err = tx.Exec(ctx, query,
			acct.Email,
			acct.Plan,
			acct.SubscriptionStatus,
			acct.SubscriptionID,
			acct.CurrentPeriodEnd,
			acct.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}

		updated = acct
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// ListExpiredSubscriptions returns accounts scheduled to cancel whose period has ended.
func (r *Repository) ListExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]*model.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE subscription_status = $1 AND current_period_end <= $2
		ORDER BY current_period_end
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, model.SubscriptionScheduledCancel, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired subscriptions: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acct)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// SetDisabled soft-disables an account. Disabling twice keeps the first timestamp.
func (r *Repository) SetDisabled(ctx context.Context, email string, at time.Time) error {
	query := `
		UPDATE accounts
		SET disabled_at = COALESCE(disabled_at, $2), updated_at = NOW()
		WHERE email = $1
	`

	result, err := r.pool.Exec(ctx, query, email, at)
	if err != nil {
		return fmt.Errorf("failed to disable account: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// lockAccount reads an account with FOR UPDATE inside tx.
func lockAccount(ctx context.Context, tx pgx.Tx, email string) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1 FOR UPDATE`

	acct, err := scanAccount(tx.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return acct, nil
}

// scanAccount scans a single row into an Account model.
func scanAccount(row pgx.Row) (*model.Account, error) {
	var acct model.Account
	err := row.Scan(
		&acct.Email,
		&acct.Credit,
		&acct.Plan,
		&acct.SubscriptionStatus,
		&acct.SubscriptionID,
		&acct.CurrentPeriodEnd,
		&acct.DisabledAt,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	return &acct, err
}
