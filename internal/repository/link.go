package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stayawake/stayawake/internal/model"
)

const linkColumns = `id, owner_email, url, ping_count, last_ping_at, next_due_at, created_at`

// CreateLink locks the owner row, counts existing links, and inserts the
// link produced by build in the same transaction.
func (r *Repository) CreateLink(ctx context.Context, email string, build LinkBuilder) (*model.Link, error) {
	var created *model.Link

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		owner, err := lockAccount(ctx, tx, email)
		if err != nil {
			return err
		}

		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM links WHERE owner_email = $1`, email).Scan(&count); err != nil {
			return fmt.Errorf("failed to count links: %w", err)
		}

		link, err := build(owner, count)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO links (` + linkColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err = tx.Exec(ctx, query,
			link.ID,
			link.OwnerEmail,
			link.URL,
			link.PingCount,
			link.LastPingAt,
			link.NextDueAt,
			link.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateLink
			}
			return fmt.Errorf("failed to create link: %w", err)
		}

		created = link
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// GetLink retrieves a link by its ID.
func (r *Repository) GetLink(ctx context.Context, id string) (*model.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE id = $1`

	link, err := scanLink(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link by ID: %w", err)
	}

	return link, nil
}

// ListLinksByOwner retrieves all links of an owner in creation order.
func (r *Repository) ListLinksByOwner(ctx context.Context, email string) ([]*model.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE owner_email = $1
		ORDER BY created_at ASC, id ASC
	`

	return r.queryLinks(ctx, query, email)
}

// DeleteLink hard-deletes a link owned by email.
func (r *Repository) DeleteLink(ctx context.Context, email, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM links WHERE id = $1 AND owner_email = $2`, id, email)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrLinkNotFound
	}

	return nil
}

// ListDueLinks retrieves links whose next_due_at has passed, most overdue
// first, skipping owners that are disabled or short of one probe's cost.
func (r *Repository) ListDueLinks(ctx context.Context, q DueQuery) ([]*model.Link, error) {
	query := `
		SELECT l.id, l.owner_email, l.url, l.ping_count, l.last_ping_at, l.next_due_at, l.created_at
		FROM links l
		JOIN accounts a ON a.email = l.owner_email
		WHERE l.next_due_at <= $1
		  AND a.disabled_at IS NULL
		  AND a.credit >= CASE
		        WHEN a.plan = $2 AND a.subscription_status IN ($3, $4) THEN $5
		        ELSE $6
		      END
		ORDER BY l.next_due_at ASC
		LIMIT $7
	`

	return r.queryLinks(ctx, query,
		q.Now,
		string(model.PlanPaid),
		string(model.SubscriptionActive),
		string(model.SubscriptionScheduledCancel),
		q.Policies.Paid.PingCost,
		q.Policies.Free.PingCost,
		q.Limit,
	)
}

func (r *Repository) queryLinks(ctx context.Context, query string, args ...any) ([]*model.Link, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []*model.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}

	return links, nil
}

// scanLink scans a single row into a Link model.
func scanLink(row pgx.Row) (*model.Link, error) {
	var link model.Link
	err := row.Scan(
		&link.ID,
		&link.OwnerEmail,
		&link.URL,
		&link.PingCount,
		&link.LastPingAt,
		&link.NextDueAt,
		&link.CreatedAt,
	)
	return &link, err
}
