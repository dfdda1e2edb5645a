package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stayawake/stayawake/internal/model"
)

// CompletePing commits a probe result in one transaction.
func (r *Repository) CompletePing(ctx context.Context, c *model.PingCompletion) (*model.Link, error) {
	rec := c.Record
	var updated *model.Link

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		linkQuery := `
			UPDATE links
			SET ping_count = ping_count + 1, last_ping_at = $2, next_due_at = $3
			WHERE id = $1
			RETURNING ` + linkColumns

		link, err := scanLink(tx.QueryRow(ctx, linkQuery, rec.LinkID, rec.PingedAt, c.NextDueAt))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLinkNotFound
			}
			return fmt.Errorf("failed to advance link: %w", err)
		}

		debit, err := tx.Exec(ctx, `
			UPDATE accounts
			SET credit = credit - $2, updated_at = NOW()
			WHERE email = $1 AND credit >= $2
		`, link.OwnerEmail, c.Cost)
		if err != nil {
			return fmt.Errorf("failed to debit credit: %w", err)
		}
		if debit.RowsAffected() == 0 {
			return ErrInsufficientCredit
		}

		pingQuery := `
			INSERT INTO pings (id, link_id, url, owner_email, status_code, outcome, response_time_ms, error, pinged_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err = tx.Exec(ctx, pingQuery,
			rec.ID,
			rec.LinkID,
			rec.URL,
			rec.OwnerEmail,
			rec.StatusCode,
			rec.Outcome,
			rec.ResponseTimeMillis(),
			rec.Error,
			rec.PingedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record ping: %w", err)
		}

		updated = link
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// RecentPings retrieves the newest records for a link.
func (r *Repository) RecentPings(ctx context.Context, linkID string, limit int) ([]*model.PingRecord, error) {
	query := `
		SELECT id, link_id, url, owner_email, status_code, outcome, response_time_ms, error, pinged_at
		FROM pings
		WHERE link_id = $1
		ORDER BY pinged_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, linkID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pings: %w", err)
	}
	defer rows.Close()

	var records []*model.PingRecord
	for rows.Next() {
		var (
			rec    model.PingRecord
			millis int64
		)
		err := rows.Scan(
			&rec.ID,
			&rec.LinkID,
			&rec.URL,
			&rec.OwnerEmail,
			&rec.StatusCode,
			&rec.Outcome,
			&millis,
			&rec.Error,
			&rec.PingedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ping: %w", err)
		}
		rec.ResponseTime = msToDuration(millis)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pings: %w", err)
	}

	return records, nil
}

// PrunePings deletes everything beyond the newest keep records of each link.
func (r *Repository) PrunePings(ctx context.Context, keep int) (int64, error) {
	query := `
		DELETE FROM pings
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY link_id ORDER BY pinged_at DESC, id DESC) AS rn
				FROM pings
			) ranked
			WHERE ranked.rn > $1
		)
	`

	result, err := r.pool.Exec(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune pings: %w", err)
	}

	return result.RowsAffected(), nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
