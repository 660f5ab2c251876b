package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/trendscout/backend/internal/storage/models"
)

// QuotaUsage returns units consumed on day; a day without a row has used nothing.
func (c *Client) QuotaUsage(ctx context.Context, day string) (int, error) {
	var used int
	err := c.db.QueryRowContext(ctx, `SELECT units_used FROM quota_days WHERE date = ?`, day).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota usage: %w", err)
	}
	return used, nil
}

// ReserveQuota holds units on day when they fit under maxUnits. The check and
// the increment are one UPDATE, so concurrent ledgers cannot overshoot.
func (c *Client) ReserveQuota(ctx context.Context, day string, maxUnits, units int) (bool, error) {
	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO quota_days (date, units_used, max_units) VALUES (?, 0, ?) ON CONFLICT(date) DO NOTHING`,
		day, maxUnits,
	); err != nil {
		return false, fmt.Errorf("failed to create quota day: %w", err)
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE quota_days SET units_reserved = units_reserved + ?
		WHERE date = ? AND units_used + units_reserved + ? <= ?`,
		units, day, units, maxUnits,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reserve quota: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reserve quota: %w", err)
	}
	return n == 1, nil
}

func (c *Client) ReleaseQuota(ctx context.Context, day string, units int) error {
	if _, err := c.db.ExecContext(ctx,
		`UPDATE quota_days SET units_reserved = MAX(units_reserved - ?, 0) WHERE date = ?`,
		units, day,
	); err != nil {
		return fmt.Errorf("failed to release quota: %w", err)
	}
	return nil
}

// AppendQuotaOperation moves op.Units from reserved to used and logs op,
// returning the new total. The day row is created on first use.
func (c *Client) AppendQuotaOperation(ctx context.Context, day string, maxUnits int, op models.QuotaOperation) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quota_days (date, units_used, max_units) VALUES (?, 0, ?) ON CONFLICT(date) DO NOTHING`,
		day, maxUnits,
	); err != nil {
		return 0, fmt.Errorf("failed to create quota day: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE quota_days SET units_used = units_used + ?, units_reserved = MAX(units_reserved - ?, 0)
		WHERE date = ?`,
		op.Units, op.Units, day,
	); err != nil {
		return 0, fmt.Errorf("failed to increment quota: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quota_operations (date, operation, units, created_at) VALUES (?, ?, ?, ?)`,
		day, op.Operation, op.Units, op.Timestamp.Unix(),
	); err != nil {
		return 0, fmt.Errorf("failed to append quota operation: %w", err)
	}

	var used int
	if err := tx.QueryRowContext(ctx, `SELECT units_used FROM quota_days WHERE date = ?`, day).Scan(&used); err != nil {
		return 0, fmt.Errorf("failed to read quota usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit quota operation: %w", err)
	}
	return used, nil
}

func (c *Client) QuotaDay(ctx context.Context, day string) (*models.QuotaDay, error) {
	q := &models.QuotaDay{Date: day}
	err := c.db.QueryRowContext(ctx, `SELECT units_used, units_reserved, max_units FROM quota_days WHERE date = ?`, day).Scan(&q.UnitsUsed, &q.UnitsReserved, &q.MaxUnits)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read quota day: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT operation, units, created_at FROM quota_operations WHERE date = ? ORDER BY id ASC`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query quota operations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var op models.QuotaOperation
		var createdAt int64
		if err := rows.Scan(&op.Operation, &op.Units, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan quota operation: %w", err)
		}
		op.Timestamp = fromUnix(createdAt)
		q.Operations = append(q.Operations, op)
	}

	return q, rows.Err()
}
