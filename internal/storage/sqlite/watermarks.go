package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/trendscout/backend/internal/storage/models"
)

func (c *Client) GetWatermark(ctx context.Context, task string) (*models.WatermarkRecord, error) {
	query := `SELECT task_name, last_run_at, last_attempt_at, status, last_error FROM watermarks WHERE task_name = ?`

	rec, err := scanWatermark(c.db.QueryRowContext(ctx, query, task))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}
	return rec, nil
}

// UpsertWatermark writes rec unconditionally. A nil LastRunAt keeps the
// stored value.
func (c *Client) UpsertWatermark(ctx context.Context, rec *models.WatermarkRecord) error {
	var lastRun sql.NullInt64
	if rec.LastRunAt != nil {
		lastRun = sql.NullInt64{Int64: rec.LastRunAt.Unix(), Valid: true}
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO watermarks (task_name, last_run_at, last_attempt_at, status, last_error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_name) DO UPDATE SET
			last_run_at = COALESCE(excluded.last_run_at, watermarks.last_run_at),
			last_attempt_at = excluded.last_attempt_at,
			status = excluded.status,
			last_error = excluded.last_error
	`,
		rec.TaskName,
		lastRun,
		rec.LastAttemptAt.Unix(),
		string(rec.Status),
		rec.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert watermark: %w", err)
	}
	return nil
}

func (c *Client) ListWatermarks(ctx context.Context) ([]models.WatermarkRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT task_name, last_run_at, last_attempt_at, status, last_error FROM watermarks ORDER BY task_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watermarks: %w", err)
	}
	defer rows.Close()

	var records []models.WatermarkRecord
	for rows.Next() {
		rec, err := scanWatermark(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatermark(row rowScanner) (*models.WatermarkRecord, error) {
	var rec models.WatermarkRecord
	var lastRun sql.NullInt64
	var lastAttempt int64
	var status string
	var lastError sql.NullString

	if err := row.Scan(&rec.TaskName, &lastRun, &lastAttempt, &status, &lastError); err != nil {
		return nil, err
	}

	if lastRun.Valid {
		t := fromUnix(lastRun.Int64)
		rec.LastRunAt = &t
	}
	rec.LastAttemptAt = fromUnix(lastAttempt)
	rec.Status = models.TaskStatus(status)
	rec.LastError = lastError.String
	return &rec, nil
}
