package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/trendscout/backend/internal/storage/models"
)

func (c *Client) UpsertRunReport(ctx context.Context, r *models.RunReport) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO run_reports (run_id, run_date, started_at, finished_at, report)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			report = excluded.report
	`,
		r.RunID,
		r.RunDate,
		r.StartedAt.Unix(),
		unixOrZero(r.FinishedAt),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run report: %w", err)
	}
	return nil
}

// LatestRunReport returns the most recently started report for runDate.
func (c *Client) LatestRunReport(ctx context.Context, runDate string) (*models.RunReport, error) {
	var payload string
	err := c.db.QueryRowContext(ctx,
		`SELECT report FROM run_reports WHERE run_date = ? ORDER BY started_at DESC, run_id DESC LIMIT 1`,
		runDate,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run report: %w", err)
	}

	var r models.RunReport
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &r, nil
}
