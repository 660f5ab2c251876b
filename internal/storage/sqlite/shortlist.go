package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/trendscout/backend/internal/storage/models"
)

// UpsertShortlist writes accepted entries keyed by (run_date, video_id), so
// re-running a date overwrites instead of duplicating.
func (c *Client) UpsertShortlist(ctx context.Context, entries []models.ShortlistEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trending_shortlist (run_date, video_id, run_id, rank, format, title, channel_id, channel_title,
			regions, view_count, published_at, similarity, velocity_pct, engagement_pct, keyword_score,
			blend_score, composite_score, topic_key, selected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_date, video_id) DO UPDATE SET
			run_id = excluded.run_id,
			rank = excluded.rank,
			format = excluded.format,
			title = excluded.title,
			channel_title = excluded.channel_title,
			regions = excluded.regions,
			view_count = excluded.view_count,
			similarity = excluded.similarity,
			velocity_pct = excluded.velocity_pct,
			engagement_pct = excluded.engagement_pct,
			keyword_score = excluded.keyword_score,
			blend_score = excluded.blend_score,
			composite_score = excluded.composite_score,
			topic_key = excluded.topic_key,
			selected_at = excluded.selected_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare shortlist upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		regions, err := json.Marshal(e.Regions)
		if err != nil {
			return fmt.Errorf("failed to marshal regions: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			e.RunDate,
			e.VideoID,
			e.RunID,
			e.Rank,
			string(e.Format),
			e.Title,
			e.ChannelID,
			e.ChannelTitle,
			string(regions),
			e.ViewCount,
			e.PublishedAt.Unix(),
			e.SimilarityToNiche,
			e.VelocityPercentile,
			e.EngagementPercentile,
			e.NicheKeywordScore,
			e.BlendScore,
			e.CompositeScore,
			e.TopicKey,
			e.SelectedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert shortlist entry %s: %w", e.VideoID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit shortlist: %w", err)
	}
	return nil
}

func (c *Client) Shortlist(ctx context.Context, runDate string) ([]models.ShortlistEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT run_date, video_id, run_id, rank, format, title, channel_id, channel_title, regions,
			view_count, published_at, similarity, velocity_pct, engagement_pct, keyword_score,
			blend_score, composite_score, topic_key, selected_at
		FROM trending_shortlist
		WHERE run_date = ?
		ORDER BY rank ASC, video_id ASC
	`, runDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query shortlist: %w", err)
	}
	defer rows.Close()

	var entries []models.ShortlistEntry
	for rows.Next() {
		var e models.ShortlistEntry
		var format, regions string
		var publishedAt, selectedAt int64

		if err := rows.Scan(
			&e.RunDate,
			&e.VideoID,
			&e.RunID,
			&e.Rank,
			&format,
			&e.Title,
			&e.ChannelID,
			&e.ChannelTitle,
			&regions,
			&e.ViewCount,
			&publishedAt,
			&e.SimilarityToNiche,
			&e.VelocityPercentile,
			&e.EngagementPercentile,
			&e.NicheKeywordScore,
			&e.BlendScore,
			&e.CompositeScore,
			&e.TopicKey,
			&selectedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan shortlist entry: %w", err)
		}

		if regions != "" {
			if err := json.Unmarshal([]byte(regions), &e.Regions); err != nil {
				return nil, fmt.Errorf("failed to decode regions for %s: %w", e.VideoID, err)
			}
		}
		e.Format = models.Format(format)
		e.PublishedAt = fromUnix(publishedAt)
		e.SelectedAt = fromUnix(selectedAt)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// DeleteShortlistExcept removes entries for runDate that are not in keep.
// Used so a re-run's accepted set fully replaces the previous one.
func (c *Client) DeleteShortlistExcept(ctx context.Context, runDate string, keep []string) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT video_id FROM trending_shortlist WHERE run_date = ?`, runDate)
	if err != nil {
		return 0, fmt.Errorf("failed to query shortlist ids: %w", err)
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan shortlist id: %w", err)
		}
		if _, ok := keepSet[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("failed to close shortlist rows: %w", err)
	}

	var removed int64
	for _, id := range stale {
		res, err := tx.ExecContext(ctx, `DELETE FROM trending_shortlist WHERE run_date = ? AND video_id = ?`, runDate, id)
		if err != nil {
			return 0, fmt.Errorf("failed to delete stale entry %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit shortlist cleanup: %w", err)
	}
	return removed, nil
}

func (c *Client) AppendRejections(ctx context.Context, rejections []models.Rejection) error {
	if len(rejections) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trending_rejections (run_id, run_date, video_id, format, reason, detail, similarity,
			composite_score, topic_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare rejection insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rejections {
		if _, err := stmt.ExecContext(ctx,
			r.RunID,
			r.RunDate,
			r.VideoID,
			string(r.Format),
			string(r.Reason),
			r.Detail,
			r.SimilarityToNiche,
			r.CompositeScore,
			r.TopicKey,
			r.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("failed to insert rejection %s: %w", r.VideoID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rejections: %w", err)
	}
	return nil
}

func (c *Client) Rejections(ctx context.Context, runID string) ([]models.Rejection, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT run_id, run_date, video_id, format, reason, detail, similarity, composite_score, topic_key, created_at
		FROM trending_rejections WHERE run_id = ? ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejections: %w", err)
	}
	defer rows.Close()

	var out []models.Rejection
	for rows.Next() {
		var r models.Rejection
		var format, reason string
		var createdAt int64
		if err := rows.Scan(&r.RunID, &r.RunDate, &r.VideoID, &format, &reason, &r.Detail,
			&r.SimilarityToNiche, &r.CompositeScore, &r.TopicKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rejection: %w", err)
		}
		r.Format = models.Format(format)
		r.Reason = models.RejectionReason(reason)
		r.CreatedAt = fromUnix(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PurgeTrendingBefore deletes shortlist and rejection rows older than cutoff.
func (c *Client) PurgeTrendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, q := range []string{
		`DELETE FROM trending_shortlist WHERE selected_at < ?`,
		`DELETE FROM trending_rejections WHERE created_at < ?`,
	} {
		res, err := tx.ExecContext(ctx, q, cutoff.Unix())
		if err != nil {
			return 0, fmt.Errorf("failed to purge trending rows: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return total, nil
}
