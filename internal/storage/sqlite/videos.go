package sqlite

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/trendscout/backend/internal/storage/models"
)

func (c *Client) UpsertChannelVideos(ctx context.Context, videos []models.ChannelVideo) (int, error) {
	if len(videos) == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO channel_videos (video_id, channel_id, title, description, tags, category_id, language,
			published_at, duration_seconds, view_count, like_count, comment_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			tags = excluded.tags,
			category_id = excluded.category_id,
			language = excluded.language,
			duration_seconds = excluded.duration_seconds,
			view_count = excluded.view_count,
			like_count = excluded.like_count,
			comment_count = excluded.comment_count,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare video upsert: %w", err)
	}
	defer stmt.Close()

	now := c.now().Unix()
	for _, v := range videos {
		tags, err := json.Marshal(v.Tags)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal tags: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			v.VideoID,
			v.ChannelID,
			v.Title,
			v.Description,
			string(tags),
			v.CategoryID,
			v.Language,
			v.PublishedAt.Unix(),
			v.DurationSeconds,
			v.ViewCount,
			v.LikeCount,
			v.CommentCount,
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert video %s: %w", v.VideoID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit videos: %w", err)
	}
	return len(videos), nil
}

// RecentChannelVideos returns the channel's newest videos first.
func (c *Client) RecentChannelVideos(ctx context.Context, channelID string, limit int) ([]models.ChannelVideo, error) {
	query := `
		SELECT video_id, channel_id, title, description, tags, category_id, language,
			published_at, duration_seconds, view_count, like_count, comment_count, updated_at
		FROM channel_videos
		WHERE channel_id = ?
		ORDER BY published_at DESC, video_id ASC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel videos: %w", err)
	}
	defer rows.Close()

	var videos []models.ChannelVideo
	for rows.Next() {
		var v models.ChannelVideo
		var tags string
		var publishedAt, updatedAt int64

		if err := rows.Scan(
			&v.VideoID,
			&v.ChannelID,
			&v.Title,
			&v.Description,
			&tags,
			&v.CategoryID,
			&v.Language,
			&publishedAt,
			&v.DurationSeconds,
			&v.ViewCount,
			&v.LikeCount,
			&v.CommentCount,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan channel video: %w", err)
		}

		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &v.Tags); err != nil {
				return nil, fmt.Errorf("failed to decode tags for %s: %w", v.VideoID, err)
			}
		}
		v.PublishedAt = fromUnix(publishedAt)
		v.UpdatedAt = fromUnix(updatedAt)
		videos = append(videos, v)
	}

	return videos, rows.Err()
}
