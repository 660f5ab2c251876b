package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/trendscout/backend/internal/storage/models"
)

const activeProfileSlot = "active"

// SaveProfile replaces the active profile and returns its new version.
func (c *Client) SaveProfile(ctx context.Context, p *models.ChannelProfile) (int, error) {
	vector, err := json.Marshal(p.Vector)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal profile vector: %w", err)
	}
	terms, err := json.Marshal(p.TopTerms)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal top terms: %w", err)
	}
	weights, err := json.Marshal(p.Weights)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal weights: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channel_profiles (slot, id, channel_id, version, embedding_dimension, vector, top_terms,
			weights, language, model, sample_size, low_confidence, generated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			id = excluded.id,
			channel_id = excluded.channel_id,
			version = channel_profiles.version + 1,
			embedding_dimension = excluded.embedding_dimension,
			vector = excluded.vector,
			top_terms = excluded.top_terms,
			weights = excluded.weights,
			language = excluded.language,
			model = excluded.model,
			sample_size = excluded.sample_size,
			low_confidence = excluded.low_confidence,
			generated_at = excluded.generated_at
	`,
		activeProfileSlot,
		p.ID,
		p.ChannelID,
		p.EmbeddingDimension,
		string(vector),
		string(terms),
		string(weights),
		p.Language,
		p.Model,
		p.SampleSize,
		p.LowConfidence,
		p.GeneratedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert profile: %w", err)
	}

	var version int
	if err := tx.QueryRowContext(ctx, `SELECT version FROM channel_profiles WHERE slot = ?`, activeProfileSlot).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read profile version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit profile: %w", err)
	}

	p.Version = version
	return version, nil
}

func (c *Client) ActiveProfile(ctx context.Context) (*models.ChannelProfile, error) {
	query := `
		SELECT id, channel_id, version, embedding_dimension, vector, top_terms, weights,
			language, model, sample_size, low_confidence, generated_at
		FROM channel_profiles WHERE slot = ?
	`

	var p models.ChannelProfile
	var vector, terms, weights string
	var generatedAt int64

	err := c.db.QueryRowContext(ctx, query, activeProfileSlot).Scan(
		&p.ID,
		&p.ChannelID,
		&p.Version,
		&p.EmbeddingDimension,
		&vector,
		&terms,
		&weights,
		&p.Language,
		&p.Model,
		&p.SampleSize,
		&p.LowConfidence,
		&generatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if err := json.Unmarshal([]byte(vector), &p.Vector); err != nil {
		return nil, fmt.Errorf("failed to decode profile vector: %w", err)
	}
	if err := json.Unmarshal([]byte(terms), &p.TopTerms); err != nil {
		return nil, fmt.Errorf("failed to decode top terms: %w", err)
	}
	if err := json.Unmarshal([]byte(weights), &p.Weights); err != nil {
		return nil, fmt.Errorf("failed to decode weights: %w", err)
	}
	p.GeneratedAt = fromUnix(generatedAt)

	return &p, nil
}
