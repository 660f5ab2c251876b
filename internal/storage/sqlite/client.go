package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/trendscout/backend/pkg/logger"
)

type Client struct {
	db  *sql.DB
	now func() time.Time
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, now: time.Now}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS channel_videos (
		video_id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		tags TEXT,
		category_id TEXT,
		language TEXT,
		published_at INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		view_count INTEGER NOT NULL DEFAULT 0,
		like_count INTEGER NOT NULL DEFAULT 0,
		comment_count INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_channel_videos_published ON channel_videos(channel_id, published_at);

	CREATE TABLE IF NOT EXISTS channel_profiles (
		slot TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		embedding_dimension INTEGER NOT NULL,
		vector TEXT NOT NULL,
		top_terms TEXT NOT NULL,
		weights TEXT NOT NULL,
		language TEXT,
		model TEXT,
		sample_size INTEGER NOT NULL,
		low_confidence INTEGER NOT NULL DEFAULT 0,
		generated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quota_days (
		date TEXT PRIMARY KEY,
		units_used INTEGER NOT NULL DEFAULT 0,
		units_reserved INTEGER NOT NULL DEFAULT 0,
		max_units INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quota_operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		operation TEXT NOT NULL,
		units INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (date) REFERENCES quota_days(date)
	);
	CREATE INDEX IF NOT EXISTS idx_quota_operations_date ON quota_operations(date);

	CREATE TABLE IF NOT EXISTS watermarks (
		task_name TEXT PRIMARY KEY,
		last_run_at INTEGER,
		last_attempt_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		last_error TEXT
	);

	CREATE TABLE IF NOT EXISTS trending_shortlist (
		run_date TEXT NOT NULL,
		video_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		format TEXT NOT NULL,
		title TEXT NOT NULL,
		channel_id TEXT,
		channel_title TEXT,
		regions TEXT,
		view_count INTEGER NOT NULL DEFAULT 0,
		published_at INTEGER NOT NULL,
		similarity REAL NOT NULL,
		velocity_pct REAL NOT NULL,
		engagement_pct REAL NOT NULL,
		keyword_score INTEGER NOT NULL,
		blend_score REAL NOT NULL,
		composite_score REAL NOT NULL,
		topic_key TEXT,
		selected_at INTEGER NOT NULL,
		PRIMARY KEY (run_date, video_id)
	);
	CREATE INDEX IF NOT EXISTS idx_shortlist_selected ON trending_shortlist(selected_at);

	CREATE TABLE IF NOT EXISTS trending_rejections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		run_date TEXT NOT NULL,
		video_id TEXT NOT NULL,
		format TEXT,
		reason TEXT NOT NULL,
		detail TEXT,
		similarity REAL,
		composite_score REAL,
		topic_key TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rejections_run ON trending_rejections(run_id);
	CREATE INDEX IF NOT EXISTS idx_rejections_created ON trending_rejections(created_at);

	CREATE TABLE IF NOT EXISTS run_reports (
		run_id TEXT PRIMARY KEY,
		run_date TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		report TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_run_reports_date ON run_reports(run_date, started_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
