package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the videos table if needed. Keeping the migration in
// code lets docker-compose bootstrap a working stack with no extra tooling.
// The CHECK constraint enforces that the playlist and segments paths are
// both set or both null.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS videos (
	id BIGSERIAL PRIMARY KEY,
	video_id TEXT NOT NULL UNIQUE,
	original_path TEXT NOT NULL,
	file_size BIGINT NOT NULL DEFAULT 0,
	file_format TEXT NOT NULL DEFAULT '',
	duration TEXT NOT NULL DEFAULT '',
	width INT NOT NULL DEFAULT 0,
	height INT NOT NULL DEFAULT 0,
	bitrate BIGINT NOT NULL DEFAULT 0,
	codec TEXT NOT NULL DEFAULT '',
	frame_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	thumbnail_path TEXT,
	hls_playlist_path TEXT,
	hls_segments_path TEXT,
	processing_status TEXT NOT NULL,
	processing_error TEXT,
	lesson_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT hls_paths_paired CHECK ((hls_playlist_path IS NULL) = (hls_segments_path IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_videos_status ON videos(processing_status);
CREATE INDEX IF NOT EXISTS idx_videos_lesson ON videos(lesson_id);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
