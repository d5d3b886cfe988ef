// Package repository wraps all SQL used throughout the API and workers.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vodworks/internal/model"
)

// ErrNotFound is returned for any operation against a videoId that no longer
// exists. Callers distinguish it from transport errors with errors.Is.
var ErrNotFound = errors.New("video not found")

// ErrAlreadyClaimed is returned when a processing lease cannot be taken
// because the video is not in the UPLOADED state (typically another worker
// got there first).
var ErrAlreadyClaimed = errors.New("video already claimed for processing")

const videoColumns = `id, video_id, original_path, file_size, file_format,
	duration, width, height, bitrate, codec, frame_rate,
	thumbnail_path, hls_playlist_path, hls_segments_path,
	processing_status, processing_error, lesson_id, created_at, updated_at`

// VideoRepository persists video records and their processing status.
type VideoRepository struct {
	pool *pgxpool.Pool
}

// NewVideoRepository constructs a repository.
func NewVideoRepository(pool *pgxpool.Pool) *VideoRepository {
	return &VideoRepository{pool: pool}
}

// Create inserts a freshly uploaded video. The caller provides VideoID,
// OriginalPath, FileSize and FileFormat; the repository owns timestamps and
// the internal id.
func (r *VideoRepository) Create(ctx context.Context, v *model.Video) error {
	if v.Status == "" {
		v.Status = model.StatusUploaded
	}
	if !v.Status.Valid() {
		return fmt.Errorf("create video %s: unknown status %q", v.VideoID, v.Status)
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now
	err := r.pool.QueryRow(ctx, `
		INSERT INTO videos (video_id, original_path, file_size, file_format, processing_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, v.VideoID, v.OriginalPath, v.FileSize, v.FileFormat, v.Status, v.CreatedAt, v.UpdatedAt).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

// MetadataUpdate carries the probed technical fields for a partial update.
type MetadataUpdate struct {
	Duration  *string
	Width     *int
	Height    *int
	Bitrate   *int64
	Codec     *string
	FrameRate *float64
}

// Update applies a partial metadata update to a video. Nil fields are left
// untouched via COALESCE.
func (r *VideoRepository) Update(ctx context.Context, videoID string, upd MetadataUpdate) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE videos SET
			duration   = COALESCE($1, duration),
			width      = COALESCE($2, width),
			height     = COALESCE($3, height),
			bitrate    = COALESCE($4, bitrate),
			codec      = COALESCE($5, codec),
			frame_rate = COALESCE($6, frame_rate),
			updated_at = $7
		WHERE video_id = $8
	`, upd.Duration, upd.Width, upd.Height, upd.Bitrate, upd.Codec, upd.FrameRate, time.Now().UTC(), videoID)
	if err != nil {
		return fmt.Errorf("update video %s: %w", videoID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update video %s: %w", videoID, ErrNotFound)
	}
	return nil
}

// UpdateStatus moves a video to the given status, recording or clearing the
// processing error. Transitions outside the state machine are rejected with
// model.ErrIllegalTransition.
func (r *VideoRepository) UpdateStatus(ctx context.Context, videoID string, status model.ProcessingStatus, errMsg *string) error {
	cur, err := r.FindByVideoID(ctx, videoID)
	if err != nil {
		return err
	}
	if !cur.Status.CanTransition(status) {
		return fmt.Errorf("video %s: %s -> %s: %w", videoID, cur.Status, status, model.ErrIllegalTransition)
	}
	// Conditioning on the previously read status makes the write a no-op if
	// another writer raced us past the transition.
	tag, err := r.pool.Exec(ctx, `
		UPDATE videos SET processing_status=$1, processing_error=$2, updated_at=$3
		WHERE video_id=$4 AND processing_status=$5
	`, status, errMsg, time.Now().UTC(), videoID, cur.Status)
	if err != nil {
		return fmt.Errorf("update status %s: %w", videoID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("video %s: concurrent status change: %w", videoID, model.ErrIllegalTransition)
	}
	return nil
}

// ClaimForProcessing atomically flips UPLOADED -> PROCESSING. It is the
// per-video lease that keeps two overlapping worker runs from processing the
// same video; losing the race yields ErrAlreadyClaimed.
func (r *VideoRepository) ClaimForProcessing(ctx context.Context, videoID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE videos SET processing_status=$1, processing_error=NULL, updated_at=$2
		WHERE video_id=$3 AND processing_status=$4
	`, model.StatusProcessing, time.Now().UTC(), videoID, model.StatusUploaded)
	if err != nil {
		return fmt.Errorf("claim video %s: %w", videoID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByVideoID(ctx, videoID); err != nil {
			return err
		}
		return fmt.Errorf("video %s: %w", videoID, ErrAlreadyClaimed)
	}
	return nil
}

// UpdateHLS records both HLS output paths and flips the video to READY in a
// single statement, so the "READY implies both paths set" invariant can never
// be observed broken.
func (r *VideoRepository) UpdateHLS(ctx context.Context, videoID, playlistPath, segmentsPath string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE videos SET
			hls_playlist_path=$1, hls_segments_path=$2,
			processing_status=$3, processing_error=NULL, updated_at=$4
		WHERE video_id=$5 AND processing_status=$6
	`, playlistPath, segmentsPath, model.StatusReady, time.Now().UTC(), videoID, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("update hls %s: %w", videoID, err)
	}
	if tag.RowsAffected() == 0 {
		cur, err := r.FindByVideoID(ctx, videoID)
		if err != nil {
			return err
		}
		return fmt.Errorf("video %s: %s -> %s: %w", videoID, cur.Status, model.StatusReady, model.ErrIllegalTransition)
	}
	return nil
}

// UpdateThumbnail records the storage path of the generated still frame.
func (r *VideoRepository) UpdateThumbnail(ctx context.Context, videoID, thumbnailPath string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE videos SET thumbnail_path=$1, updated_at=$2 WHERE video_id=$3
	`, thumbnailPath, time.Now().UTC(), videoID)
	if err != nil {
		return fmt.Errorf("update thumbnail %s: %w", videoID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update thumbnail %s: %w", videoID, ErrNotFound)
	}
	return nil
}

// AttachToLesson links a video to exactly one lesson. The pipeline only ever
// writes this association.
func (r *VideoRepository) AttachToLesson(ctx context.Context, videoID, lessonID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE videos SET lesson_id=$1, updated_at=$2 WHERE video_id=$3
	`, lessonID, time.Now().UTC(), videoID)
	if err != nil {
		return fmt.Errorf("attach video %s to lesson: %w", videoID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attach video %s to lesson: %w", videoID, ErrNotFound)
	}
	return nil
}

// FindByVideoID returns a video by its external identifier.
func (r *VideoRepository) FindByVideoID(ctx context.Context, videoID string) (*model.Video, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE video_id=$1`, videoID)
	return scanVideo(row, videoID)
}

// FindByID returns a video by its internal identifier.
func (r *VideoRepository) FindByID(ctx context.Context, id int64) (*model.Video, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id=$1`, id)
	return scanVideo(row, fmt.Sprintf("#%d", id))
}

// FindByLessonID returns the video attached to a lesson.
func (r *VideoRepository) FindByLessonID(ctx context.Context, lessonID string) (*model.Video, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE lesson_id=$1`, lessonID)
	return scanVideo(row, "lesson "+lessonID)
}

// FindReadyForProcessing returns up to limit UPLOADED videos, oldest first.
func (r *VideoRepository) FindReadyForProcessing(ctx context.Context, limit int) ([]model.Video, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+videoColumns+` FROM videos
		WHERE processing_status=$1
		ORDER BY created_at ASC
		LIMIT $2
	`, model.StatusUploaded, limit)
	if err != nil {
		return nil, fmt.Errorf("query ready videos: %w", err)
	}
	defer rows.Close()
	var out []model.Video
	for rows.Next() {
		v, err := scanVideo(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ready videos: %w", err)
	}
	return out, nil
}

// CountsByStatus returns the number of videos per processing status.
func (r *VideoRepository) CountsByStatus(ctx context.Context) (map[model.ProcessingStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT processing_status, COUNT(*) FROM videos GROUP BY processing_status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	counts := make(map[model.ProcessingStatus]int)
	for rows.Next() {
		var status model.ProcessingStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// Stats aggregates counts and stored bytes for operational dashboards.
type Stats struct {
	Total      int                            `json:"total"`
	TotalBytes int64                          `json:"totalBytes"`
	ByStatus   map[model.ProcessingStatus]int `json:"byStatus"`
}

// VideoStats returns aggregate counts and sizes across all videos.
func (r *VideoRepository) VideoStats(ctx context.Context) (*Stats, error) {
	counts, err := r.CountsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{ByStatus: counts}
	row := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(file_size),0) FROM videos`)
	if err := row.Scan(&stats.Total, &stats.TotalBytes); err != nil {
		return nil, fmt.Errorf("aggregate video stats: %w", err)
	}
	return stats, nil
}

// Delete removes the repository row and returns the deleted record so the
// caller can schedule best-effort removal of its storage objects.
func (r *VideoRepository) Delete(ctx context.Context, videoID string) (*model.Video, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM videos WHERE video_id=$1 RETURNING `+videoColumns, videoID)
	return scanVideo(row, videoID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner, ref string) (*model.Video, error) {
	var v model.Video
	err := row.Scan(
		&v.ID, &v.VideoID, &v.OriginalPath, &v.FileSize, &v.FileFormat,
		&v.Duration, &v.Width, &v.Height, &v.Bitrate, &v.Codec, &v.FrameRate,
		&v.ThumbnailPath, &v.HLSPlaylistPath, &v.HLSSegmentsPath,
		&v.Status, &v.ProcessingError, &v.LessonID, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if ref != "" {
				return nil, fmt.Errorf("video %s: %w", ref, ErrNotFound)
			}
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan video: %w", err)
	}
	return &v, nil
}
