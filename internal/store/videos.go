package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

const videoColumns = `id, source, title, thumbnail_url, duration_sec, status, langs,
	last_job_id, publish, created_by, created_at, updated_at`

type videoRow struct {
	ID           string    `db:"id"`
	Source       string    `db:"source"`
	Title        string    `db:"title"`
	ThumbnailURL string    `db:"thumbnail_url"`
	DurationSec  int       `db:"duration_sec"`
	Status       string    `db:"status"`
	Langs        string    `db:"langs"`
	LastJobID    string    `db:"last_job_id"`
	Publish      string    `db:"publish"`
	CreatedBy    string    `db:"created_by"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r *videoRow) toDomain() (*domain.Video, error) {
	v := &domain.Video{
		ID:           r.ID,
		Source:       r.Source,
		Title:        r.Title,
		ThumbnailURL: r.ThumbnailURL,
		DurationSec:  r.DurationSec,
		Status:       domain.VideoStatus(r.Status),
		LastJobID:    r.LastJobID,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if err := unmarshalJSON(r.Langs, &v.Langs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(r.Publish, &v.Publish); err != nil {
		return nil, err
	}
	return v, nil
}

// CreateVideoIfMissing inserts v unless a video with the same id exists.
// It reports whether a row was created.
func (s *Store) CreateVideoIfMissing(ctx context.Context, v *domain.Video) (bool, error) {
	return s.insertVideo(ctx, s.db, v)
}

func (s *Store) insertVideo(ctx context.Context, ex sqlx.ExecerContext, v *domain.Video) (bool, error) {
	now := s.now()
	if v.Source == "" {
		v.Source = "youtube"
	}
	if v.Status == "" {
		v.Status = domain.VideoStatusProcessing
	}
	if v.Langs == nil {
		v.Langs = domain.InitialLangs()
	}
	v.CreatedAt = now
	v.UpdatedAt = now

	langs, err := marshalJSON(v.Langs)
	if err != nil {
		return false, err
	}
	publish := "{}"
	if v.Publish != nil {
		if publish, err = marshalJSON(v.Publish); err != nil {
			return false, err
		}
	}

	res, err := ex.ExecContext(ctx, s.q(`
		INSERT INTO videos (
			id, source, title, thumbnail_url, duration_sec, status, langs,
			last_job_id, publish, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), v.ID, v.Source, v.Title, v.ThumbnailURL, v.DurationSec, string(v.Status), langs,
		v.LastJobID, publish, v.CreatedBy, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to create video: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if n > 0 {
		s.logger.Info("Video created",
			slog.String("video_id", v.ID),
		)
	}
	return n > 0, nil
}

// GetVideo retrieves a video by id
func (s *Store) GetVideo(ctx context.Context, id string) (*domain.Video, error) {
	var row videoRow
	err := s.db.GetContext(ctx, &row, s.q("SELECT "+videoColumns+" FROM videos WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrVideoNotFound
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return row.toDomain()
}

// ListVideos returns the most recently updated videos
func (s *Store) ListVideos(ctx context.Context, limit int) ([]domain.Video, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []videoRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+videoColumns+` FROM videos
		ORDER BY updated_at DESC, id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	videos := make([]domain.Video, 0, len(rows))
	for i := range rows {
		v, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		videos = append(videos, *v)
	}
	return videos, nil
}

func (s *Store) updateVideo(ctx context.Context, id, sets string, args ...any) error {
	args = append(args, s.now(), id)
	res, err := s.db.ExecContext(ctx, s.q("UPDATE videos SET "+sets+", updated_at = ? WHERE id = ?"), args...)
	if err != nil {
		return fmt.Errorf("failed to update video: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrVideoNotFound
	}
	return nil
}

// SetVideoLastJob records the job most recently started for a video
func (s *Store) SetVideoLastJob(ctx context.Context, id, jobID string) error {
	return s.updateVideo(ctx, id, "last_job_id = ?", jobID)
}

// SetVideoStatus moves a video between processing and ready
func (s *Store) SetVideoStatus(ctx context.Context, id string, status domain.VideoStatus) error {
	return s.updateVideo(ctx, id, "status = ?", string(status))
}

// SetVideoMetadata stores what the platform reported about a video
func (s *Store) SetVideoMetadata(ctx context.Context, id string, meta domain.VideoMetadata) error {
	return s.updateVideo(ctx, id, "title = ?, thumbnail_url = ?, duration_sec = ?",
		meta.Title, meta.ThumbnailURL, meta.DurationSec)
}

// SetVideoPublish replaces the publish record of a video
func (s *Store) SetVideoPublish(ctx context.Context, id string, publish map[string]any) error {
	doc, err := marshalJSON(publish)
	if err != nil {
		return err
	}
	return s.updateVideo(ctx, id, "publish = ?", doc)
}

// MarkVideoLang sets langs[lang] without touching the other languages
func (s *Store) MarkVideoLang(ctx context.Context, id, lang string, ready bool) error {
	if s.isSQLite() {
		flag := "false"
		if ready {
			flag = "true"
		}
		return s.updateVideo(ctx, id, "langs = json_set(langs, '$.' || ?, json(?))", lang, flag)
	}
	return s.updateVideo(ctx, id, "langs = (langs::jsonb || jsonb_build_object(?::text, ?::boolean))::text", lang, ready)
}
