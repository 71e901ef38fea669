package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

type channelRow struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Subscribers int64     `db:"subscribers"`
	Views       int64     `db:"views"`
	Videos      int64     `db:"videos"`
	CreatedBy   string    `db:"created_by"`
	CreatedAt   time.Time `db:"created_at"`
}

// UpsertChannel stores a tracked channel, refreshing title and counters when it exists
func (s *Store) UpsertChannel(ctx context.Context, c *domain.Channel) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO channels (id, title, subscribers, views, videos, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			subscribers = excluded.subscribers,
			views = excluded.views,
			videos = excluded.videos
	`), c.ID, c.Title, int64(c.Stats.Subscribers), int64(c.Stats.Views), int64(c.Stats.Videos),
		c.CreatedBy, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert channel: %w", err)
	}
	return nil
}

// ListChannels returns the newest tracked channels first
func (s *Store) ListChannels(ctx context.Context, limit int) ([]domain.Channel, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []channelRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT id, title, subscribers, views, videos, created_by, created_at
		FROM channels
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	channels := make([]domain.Channel, 0, len(rows))
	for _, r := range rows {
		channels = append(channels, domain.Channel{
			ID:    r.ID,
			Title: r.Title,
			Stats: domain.ChannelStats{
				Subscribers: uint64(r.Subscribers),
				Views:       uint64(r.Views),
				Videos:      uint64(r.Videos),
			},
			CreatedBy: r.CreatedBy,
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return channels, nil
}
