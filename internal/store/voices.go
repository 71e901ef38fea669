package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

const voiceColumns = "id, name, voice_id, project, source, created_by, created_at"

type voiceRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	VoiceID   string    `db:"voice_id"`
	Project   string    `db:"project"`
	Source    string    `db:"source"`
	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
}

func (r voiceRow) toDomain() domain.VoiceProfile {
	return domain.VoiceProfile{
		ID:        r.ID,
		Name:      r.Name,
		VoiceID:   r.VoiceID,
		Project:   r.Project,
		Source:    r.Source,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// UpsertVoiceProfile writes a profile, replacing the voice mapping of an existing id
func (s *Store) UpsertVoiceProfile(ctx context.Context, p *domain.VoiceProfile) error {
	if p.ID == "" {
		return domain.InvalidInput("voice profile id is required")
	}
	if p.Source == "" {
		p.Source = "elevenlabs"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO voice_profiles (`+voiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			voice_id = excluded.voice_id,
			project = excluded.project,
			source = excluded.source
	`), p.ID, p.Name, p.VoiceID, p.Project, p.Source, p.CreatedBy, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save voice profile: %w", err)
	}
	return nil
}

// GetVoiceProfile retrieves a profile by id
func (s *Store) GetVoiceProfile(ctx context.Context, id string) (*domain.VoiceProfile, error) {
	var row voiceRow
	err := s.db.GetContext(ctx, &row, s.q("SELECT "+voiceColumns+" FROM voice_profiles WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get voice profile: %w", err)
	}
	p := row.toDomain()
	return &p, nil
}

// ListVoiceProfiles returns stored profiles, newest first
func (s *Store) ListVoiceProfiles(ctx context.Context, limit int) ([]domain.VoiceProfile, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []voiceRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT `+voiceColumns+` FROM voice_profiles
		ORDER BY created_at DESC, id ASC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list voice profiles: %w", err)
	}
	profiles := make([]domain.VoiceProfile, 0, len(rows))
	for _, r := range rows {
		profiles = append(profiles, r.toDomain())
	}
	return profiles, nil
}
