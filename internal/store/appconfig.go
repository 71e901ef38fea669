package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

const appConfigID = "app"

// GetAppConfig returns the runtime configuration, zero valued when never set
func (s *Store) GetAppConfig(ctx context.Context) (*domain.AppConfig, error) {
	var row struct {
		APIBase    string    `db:"api_base"`
		TTSEnabled bool      `db:"tts_enabled"`
		UpdatedAt  time.Time `db:"updated_at"`
	}
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT api_base, tts_enabled, updated_at FROM app_config WHERE id = ?
	`), appConfigID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.AppConfig{}, nil
		}
		return nil, fmt.Errorf("failed to get app config: %w", err)
	}
	return &domain.AppConfig{
		APIBase:    row.APIBase,
		TTSEnabled: row.TTSEnabled,
		UpdatedAt:  row.UpdatedAt.UTC(),
	}, nil
}

// UpdateAppConfig merges patch into the stored configuration and returns the result
func (s *Store) UpdateAppConfig(ctx context.Context, patch domain.AppConfigPatch) (*domain.AppConfig, error) {
	current, err := s.GetAppConfig(ctx)
	if err != nil {
		return nil, err
	}
	if patch.APIBase != nil {
		current.APIBase = *patch.APIBase
	}
	if patch.TTSEnabled != nil {
		current.TTSEnabled = *patch.TTSEnabled
	}
	current.UpdatedAt = s.now()

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO app_config (id, api_base, tts_enabled, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			api_base = excluded.api_base,
			tts_enabled = excluded.tts_enabled,
			updated_at = excluded.updated_at
	`), appConfigID, current.APIBase, current.TTSEnabled, current.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update app config: %w", err)
	}
	return current, nil
}
