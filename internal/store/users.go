package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

type userRow struct {
	UID              string       `db:"uid"`
	Email            string       `db:"email"`
	Roles            string       `db:"roles"`
	TokensValidAfter sql.NullTime `db:"tokens_valid_after"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

func (r *userRow) toDomain() (*domain.User, error) {
	u := &domain.User{
		UID:       r.UID,
		Email:     r.Email,
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.TokensValidAfter.Valid {
		u.TokensValidAfter = r.TokensValidAfter.Time.UTC()
	}
	if err := unmarshalJSON(r.Roles, &u.Roles); err != nil {
		return nil, err
	}
	if u.Roles == nil {
		u.Roles = []string{}
	}
	return u, nil
}

// GetUser returns the stored user; an unknown uid yields a user with no roles
func (s *Store) GetUser(ctx context.Context, uid string) (*domain.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT uid, email, roles, tokens_valid_after, updated_at FROM users WHERE uid = ?
	`), uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.User{UID: uid, Roles: []string{}}, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return row.toDomain()
}

// ListUsers returns every user with stored roles
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT uid, email, roles, tokens_valid_after, updated_at FROM users ORDER BY uid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]domain.User, 0, len(rows))
	for i := range rows {
		u, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

// SetUserRoles replaces the role labels of uid
func (s *Store) SetUserRoles(ctx context.Context, uid string, roles []string) error {
	if roles == nil {
		roles = []string{}
	}
	doc, err := marshalJSON(roles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (uid, roles, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET roles = excluded.roles, updated_at = excluded.updated_at
	`), uid, doc, s.now())
	if err != nil {
		return fmt.Errorf("failed to set user roles: %w", err)
	}
	return nil
}

// RevokeSessions invalidates every token of uid issued at or before at
func (s *Store) RevokeSessions(ctx context.Context, uid string, at time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO users (uid, tokens_valid_after, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			tokens_valid_after = excluded.tokens_valid_after,
			updated_at = excluded.updated_at
	`), uid, at.UTC(), s.now()); err != nil {
		return fmt.Errorf("failed to record revocation: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.q("DELETE FROM sessions WHERE uid = ?"), uid)
	if err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit revocation: %w", err)
	}

	s.logger.Info("Sessions revoked",
		slog.String("uid", uid),
		slog.Int64("sessions", n),
	)
	return nil
}

// CreateSession stores an issued token by its hash
func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO sessions (token_hash, uid, email, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`), sess.TokenHash, sess.UID, sess.Email, sess.IssuedAt.UTC(), sess.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession looks up a session by token hash
func (s *Store) GetSession(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var row struct {
		TokenHash string    `db:"token_hash"`
		UID       string    `db:"uid"`
		Email     string    `db:"email"`
		IssuedAt  time.Time `db:"issued_at"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT token_hash, uid, email, issued_at, expires_at FROM sessions WHERE token_hash = ?
	`), tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &domain.Session{
		TokenHash: row.TokenHash,
		UID:       row.UID,
		Email:     row.Email,
		IssuedAt:  row.IssuedAt.UTC(),
		ExpiresAt: row.ExpiresAt.UTC(),
	}, nil
}

// DeleteExpiredSessions removes sessions that expired before now and returns how many
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q("DELETE FROM sessions WHERE expires_at <= ?"), s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return rowsAffected(res)
}
