package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// UserStore is the persistence the auth package needs
type UserStore interface {
	GetUser(ctx context.Context, uid string) (*domain.User, error)
	SetUserRoles(ctx context.Context, uid string, roles []string) error
	RevokeSessions(ctx context.Context, uid string, at time.Time) error
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, tokenHash string) (*domain.Session, error)
}

// VerifierConfig configures a SessionVerifier
type VerifierConfig struct {
	SessionTTL        time.Duration
	DevBootstrapRoles bool
}

// SessionVerifier turns bearer tokens into identities
type SessionVerifier struct {
	store  UserStore
	cache  *ClaimCache
	logger *slog.Logger
	config VerifierConfig
	now    func() time.Time
}

// NewSessionVerifier creates a verifier backed by store and cache
func NewSessionVerifier(store UserStore, cache *ClaimCache, cfg VerifierConfig, logger *slog.Logger) *SessionVerifier {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &SessionVerifier{
		store:  store,
		cache:  cache,
		logger: logger,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HashToken returns the stored form of a bearer token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue creates a new session for uid and returns the raw bearer token
func (v *SessionVerifier) Issue(ctx context.Context, uid, email string) (string, error) {
	if strings.TrimSpace(uid) == "" {
		return "", domain.InvalidInput("uid is required")
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	now := v.now()
	if err := v.store.CreateSession(ctx, &domain.Session{
		TokenHash: HashToken(token),
		UID:       uid,
		Email:     email,
		IssuedAt:  now,
		ExpiresAt: now.Add(v.config.SessionTTL),
	}); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	v.logger.Info("Session issued",
		slog.String("uid", uid),
		slog.Time("expires_at", now.Add(v.config.SessionTTL)),
	)
	return token, nil
}

// Verify resolves a bearer token to an identity with its current roles
func (v *SessionVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, domain.AuthInvalid("missing bearer token")
	}

	session, err := v.store.GetSession(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.AuthInvalid("invalid or revoked token")
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	now := v.now()
	if !now.Before(session.ExpiresAt) {
		return nil, domain.AuthInvalid("token expired")
	}

	roles, err := v.rolesFor(ctx, session)
	if err != nil {
		return nil, err
	}

	return &Identity{UID: session.UID, Email: session.Email, Roles: roles}, nil
}

func (v *SessionVerifier) rolesFor(ctx context.Context, session *domain.Session) (RoleSet, error) {
	user, err := v.store.GetUser(ctx, session.UID)
	if err != nil {
		return 0, fmt.Errorf("failed to load user: %w", err)
	}

	// tokens issued at or before the revocation instant are dead
	if !user.TokensValidAfter.IsZero() && !session.IssuedAt.After(user.TokensValidAfter) {
		v.cache.Invalidate(session.UID)
		return 0, domain.AuthInvalid("invalid or revoked token")
	}

	if roles, ok := v.cache.Get(session.UID, user.UpdatedAt); ok {
		return roles, nil
	}

	roles, err := ParseRoles(user.Roles)
	if err != nil {
		v.logger.Warn("Ignoring unknown stored roles",
			slog.String("uid", session.UID),
			slog.Any("roles", user.Roles),
		)
		roles = 0
	}

	if roles.Empty() && v.config.DevBootstrapRoles {
		roles = NewRoleSet(RoleAdmin, RoleEditor)
		if err := v.store.SetUserRoles(ctx, session.UID, roles.Strings()); err != nil {
			return 0, fmt.Errorf("failed to bootstrap roles: %w", err)
		}
		v.logger.Warn("Granted development bootstrap roles",
			slog.String("uid", session.UID),
			slog.Any("roles", roles.Strings()),
		)
	}

	v.cache.Set(session.UID, roles, user.UpdatedAt)
	return roles, nil
}
