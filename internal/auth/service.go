package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// RoleService reads and assigns roles under the admin gate
type RoleService struct {
	store  UserStore
	cache  *ClaimCache
	logger *slog.Logger
	now    func() time.Time
}

// NewRoleService creates a RoleService
func NewRoleService(store UserStore, cache *ClaimCache, logger *slog.Logger) *RoleService {
	return &RoleService{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Roles returns the stored roles of uid
func (s *RoleService) Roles(ctx context.Context, actor *Identity, uid string) (RoleSet, error) {
	if err := Authorize(actor, RequireAdmin); err != nil {
		return 0, err
	}
	return s.lookup(ctx, uid)
}

func (s *RoleService) lookup(ctx context.Context, uid string) (RoleSet, error) {
	user, err := s.store.GetUser(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("failed to load user: %w", err)
	}
	return ParseRoles(user.Roles)
}

// SetRoles replaces the roles of uid. The new set is persisted, then pushed to
// the claim cache, then existing sessions are revoked so no token keeps the old set.
func (s *RoleService) SetRoles(ctx context.Context, actor *Identity, uid string, labels []string) (RoleSet, error) {
	if err := Authorize(actor, RequireAdmin); err != nil {
		return 0, err
	}

	uid = strings.TrimSpace(uid)
	if uid == "" {
		return 0, domain.InvalidInput("uid is required")
	}

	roles, err := ParseRoles(labels)
	if err != nil {
		return 0, err
	}

	if err := s.store.SetUserRoles(ctx, uid, roles.Strings()); err != nil {
		return 0, fmt.Errorf("failed to persist roles: %w", err)
	}

	user, err := s.store.GetUser(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("failed to reload user: %w", err)
	}
	s.cache.Set(uid, roles, user.UpdatedAt)

	if err := s.store.RevokeSessions(ctx, uid, s.now()); err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.logger.Info("User roles updated",
		slog.String("actor", actor.UID),
		slog.String("uid", uid),
		slog.Any("roles", roles.Strings()),
	)
	return roles, nil
}
