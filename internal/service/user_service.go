package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
	"github.com/agentplane/agentplane/pkg/hash"
)

type UpdateUserRequest struct {
	Role   *string `json:"role" validate:"omitempty,oneof=owner admin developer viewer"`
	Active *bool   `json:"active"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
}

// UserService manages the users of a tenant. Role and activation changes
// require the MANAGE_USERS capability; password changes are self-service.
type UserService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	audit    repository.AuditRepository
	revoker  FamilyRevoker
	guard    *Guard

	now func() time.Time
}

func NewUserService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	audit repository.AuditRepository,
	revoker FamilyRevoker,
	guard *Guard,
) *UserService {
	return &UserService{
		users:    users,
		sessions: sessions,
		audit:    audit,
		revoker:  revoker,
		guard:    guard,
		now:      time.Now,
	}
}

// Me returns the calling user's own record.
func (s *UserService) Me(ctx context.Context, tc domain.TenantContext) (*domain.User, error) {
	return s.users.GetByID(ctx, tc.TenantID, tc.UserID)
}

func (s *UserService) List(ctx context.Context, tc domain.TenantContext, limit, offset int) ([]*domain.User, error) {
	if err := s.guard.Check(ctx, tc, domain.CapManageUsers, tc.TenantID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	return s.users.List(ctx, tc.TenantID, limit, offset)
}

// Update changes a user's role or active flag. Users cannot change their own
// role, and deactivation revokes every outstanding session of the target.
func (s *UserService) Update(ctx context.Context, tc domain.TenantContext, id uuid.UUID, req *UpdateUserRequest) (*domain.User, error) {
	if err := s.guard.Check(ctx, tc, domain.CapManageUsers, tc.TenantID); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, tc.TenantID, id)
	if err != nil {
		return nil, err
	}

	if req.Role != nil {
		if id == tc.UserID {
			return nil, fmt.Errorf("cannot change own role: %w", ErrPermissionDenied)
		}
		user.Role = domain.Role(*req.Role)
	}

	deactivated := false
	if req.Active != nil {
		deactivated = user.Active && !*req.Active
		user.Active = *req.Active
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}

	if deactivated {
		if err := s.revokeAllSessions(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	appendAudit(ctx, s.audit, tc.TenantID, tc.UserID,
		"user.update", "user", user.ID.String(), domain.AuditAllowed, string(user.Role))

	return user, nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every session the user holds so stolen tokens stop working.
func (s *UserService) ChangePassword(ctx context.Context, tc domain.TenantContext, req *ChangePasswordRequest) error {
	user, err := s.users.GetByID(ctx, tc.TenantID, tc.UserID)
	if err != nil {
		return err
	}

	match, err := hash.Verify(req.CurrentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		return ErrInvalidCredentials
	}

	newHash, err := hash.Password(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.PasswordHash = newHash
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}

	if err := s.revokeAllSessions(ctx, user.ID); err != nil {
		return err
	}

	appendAudit(ctx, s.audit, tc.TenantID, tc.UserID,
		"user.password_change", "user", user.ID.String(), domain.AuditAllowed, "")

	return nil
}

func (s *UserService) revokeAllSessions(ctx context.Context, userID uuid.UUID) error {
	if err := s.sessions.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	if err := s.revoker.RevokeUser(ctx, userID.String(), 0); err != nil {
		return fmt.Errorf("failed to revoke user tokens: %w", err)
	}
	return nil
}
