package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/config"
	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
)

type UpdateTenantRequest struct {
	Name *string `json:"name" validate:"omitempty,min=2,max=100"`
	Tier *string `json:"tier" validate:"omitempty,oneof=free basic professional enterprise"`
}

type CreateInvitationRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=admin developer viewer"`
}

// InvitationWithToken carries the raw invitation token alongside the stored
// record. The token appears here once and is never retrievable again.
type InvitationWithToken struct {
	*domain.Invitation
	Token string `json:"token"`
}

// TenantService manages the calling tenant's own record and its invitations.
type TenantService struct {
	tenants     repository.TenantRepository
	users       repository.UserRepository
	invitations repository.InvitationRepository
	audit       repository.AuditRepository
	guard       *Guard
	authCfg     config.AuthConfig
	tiers       map[domain.SubscriptionTier]domain.TierLimits

	now func() time.Time
}

func NewTenantService(
	tenants repository.TenantRepository,
	users repository.UserRepository,
	invitations repository.InvitationRepository,
	audit repository.AuditRepository,
	guard *Guard,
	authCfg config.AuthConfig,
	tiers map[domain.SubscriptionTier]domain.TierLimits,
) *TenantService {
	return &TenantService{
		tenants:     tenants,
		users:       users,
		invitations: invitations,
		audit:       audit,
		guard:       guard,
		authCfg:     authCfg,
		tiers:       tiers,
		now:         time.Now,
	}
}

// Get returns the calling user's own tenant. Any member may read it.
func (s *TenantService) Get(ctx context.Context, tc domain.TenantContext) (*domain.Tenant, error) {
	return s.tenants.GetByID(ctx, tc.TenantID)
}

// Update changes the tenant's name or tier. A tier change re-snapshots the
// tenant's limits from the tier table.
func (s *TenantService) Update(ctx context.Context, tc domain.TenantContext, req *UpdateTenantRequest) (*domain.Tenant, error) {
	if err := s.guard.Check(ctx, tc, domain.CapManageTenant, tc.TenantID); err != nil {
		return nil, err
	}

	tenant, err := s.tenants.GetByID(ctx, tc.TenantID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.Tier != nil {
		tier := domain.SubscriptionTier(*req.Tier)
		if !domain.ValidTier(tier) {
			return nil, fmt.Errorf("unknown subscription tier %q", *req.Tier)
		}
		limits, ok := s.tiers[tier]
		if !ok {
			limits = domain.DefaultTierLimits[tier]
		}
		tenant.Tier = tier
		tenant.MaxAgents = limits.MaxAgents
		tenant.MaxTasksPerHour = limits.MaxTasksPerHour
	}
	tenant.UpdatedAt = s.now()

	if err := s.tenants.Update(ctx, tenant); err != nil {
		return nil, err
	}

	appendAudit(ctx, s.audit, tc.TenantID, tc.UserID,
		"tenant.update", "tenant", tenant.ID.String(), domain.AuditAllowed, string(tenant.Tier))

	return tenant, nil
}

// Deactivate soft-deletes the tenant. Logins stop immediately; data stays.
func (s *TenantService) Deactivate(ctx context.Context, tc domain.TenantContext) error {
	if err := s.guard.Check(ctx, tc, domain.CapManageTenant, tc.TenantID); err != nil {
		return err
	}

	if err := s.tenants.Deactivate(ctx, tc.TenantID); err != nil {
		return err
	}

	appendAudit(ctx, s.audit, tc.TenantID, tc.UserID,
		"tenant.deactivate", "tenant", tc.TenantID.String(), domain.AuditAllowed, "")

	return nil
}

// CreateInvitation mints a single-use invitation token for an email address.
// Owners can only be created through tenant registration, so the invited role
// is restricted to admin, developer or viewer.
func (s *TenantService) CreateInvitation(ctx context.Context, tc domain.TenantContext, req *CreateInvitationRequest) (*InvitationWithToken, error) {
	if err := s.guard.Check(ctx, tc, domain.CapInviteUsers, tc.TenantID); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := s.users.GetByEmail(ctx, tc.TenantID, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	token, tokenHash, err := NewInvitationToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	inv := &domain.Invitation{
		ID:        uuid.New(),
		TenantID:  tc.TenantID,
		Email:     email,
		TokenHash: tokenHash,
		Role:      domain.Role(req.Role),
		CreatedBy: tc.UserID,
		ExpiresAt: now.Add(s.authCfg.InvitationTTL),
		CreatedAt: now,
	}

	if err := s.invitations.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	appendAudit(ctx, s.audit, tc.TenantID, tc.UserID,
		"invitation.create", "invitation", inv.ID.String(), domain.AuditAllowed, email)

	return &InvitationWithToken{Invitation: inv, Token: token}, nil
}

func (s *TenantService) ListInvitations(ctx context.Context, tc domain.TenantContext, limit, offset int) ([]*domain.Invitation, error) {
	if err := s.guard.Check(ctx, tc, domain.CapInviteUsers, tc.TenantID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	return s.invitations.List(ctx, tc.TenantID, limit, offset)
}

// RevokeInvitation deletes an unconsumed invitation so its token can no
// longer be accepted.
func (s *TenantService) RevokeInvitation(ctx context.Context, tc domain.TenantContext, id uuid.UUID) error {
	if err := s.guard.Check(ctx, tc, domain.CapInviteUsers, tc.TenantID); err != nil {
		return err
	}

	if err := s.invitations.Delete(ctx, tc.TenantID, id); err != nil {
		return err
	}

	appendAudit(ctx, s.audit, tc.TenantID, tc.UserID,
		"invitation.revoke", "invitation", id.String(), domain.AuditAllowed, "")

	return nil
}
