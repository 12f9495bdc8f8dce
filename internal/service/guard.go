package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
)

// Guard decides whether an authenticated session may perform a capability
// against a resource. Every decision, allowed or denied, is appended to the
// audit log.
type Guard struct {
	auditRepo repository.AuditRepository
}

func NewGuard(auditRepo repository.AuditRepository) *Guard {
	return &Guard{auditRepo: auditRepo}
}

// Check allows the action iff the resource belongs to the session's tenant
// and the session's role holds the capability. Cross-tenant access is denied
// regardless of role; callers surface that denial as "not found".
func (g *Guard) Check(ctx context.Context, tc domain.TenantContext, capability domain.Capability, resourceTenantID uuid.UUID) error {
	if tc.TenantID != resourceTenantID {
		appendAudit(ctx, g.auditRepo, tc.TenantID, tc.UserID,
			string(capability), "tenant", resourceTenantID.String(), domain.AuditDenied, "tenant mismatch")
		return ErrTenantMismatch
	}

	if !tc.Role.Can(capability) {
		appendAudit(ctx, g.auditRepo, tc.TenantID, tc.UserID,
			string(capability), "tenant", resourceTenantID.String(), domain.AuditDenied, "role "+string(tc.Role))
		return ErrPermissionDenied
	}

	appendAudit(ctx, g.auditRepo, tc.TenantID, tc.UserID,
		string(capability), "tenant", resourceTenantID.String(), domain.AuditAllowed, "")
	return nil
}
