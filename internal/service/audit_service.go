package service

import (
	"context"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
)

// AuditService exposes the tenant's audit trail to callers holding the
// VIEW_AUDIT_LOGS capability.
type AuditService struct {
	audit repository.AuditRepository
	guard *Guard
}

func NewAuditService(audit repository.AuditRepository, guard *Guard) *AuditService {
	return &AuditService{audit: audit, guard: guard}
}

func (s *AuditService) List(ctx context.Context, tc domain.TenantContext, limit, offset int) ([]*domain.AuditLogEntry, error) {
	if err := s.guard.Check(ctx, tc, domain.CapViewAuditLogs, tc.TenantID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	return s.audit.List(ctx, tc.TenantID, limit, offset)
}
