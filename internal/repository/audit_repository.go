package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
)

// AuditRepository is append-only: entries are written once and never updated
// or deleted.
type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditLogEntry) error
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.AuditLogEntry, error)
}
