package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
)

type auditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new PostgreSQL audit log repository
func NewAuditRepository(db *sqlx.DB) repository.AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (
			id, tenant_id, actor_id, event, target_type, target_id,
			outcome, detail, created_at
		) VALUES (
			:id, :tenant_id, :actor_id, :event, :target_type, :target_id,
			:outcome, :detail, :created_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, entry)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

func (r *auditRepository) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.AuditLogEntry, error) {
	query := `
		SELECT id, tenant_id, actor_id, event, target_type, target_id,
			   outcome, detail, created_at
		FROM audit_log
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	var entries []*domain.AuditLogEntry
	err := r.db.SelectContext(ctx, &entries, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	return entries, nil
}
