package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
)

// appendAudit writes one audit log entry. Audit failures are logged but never
// fail the operation that produced them; the decision itself already stands.
func appendAudit(ctx context.Context, repo repository.AuditRepository, tenantID, actorID uuid.UUID,
	event, targetType, targetID string, outcome domain.AuditOutcome, detail string) {

	entry := &domain.AuditLogEntry{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ActorID:    actorID,
		Event:      event,
		TargetType: targetType,
		TargetID:   targetID,
		Outcome:    outcome,
		CreatedAt:  time.Now(),
	}
	if detail != "" {
		entry.Detail = &detail
	}

	if err := repo.Append(ctx, entry); err != nil {
		log.Printf("[AUDIT] failed to append entry %s/%s: %v", event, targetID, err)
	}
}
