package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
)

type InvitationRepository interface {
	Create(ctx context.Context, inv *domain.Invitation) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Invitation, error)
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.Invitation, error)

	// Consume marks the invitation used. Conditional on it not already being
	// consumed, so two concurrent acceptances have exactly one winner.
	Consume(ctx context.Context, id uuid.UUID, consumedAt time.Time) error

	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}
