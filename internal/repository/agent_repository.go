package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
)

type AgentRepository interface {
	Create(ctx context.Context, agent *domain.Agent) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Agent, error)
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.Agent, error)
	CountByTenant(ctx context.Context, tenantID uuid.UUID) (int, error)
	Update(ctx context.Context, agent *domain.Agent) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
}
