package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
)

type TenantRepository interface {
	Create(ctx context.Context, tenant *domain.Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
	Update(ctx context.Context, tenant *domain.Tenant) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}
