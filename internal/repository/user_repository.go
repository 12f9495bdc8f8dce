package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*domain.User, error)
	List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error
	IncrementFailedLogins(ctx context.Context, id uuid.UUID) (int, error)
	ResetFailedLogins(ctx context.Context, id uuid.UUID) error
}
