package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
)

type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error)

	// Rotate swaps the session's rotation id. Conditional on the current
	// rotation id, so a replayed refresh token cannot rotate the family.
	Rotate(ctx context.Context, id, currentRotationID, newRotationID uuid.UUID) error

	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}
