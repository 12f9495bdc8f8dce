package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
)

type sessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(db *sqlx.DB) repository.SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (
			id, user_id, tenant_id, rotation_id, expires_at, created_at, updated_at
		) VALUES (
			:id, :user_id, :tenant_id, :rotation_id, :expires_at, :created_at, :updated_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, session)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `
		SELECT id, user_id, tenant_id, rotation_id, expires_at, created_at, updated_at
		FROM sessions
		WHERE id = $1`

	var session domain.Session
	err := r.db.GetContext(ctx, &session, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &session, nil
}

// Rotate is conditional on the current rotation id: a replayed refresh token
// carries a stale id and affects zero rows.
func (r *sessionRepository) Rotate(ctx context.Context, id, currentRotationID, newRotationID uuid.UUID) error {
	query := `
		UPDATE sessions
		SET rotation_id = $1,
			updated_at = $2
		WHERE id = $3 AND rotation_id = $4`

	result, err := r.db.ExecContext(ctx, query, newRotationID, time.Now(), id, currentRotationID)
	if err != nil {
		return fmt.Errorf("failed to rotate session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return repository.ErrNoTransition
	}

	return nil
}

func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM sessions WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

func (r *sessionRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM sessions WHERE user_id = $1`

	_, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}

	return nil
}
