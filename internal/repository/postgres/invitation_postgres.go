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

type invitationRepository struct {
	db *sqlx.DB
}

// NewInvitationRepository creates a new PostgreSQL invitation repository
func NewInvitationRepository(db *sqlx.DB) repository.InvitationRepository {
	return &invitationRepository{db: db}
}

const invitationColumns = `id, tenant_id, email, token_hash, role, created_by,
	   expires_at, consumed_at, created_at`

func (r *invitationRepository) Create(ctx context.Context, inv *domain.Invitation) error {
	query := `
		INSERT INTO invitations (
			id, tenant_id, email, token_hash, role, created_by,
			expires_at, consumed_at, created_at
		) VALUES (
			:id, :tenant_id, :email, :token_hash, :role, :created_by,
			:expires_at, :consumed_at, :created_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, inv)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}

	return nil
}

func (r *invitationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE token_hash = $1`

	var inv domain.Invitation
	err := r.db.GetContext(ctx, &inv, query, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invitation by token: %w", err)
	}

	return &inv, nil
}

func (r *invitationRepository) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	var invs []*domain.Invitation
	err := r.db.SelectContext(ctx, &invs, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}

	return invs, nil
}

// Consume marks the invitation used; the consumed_at IS NULL condition makes
// the consumption single-use under concurrent acceptance.
func (r *invitationRepository) Consume(ctx context.Context, id uuid.UUID, consumedAt time.Time) error {
	query := `
		UPDATE invitations
		SET consumed_at = $1
		WHERE id = $2 AND consumed_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, consumedAt, id)
	if err != nil {
		return fmt.Errorf("failed to consume invitation: %w", err)
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

func (r *invitationRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `DELETE FROM invitations WHERE id = $1 AND tenant_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete invitation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return repository.ErrNotFound
	}

	return nil
}
