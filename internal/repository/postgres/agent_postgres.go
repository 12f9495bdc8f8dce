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

type agentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository creates a new PostgreSQL agent repository
func NewAgentRepository(db *sqlx.DB) repository.AgentRepository {
	return &agentRepository{db: db}
}

const agentColumns = `id, tenant_id, name, type, status, config, created_at, updated_at`

func (r *agentRepository) Create(ctx context.Context, agent *domain.Agent) error {
	query := `
		INSERT INTO agents (
			id, tenant_id, name, type, status, config, created_at, updated_at
		) VALUES (
			:id, :tenant_id, :name, :type, :status, :config, :created_at, :updated_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, agent)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("agent name %q: %w", agent.Name, repository.ErrDuplicate)
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}

	return nil
}

func (r *agentRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Agent, error) {
	query := `
		SELECT ` + agentColumns + `
		FROM agents
		WHERE id = $1 AND tenant_id = $2`

	var agent domain.Agent
	err := r.db.GetContext(ctx, &agent, query, id, tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get agent by id: %w", err)
	}

	return &agent, nil
}

func (r *agentRepository) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.Agent, error) {
	query := `
		SELECT ` + agentColumns + `
		FROM agents
		WHERE tenant_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`

	var agents []*domain.Agent
	err := r.db.SelectContext(ctx, &agents, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	return agents, nil
}

func (r *agentRepository) CountByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM agents WHERE tenant_id = $1`

	var count int
	err := r.db.GetContext(ctx, &count, query, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to count agents: %w", err)
	}

	return count, nil
}

func (r *agentRepository) Update(ctx context.Context, agent *domain.Agent) error {
	agent.UpdatedAt = time.Now()

	query := `
		UPDATE agents
		SET name = :name,
			type = :type,
			status = :status,
			config = :config,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`

	result, err := r.db.NamedExecContext(ctx, query, agent)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("agent name %q: %w", agent.Name, repository.ErrDuplicate)
		}
		return fmt.Errorf("failed to update agent: %w", err)
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

func (r *agentRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `DELETE FROM agents WHERE id = $1 AND tenant_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
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
