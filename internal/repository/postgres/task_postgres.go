package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
)

type taskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new PostgreSQL task repository
func NewTaskRepository(db *sqlx.DB) repository.TaskRepository {
	return &taskRepository{db: db}
}

const taskColumns = `id, tenant_id, agent_id, type, priority, input, output, status,
	   retry_count, max_retries, timeout_seconds, last_error, ready_at,
	   lease_expires_at, created_by, created_at, started_at, completed_at, updated_at`

func (r *taskRepository) Create(ctx context.Context, task *domain.Task) error {
	query := `
		INSERT INTO tasks (
			id, tenant_id, agent_id, type, priority, input, output, status,
			retry_count, max_retries, timeout_seconds, last_error, ready_at,
			lease_expires_at, created_by, created_at, started_at, completed_at, updated_at
		) VALUES (
			:id, :tenant_id, :agent_id, :type, :priority, :input, :output, :status,
			:retry_count, :max_retries, :timeout_seconds, :last_error, :ready_at,
			:lease_expires_at, :created_by, :created_at, :started_at, :completed_at, :updated_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, task)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

func (r *taskRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE id = $1 AND tenant_id = $2`

	var task domain.Task
	err := r.db.GetContext(ctx, &task, query, id, tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task by id: %w", err)
	}

	return &task, nil
}

func (r *taskRepository) List(ctx context.Context, tenantID uuid.UUID, filter repository.TaskFilter) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE tenant_id = $1`
	args := []interface{}{tenantID}

	if filter.AgentID != nil {
		args = append(args, *filter.AgentID)
		query += ` AND agent_id = $` + strconv.Itoa(len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	var tasks []*domain.Task
	err := r.db.SelectContext(ctx, &tasks, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	return tasks, nil
}

// ClaimByID races against other claimers through the status condition: only
// one UPDATE can move the row out of pending.
func (r *taskRepository) ClaimByID(ctx context.Context, tenantID, id uuid.UUID, now time.Time) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'running',
			started_at = $1,
			lease_expires_at = $1 + (timeout_seconds * interval '1 second'),
			updated_at = $1
		WHERE id = $2 AND tenant_id = $3 AND status = 'pending'
		RETURNING ` + taskColumns

	var task domain.Task
	err := r.db.GetContext(ctx, &task, query, now, id, tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNoTransition
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	return &task, nil
}

// ClaimNext uses FOR UPDATE SKIP LOCKED so concurrent workers never block on
// or double-claim the same row.
func (r *taskRepository) ClaimNext(ctx context.Context, now time.Time) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'running',
			started_at = $1,
			lease_expires_at = $1 + (timeout_seconds * interval '1 second'),
			updated_at = $1
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'pending' AND ready_at <= $1
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	var task domain.Task
	err := r.db.GetContext(ctx, &task, query, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to claim next task: %w", err)
	}

	return &task, nil
}

func (r *taskRepository) Complete(ctx context.Context, id uuid.UUID, output []byte, completedAt time.Time) error {
	query := `
		UPDATE tasks
		SET status = 'completed',
			output = $1,
			lease_expires_at = NULL,
			completed_at = $2,
			updated_at = $2
		WHERE id = $3 AND status = 'running'`

	return r.transition(ctx, query, output, completedAt, id)
}

func (r *taskRepository) Requeue(ctx context.Context, id uuid.UUID, retryCount int, readyAt time.Time, cause string, output []byte) error {
	query := `
		UPDATE tasks
		SET status = 'pending',
			retry_count = $1,
			ready_at = $2,
			last_error = $3,
			output = COALESCE($4, output),
			lease_expires_at = NULL,
			started_at = NULL,
			updated_at = $5
		WHERE id = $6 AND status = 'running' AND retry_count < max_retries`

	return r.transition(ctx, query, retryCount, readyAt, cause, output, time.Now(), id)
}

func (r *taskRepository) FailTerminal(ctx context.Context, id uuid.UUID, cause string, output []byte, completedAt time.Time) error {
	query := `
		UPDATE tasks
		SET status = 'failed',
			last_error = $1,
			output = COALESCE($2, output),
			lease_expires_at = NULL,
			completed_at = $3,
			updated_at = $3
		WHERE id = $4 AND status = 'running'`

	return r.transition(ctx, query, cause, output, completedAt, id)
}

func (r *taskRepository) Cancel(ctx context.Context, tenantID, id uuid.UUID, cancelledAt time.Time) error {
	query := `
		UPDATE tasks
		SET status = 'cancelled',
			lease_expires_at = NULL,
			completed_at = $1,
			updated_at = $1
		WHERE id = $2 AND tenant_id = $3 AND status IN ('pending', 'running')`

	return r.transition(ctx, query, cancelledAt, id, tenantID)
}

func (r *taskRepository) Defer(ctx context.Context, id uuid.UUID, readyAt time.Time) error {
	query := `
		UPDATE tasks
		SET ready_at = $1,
			updated_at = $2
		WHERE id = $3 AND status = 'pending'`

	return r.transition(ctx, query, readyAt, time.Now(), id)
}

func (r *taskRepository) Release(ctx context.Context, id uuid.UUID, readyAt time.Time) error {
	query := `
		UPDATE tasks
		SET status = 'pending',
			ready_at = $1,
			lease_expires_at = NULL,
			started_at = NULL,
			updated_at = $2
		WHERE id = $3 AND status = 'running'`

	return r.transition(ctx, query, readyAt, time.Now(), id)
}

func (r *taskRepository) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at <= $1
		ORDER BY lease_expires_at ASC
		LIMIT $2`

	var tasks []*domain.Task
	err := r.db.SelectContext(ctx, &tasks, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired leases: %w", err)
	}

	return tasks, nil
}

// transition runs a conditional status update and maps "no rows" to
// ErrNoTransition.
func (r *taskRepository) transition(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition task: %w", err)
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
