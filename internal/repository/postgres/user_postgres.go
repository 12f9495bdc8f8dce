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

type userRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(db *sqlx.DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, tenant_id, email, password_hash, role, active,
	   failed_logins, locked_until, created_at, updated_at, last_login_at`

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (
			id, tenant_id, email, password_hash, role, active,
			failed_logins, locked_until, created_at, updated_at, last_login_at
		) VALUES (
			:id, :tenant_id, :email, :password_hash, :role, :active,
			:failed_logins, :locked_until, :created_at, :updated_at, :last_login_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user email %q: %w", user.Email, repository.ErrDuplicate)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *userRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1 AND tenant_id = $2`

	var user domain.User
	err := r.db.GetContext(ctx, &user, query, id, tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE tenant_id = $1 AND email = $2`

	var user domain.User
	err := r.db.GetContext(ctx, &user, query, tenantID, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return &user, nil
}

func (r *userRepository) List(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE tenant_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`

	var users []*domain.User
	err := r.db.SelectContext(ctx, &users, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return users, nil
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users
		SET email = :email,
			password_hash = :password_hash,
			role = :role,
			active = :active,
			failed_logins = :failed_logins,
			locked_until = :locked_until,
			updated_at = :updated_at,
			last_login_at = :last_login_at
		WHERE id = :id AND tenant_id = :tenant_id`

	result, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
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

func (r *userRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET last_login_at = $1,
			updated_at = $1
		WHERE id = $2`

	_, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return nil
}

// IncrementFailedLogins bumps the failed login counter and returns the new
// value so the caller can decide whether to lock the account.
func (r *userRepository) IncrementFailedLogins(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE users
		SET failed_logins = failed_logins + 1,
			updated_at = $1
		WHERE id = $2
		RETURNING failed_logins`

	var count int
	err := r.db.GetContext(ctx, &count, query, time.Now(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment failed logins: %w", err)
	}

	return count, nil
}

func (r *userRepository) ResetFailedLogins(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET failed_logins = 0,
			locked_until = NULL,
			updated_at = $1
		WHERE id = $2`

	_, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to reset failed logins: %w", err)
	}

	return nil
}
