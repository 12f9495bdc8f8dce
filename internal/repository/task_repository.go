package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
)

// TaskFilter narrows List results within a tenant.
type TaskFilter struct {
	AgentID *uuid.UUID
	Status  *domain.TaskStatus
	Limit   int
	Offset  int
}

// TaskRepository persists tasks. Reads and caller-initiated writes are
// tenant-scoped; the claim/transition methods used by the lifecycle manager
// are keyed by task id with a status condition, so that every transition is
// atomic with respect to racing workers.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*domain.Task, error)
	List(ctx context.Context, tenantID uuid.UUID, filter TaskFilter) ([]*domain.Task, error)

	// ClaimByID transitions one specific pending task to running and sets a
	// lease of the task's own timeout. Returns ErrNoTransition if the task is
	// not in a claimable state.
	ClaimByID(ctx context.Context, tenantID, id uuid.UUID, now time.Time) (*domain.Task, error)

	// ClaimNext claims the most eligible pending task across all tenants,
	// ordered by priority desc then created_at asc, setting a lease of the
	// task's own timeout. Exactly one of any number of concurrent callers
	// wins a given task. Returns ErrNotFound when nothing is eligible.
	ClaimNext(ctx context.Context, now time.Time) (*domain.Task, error)

	// Complete transitions running → completed. Conditional on the task still
	// being in running state, so a concurrent cancellation wins.
	Complete(ctx context.Context, id uuid.UUID, output []byte, completedAt time.Time) error

	// Requeue transitions running → pending for a retry, recording the
	// failure cause, the incremented retry count and the backoff-delayed
	// ready time. A non-nil output records whatever partial results the
	// failed attempt produced.
	Requeue(ctx context.Context, id uuid.UUID, retryCount int, readyAt time.Time, cause string, output []byte) error

	// FailTerminal transitions running → failed once retries are exhausted.
	// A non-nil output records the partial results of the final attempt.
	FailTerminal(ctx context.Context, id uuid.UUID, cause string, output []byte, completedAt time.Time) error

	// Cancel transitions pending|running → cancelled.
	Cancel(ctx context.Context, tenantID, id uuid.UUID, cancelledAt time.Time) error

	// Defer pushes a pending task's ready time forward without any status
	// change (quota admission control).
	Defer(ctx context.Context, id uuid.UUID, readyAt time.Time) error

	// Release returns a claimed task to pending without counting a retry,
	// used when quota admission fails after the claim.
	Release(ctx context.Context, id uuid.UUID, readyAt time.Time) error

	// ExpiredLeases returns running tasks whose lease expiry has passed.
	ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error)
}
