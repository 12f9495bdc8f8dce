package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/config"
	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
)

// QuotaMeter admits task executions against a tenant's sliding hourly window.
// Implemented by pkg/quota backed by Redis.
type QuotaMeter interface {
	Allow(ctx context.Context, tenantID uuid.UUID, limit int, window time.Duration) (bool, error)
}

// Dispatcher runs a claimed task and validates input payloads at creation.
// Dispatch may return partial output alongside an error; it is persisted with
// the failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *domain.Task) (json.RawMessage, error)
	ValidateInput(taskType domain.TaskType, input json.RawMessage) error
}

type CreateTaskRequest struct {
	AgentID        uuid.UUID       `json:"agent_id" validate:"required"`
	Type           string          `json:"type" validate:"required,oneof=text_processing api_call workflow"`
	Input          json.RawMessage `json:"input" validate:"required"`
	Priority       *int            `json:"priority" validate:"omitempty,gte=0,lte=10"`
	MaxRetries     *int            `json:"max_retries" validate:"omitempty,gte=0,lte=10"`
	TimeoutSeconds *int            `json:"timeout_seconds" validate:"omitempty,gte=1,lte=3600"`
}

// TaskService owns the task lifecycle: creation, the claim transitions into
// running, completion and failure reporting with retry backoff, quota
// admission and lease reaping. Every transition is a conditional repository
// update, so concurrent workers and cancellations race safely.
type TaskService struct {
	tasks      repository.TaskRepository
	agents     repository.AgentRepository
	tenants    repository.TenantRepository
	audit      repository.AuditRepository
	guard      *Guard
	quota      QuotaMeter
	dispatcher Dispatcher
	cfg        config.TaskConfig

	now      func() time.Time
	runAsync func(task *domain.Task)
}

func NewTaskService(
	tasks repository.TaskRepository,
	agents repository.AgentRepository,
	tenants repository.TenantRepository,
	audit repository.AuditRepository,
	guard *Guard,
	quota QuotaMeter,
	dispatcher Dispatcher,
	cfg config.TaskConfig,
) *TaskService {
	s := &TaskService{
		tasks:      tasks,
		agents:     agents,
		tenants:    tenants,
		audit:      audit,
		guard:      guard,
		quota:      quota,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
	}
	s.runAsync = func(task *domain.Task) {
		go s.Run(context.Background(), task)
	}
	return s
}

// Create validates and persists a new pending task owned by one of the
// tenant's agents.
func (s *TaskService) Create(ctx context.Context, tc domain.TenantContext, req *CreateTaskRequest) (*domain.Task, error) {
	if err := s.guard.Check(ctx, tc, domain.CapCreateTasks, tc.TenantID); err != nil {
		return nil, err
	}

	// The agent lookup is tenant-scoped, so a task can never reference an
	// agent outside its own tenant.
	agent, err := s.agents.GetByID(ctx, tc.TenantID, req.AgentID)
	if err != nil {
		return nil, err
	}

	taskType := domain.TaskType(req.Type)
	if !domain.ValidTaskType(taskType) {
		return nil, fmt.Errorf("unknown task type %q", req.Type)
	}
	if err := s.dispatcher.ValidateInput(taskType, req.Input); err != nil {
		return nil, err
	}

	priority := 0
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < domain.MinTaskPriority {
		priority = domain.MinTaskPriority
	}
	if priority > domain.MaxTaskPriority {
		priority = domain.MaxTaskPriority
	}

	maxRetries := domain.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	timeout := domain.DefaultTaskTimeoutSec
	if req.TimeoutSeconds != nil {
		timeout = *req.TimeoutSeconds
	}
	if timeout > domain.MaxTaskTimeoutSec {
		timeout = domain.MaxTaskTimeoutSec
	}

	now := s.now()
	task := &domain.Task{
		ID:             uuid.New(),
		TenantID:       tc.TenantID,
		AgentID:        agent.ID,
		Type:           taskType,
		Priority:       priority,
		Input:          req.Input,
		Status:         domain.TaskStatusPending,
		MaxRetries:     maxRetries,
		TimeoutSeconds: timeout,
		ReadyAt:        now,
		CreatedBy:      tc.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	appendAudit(ctx, s.audit, tc.TenantID, tc.UserID,
		"task.create", "task", task.ID.String(), domain.AuditTransition, "pending")

	return task, nil
}

func (s *TaskService) Get(ctx context.Context, tc domain.TenantContext, id uuid.UUID) (*domain.Task, error) {
	if err := s.guard.Check(ctx, tc, domain.CapViewTasks, tc.TenantID); err != nil {
		return nil, err
	}

	return s.tasks.GetByID(ctx, tc.TenantID, id)
}

func (s *TaskService) List(ctx context.Context, tc domain.TenantContext, filter repository.TaskFilter) ([]*domain.Task, error) {
	if err := s.guard.Check(ctx, tc, domain.CapViewTasks, tc.TenantID); err != nil {
		return nil, err
	}

	return s.tasks.List(ctx, tc.TenantID, filter)
}

// Execute claims one specific pending task and starts it immediately. If the
// tenant is over its hourly quota the claim is released and the task stays
// pending with its ready time pushed forward.
func (s *TaskService) Execute(ctx context.Context, tc domain.TenantContext, id uuid.UUID) (*domain.Task, error) {
	if err := s.guard.Check(ctx, tc, domain.CapExecuteTasks, tc.TenantID); err != nil {
		return nil, err
	}

	current, err := s.tasks.GetByID(ctx, tc.TenantID, id)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.TaskStatusPending {
		return nil, ErrInvalidTransition
	}

	now := s.now()
	claimed, err := s.tasks.ClaimByID(ctx, tc.TenantID, id, now)
	if err != nil {
		if errors.Is(err, repository.ErrNoTransition) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	admitted, err := s.admit(ctx, claimed)
	if err != nil {
		s.release(ctx, claimed, now)
		return nil, err
	}
	if !admitted {
		deferred, err := s.deferClaimed(ctx, tc.TenantID, claimed)
		if err != nil {
			return nil, err
		}
		return deferred, nil
	}

	appendAudit(ctx, s.audit, claimed.TenantID, tc.UserID,
		"task.execute", "task", claimed.ID.String(), domain.AuditTransition, "running")

	s.runAsync(claimed)

	return claimed, nil
}

// Cancel stops a pending or running task. A completed, failed or already
// cancelled task cannot be cancelled.
func (s *TaskService) Cancel(ctx context.Context, tc domain.TenantContext, id uuid.UUID) (*domain.Task, error) {
	if err := s.guard.Check(ctx, tc, domain.CapCancelTasks, tc.TenantID); err != nil {
		return nil, err
	}

	if _, err := s.tasks.GetByID(ctx, tc.TenantID, id); err != nil {
		return nil, err
	}

	if err := s.tasks.Cancel(ctx, tc.TenantID, id, s.now()); err != nil {
		if errors.Is(err, repository.ErrNoTransition) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	appendAudit(ctx, s.audit, tc.TenantID, tc.UserID,
		"task.cancel", "task", id.String(), domain.AuditTransition, "cancelled")

	return s.tasks.GetByID(ctx, tc.TenantID, id)
}

// ClaimNext claims the most eligible pending task across all tenants for a
// background worker. Tasks belonging to over-quota tenants are released with
// a deferred ready time and the next candidate is tried.
func (s *TaskService) ClaimNext(ctx context.Context) (*domain.Task, error) {
	for {
		now := s.now()
		task, err := s.tasks.ClaimNext(ctx, now)
		if err != nil {
			return nil, err
		}

		admitted, err := s.admit(ctx, task)
		if err != nil {
			s.release(ctx, task, now)
			return nil, err
		}
		if admitted {
			appendAudit(ctx, s.audit, task.TenantID, task.CreatedBy,
				"task.claim", "task", task.ID.String(), domain.AuditTransition, "running")
			return task, nil
		}

		if _, err := s.deferClaimed(ctx, task.TenantID, task); err != nil {
			return nil, err
		}
	}
}

// Run dispatches a claimed task under its timeout and reports the outcome.
// All outcome transitions are conditional on the task still being in running
// state, so a concurrent cancellation always wins.
func (s *TaskService) Run(ctx context.Context, task *domain.Task) {
	runCtx, cancel := context.WithTimeout(ctx, task.Timeout())
	output, err := s.dispatcher.Dispatch(runCtx, task)
	cancel()

	if err != nil {
		s.fail(ctx, task, err.Error(), output)
		return
	}

	if err := s.tasks.Complete(ctx, task.ID, output, s.now()); err != nil {
		if errors.Is(err, repository.ErrNoTransition) {
			// Cancelled or reclaimed while we were running; the result is
			// discarded.
			return
		}
		log.Printf("[TASKS] failed to complete task %s: %v", task.ID, err)
		return
	}

	appendAudit(ctx, s.audit, task.TenantID, task.CreatedBy,
		"task.complete", "task", task.ID.String(), domain.AuditTransition, "completed")
}

// ReapExpired fails every running task whose lease has lapsed, requeueing it
// if retries remain. Returns the number of tasks acted on.
func (s *TaskService) ReapExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.tasks.ExpiredLeases(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired leases: %w", err)
	}

	for _, task := range expired {
		cause := fmt.Sprintf("lease expired after %ds", task.TimeoutSeconds)
		s.fail(ctx, task, cause, nil)
	}

	return len(expired), nil
}

// admit charges one execution against the task's tenant quota.
func (s *TaskService) admit(ctx context.Context, task *domain.Task) (bool, error) {
	tenant, err := s.tenants.GetByID(ctx, task.TenantID)
	if err != nil {
		return false, fmt.Errorf("failed to load tenant for quota: %w", err)
	}

	admitted, err := s.quota.Allow(ctx, task.TenantID, tenant.MaxTasksPerHour, s.cfg.QuotaWindow)
	if err != nil {
		return false, err
	}

	return admitted, nil
}

// deferClaimed undoes a claim for an over-quota tenant. The task goes back to
// pending without a retry charge, delayed so the next poll skips it.
func (s *TaskService) deferClaimed(ctx context.Context, tenantID uuid.UUID, task *domain.Task) (*domain.Task, error) {
	readyAt := s.now().Add(s.cfg.QuotaDeferral)
	if err := s.tasks.Release(ctx, task.ID, readyAt); err != nil {
		if !errors.Is(err, repository.ErrNoTransition) {
			return nil, err
		}
	}

	appendAudit(ctx, s.audit, tenantID, task.CreatedBy,
		"task.quota_deferred", "task", task.ID.String(), domain.AuditTransition, "pending")

	return s.tasks.GetByID(ctx, tenantID, task.ID)
}

// release returns a claimed task to pending with no retry charge and no
// deferral, used when quota admission itself fails.
func (s *TaskService) release(ctx context.Context, task *domain.Task, readyAt time.Time) {
	if err := s.tasks.Release(ctx, task.ID, readyAt); err != nil && !errors.Is(err, repository.ErrNoTransition) {
		log.Printf("[TASKS] failed to release task %s: %v", task.ID, err)
	}
}

// fail routes a failed execution to a retry or a terminal failure, keeping
// whatever partial output the attempt produced. The retry delay doubles per
// attempt from the base, capped at the configured maximum.
func (s *TaskService) fail(ctx context.Context, task *domain.Task, cause string, output json.RawMessage) {
	if task.RetriesExhausted() {
		if err := s.tasks.FailTerminal(ctx, task.ID, cause, output, s.now()); err != nil {
			if !errors.Is(err, repository.ErrNoTransition) {
				log.Printf("[TASKS] failed to mark task %s failed: %v", task.ID, err)
			}
			return
		}
		appendAudit(ctx, s.audit, task.TenantID, task.CreatedBy,
			"task.fail", "task", task.ID.String(), domain.AuditTransition, "failed")
		return
	}

	delay := retryDelay(s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay, task.RetryCount)
	readyAt := s.now().Add(delay)

	if err := s.tasks.Requeue(ctx, task.ID, task.RetryCount+1, readyAt, cause, output); err != nil {
		if !errors.Is(err, repository.ErrNoTransition) {
			log.Printf("[TASKS] failed to requeue task %s: %v", task.ID, err)
		}
		return
	}

	appendAudit(ctx, s.audit, task.TenantID, task.CreatedBy,
		"task.retry", "task", task.ID.String(), domain.AuditTransition,
		fmt.Sprintf("attempt %d/%d", task.RetryCount+1, task.MaxRetries))
}

// retryDelay computes base × 2^retry, capped.
func retryDelay(base, max time.Duration, retry int) time.Duration {
	if base <= 0 {
		return 0
	}
	if retry > 30 {
		return max
	}
	delay := base << uint(retry)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}
