package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskType selects the dispatcher variant that runs a task.
type TaskType string

const (
	TaskTypeTextProcessing TaskType = "text_processing"
	TaskTypeAPICall        TaskType = "api_call"
	TaskTypeWorkflow       TaskType = "workflow"
)

// ValidTaskType reports whether t is a known task type.
func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeTextProcessing, TaskTypeAPICall, TaskTypeWorkflow:
		return true
	}
	return false
}

// TaskStatus represents the lifecycle state of a task.
//
// Pending → Running → {Completed | Failed | Cancelled}, with Failed → Pending
// as the retry edge while retry_count < max_retries.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task bounds: priority range and policy defaults applied at creation.
const (
	MinTaskPriority       = 0
	MaxTaskPriority       = 10
	DefaultMaxRetries     = 3
	DefaultTaskTimeoutSec = 60
	MaxTaskTimeoutSec     = 3600
)

// Task is a discrete unit of work scoped to a tenant and an owning agent.
// Invariants: retry_count ≤ max_retries, and the owning agent always belongs
// to the same tenant as the task.
type Task struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	TenantID       uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	AgentID        uuid.UUID       `json:"agent_id" db:"agent_id"`
	Type           TaskType        `json:"type" db:"type"`
	Priority       int             `json:"priority" db:"priority"`
	Input          json.RawMessage `json:"input" db:"input"`
	Output         json.RawMessage `json:"output,omitempty" db:"output"`
	Status         TaskStatus      `json:"status" db:"status"`
	RetryCount     int             `json:"retry_count" db:"retry_count"`
	MaxRetries     int             `json:"max_retries" db:"max_retries"`
	TimeoutSeconds int             `json:"timeout_seconds" db:"timeout_seconds"`
	LastError      *string         `json:"last_error,omitempty" db:"last_error"`
	ReadyAt        time.Time       `json:"ready_at" db:"ready_at"`
	LeaseExpiresAt *time.Time      `json:"-" db:"lease_expires_at"`
	CreatedBy      uuid.UUID       `json:"created_by" db:"created_by"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Timeout returns the task's execution bound as a duration.
func (t *Task) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// RetriesExhausted reports whether another failure would be terminal.
func (t *Task) RetriesExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}
