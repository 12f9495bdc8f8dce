package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AgentStatus represents the operational state of a registered agent.
type AgentStatus string

const (
	AgentStatusIdle       AgentStatus = "idle"
	AgentStatusRunning    AgentStatus = "running"
	AgentStatusPaused     AgentStatus = "paused"
	AgentStatusError      AgentStatus = "error"
	AgentStatusTerminated AgentStatus = "terminated"
)

// Agent is a tenant-owned execution target that tasks are created against.
// Name is unique within the tenant.
type Agent struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	TenantID  uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	Name      string          `json:"name" db:"name"`
	Type      string          `json:"type" db:"type"`
	Status    AgentStatus     `json:"status" db:"status"`
	Config    json.RawMessage `json:"config,omitempty" db:"config"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
