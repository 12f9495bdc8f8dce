package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditOutcome classifies an audit log entry.
type AuditOutcome string

const (
	AuditAllowed    AuditOutcome = "allowed"
	AuditDenied     AuditOutcome = "denied"
	AuditTransition AuditOutcome = "transition"
)

// AuditLogEntry is an append-only record of an authorization decision or a
// task lifecycle transition. Entries are never mutated.
type AuditLogEntry struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	TenantID   uuid.UUID    `json:"tenant_id" db:"tenant_id"`
	ActorID    uuid.UUID    `json:"actor_id" db:"actor_id"`
	Event      string       `json:"event" db:"event"`
	TargetType string       `json:"target_type" db:"target_type"`
	TargetID   string       `json:"target_id" db:"target_id"`
	Outcome    AuditOutcome `json:"outcome" db:"outcome"`
	Detail     *string      `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}
