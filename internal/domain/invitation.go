package domain

import (
	"time"

	"github.com/google/uuid"
)

// Invitation lets an authorized inviter bring a user into a tenant with a
// fixed role. The raw token is shown once at creation; only its SHA-256 hash
// is stored. An invitation is consumed exactly once.
type Invitation struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	TenantID   uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Email      string     `json:"email" db:"email"`
	TokenHash  string     `json:"-" db:"token_hash"`
	Role       Role       `json:"role" db:"role"`
	CreatedBy  uuid.UUID  `json:"created_by" db:"created_by"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty" db:"consumed_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Consumed reports whether the invitation has already been used.
func (i *Invitation) Consumed() bool {
	return i.ConsumedAt != nil
}

// Expired reports whether the invitation is past its expiry.
func (i *Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
