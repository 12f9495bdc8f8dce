package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is a refresh-token family: the chain of refresh tokens descended
// from one login. RotationID identifies the only refresh token currently
// valid for the family; presenting any other rotation id is reuse and revokes
// the whole family.
type Session struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	TenantID   uuid.UUID `json:"tenant_id" db:"tenant_id"`
	RotationID uuid.UUID `json:"-" db:"rotation_id"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
