package domain

import "github.com/google/uuid"

// TenantContext is the resolved identity of an authenticated request. It is
// built exactly once per request from validated token claims and passed
// explicitly to every data-access path, so an unscoped query is a missing
// argument rather than a runtime surprise.
type TenantContext struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     Role
}
