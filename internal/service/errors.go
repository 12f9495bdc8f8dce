package service

import "errors"

// Authentication errors. Handlers surface all of these as a generic
// "authentication failed" so a caller cannot tell which check failed.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is locked")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrTokenReused        = errors.New("refresh token reuse detected")
)

// Registration errors.
var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrDuplicateTenant    = errors.New("tenant already exists")
	ErrDuplicateEmail     = errors.New("email already registered in this tenant")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrInvitationConsumed = errors.New("invitation already used")
)

// Authorization errors. ErrTenantMismatch is surfaced identically to "not
// found" at the API boundary.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrTenantMismatch   = errors.New("tenant mismatch")
)

// Lifecycle errors.
var (
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrAgentLimit        = errors.New("agent limit reached for tenant")
)
