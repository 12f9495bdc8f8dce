package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenPair is what a successful login, registration, or refresh returns.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

// Claims carried by both access and refresh tokens. Access tokens carry the
// full tenant/role identity; refresh tokens carry the session (family) id and
// use the registered ID claim as the rotation identifier.
type Claims struct {
	jwt.RegisteredClaims
	UserID    uuid.UUID `json:"uid"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Role      Role      `json:"role,omitempty"`
	SessionID uuid.UUID `json:"sid,omitempty"`
	TokenType string    `json:"type"`
}
