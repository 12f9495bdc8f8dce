package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
)

var (
	ErrInvalidSigningMethod = errors.New("unexpected signing method")
	ErrInvalidToken         = errors.New("invalid token")
	ErrExpiredToken         = errors.New("token expired")
)

// TokenService mints and validates HS256-signed access and refresh tokens.
type TokenService struct {
	signingKey    []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	issuer        string
}

func NewTokenService(signingKey []byte, accessExpiry, refreshExpiry time.Duration, issuer string) (*TokenService, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key is empty")
	}

	return &TokenService{
		signingKey:    signingKey,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		issuer:        issuer,
	}, nil
}

// GenerateTokenPair mints an access token carrying the user's tenant and role
// and a refresh token carrying the session (family) id plus rotationID as the
// registered ID claim.
func (s *TokenService) GenerateTokenPair(user *domain.User, sessionID, rotationID uuid.UUID) (*domain.TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(s.accessExpiry)

	accessClaims := domain.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(accessExp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Role:      user.Role,
		SessionID: sessionID,
		TokenType: "access",
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(s.signingKey)
	if err != nil {
		return nil, err
	}

	// Refresh token carries no role; the identity is re-resolved on refresh.
	refreshClaims := domain.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        rotationID.String(),
		},
		UserID:    user.ID,
		TenantID:  user.TenantID,
		SessionID: sessionID,
		TokenType: "refresh",
	}

	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(s.signingKey)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExp,
		TokenType:    "Bearer",
	}, nil
}

// ValidateToken parses and verifies a token, distinguishing expiry from every
// other validation failure.
func (s *TokenService) ValidateToken(tokenString string) (*domain.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &domain.Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSigningMethod
		}
		return s.signingKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*domain.Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// RefreshExpiry exposes the refresh token lifetime for session bookkeeping.
func (s *TokenService) RefreshExpiry() time.Duration {
	return s.refreshExpiry
}
