package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/config"
	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
	"github.com/agentplane/agentplane/pkg/hash"
	"github.com/agentplane/agentplane/pkg/jwt"
)

// FamilyRevoker tracks revoked refresh-token families and user-wide
// revocations. Implemented by pkg/revocation backed by Redis.
type FamilyRevoker interface {
	RevokeFamily(ctx context.Context, sessionID string, ttl time.Duration) error
	IsFamilyRevoked(ctx context.Context, sessionID string) (bool, error)
	RevokeUser(ctx context.Context, userID string, ttl time.Duration) error
	IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error)
}

type RegisterTenantRequest struct {
	TenantName string `json:"tenant_name" validate:"required,min=2,max=100"`
	TenantSlug string `json:"tenant_slug" validate:"required,min=2,max=50"`
	Tier       string `json:"tier" validate:"omitempty,oneof=free basic professional enterprise"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=8,max=128"`
}

type LoginRequest struct {
	TenantSlug string `json:"tenant_slug" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
}

type AcceptInvitationRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// AuthResponse is returned by every flow that establishes a session.
type AuthResponse struct {
	Tokens *domain.TokenPair `json:"tokens"`
	User   *domain.User      `json:"user"`
	Tenant *domain.Tenant    `json:"tenant"`
}

// AuthService implements session issuance: tenant registration, login with
// lockout, refresh-token rotation with family revocation on reuse, invitation
// acceptance and logout.
type AuthService struct {
	users       repository.UserRepository
	tenants     repository.TenantRepository
	sessions    repository.SessionRepository
	invitations repository.InvitationRepository
	audit       repository.AuditRepository
	tokens      *jwt.TokenService
	revoker     FamilyRevoker
	authCfg     config.AuthConfig
	tiers       map[domain.SubscriptionTier]domain.TierLimits

	now func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	tenants repository.TenantRepository,
	sessions repository.SessionRepository,
	invitations repository.InvitationRepository,
	audit repository.AuditRepository,
	tokens *jwt.TokenService,
	revoker FamilyRevoker,
	authCfg config.AuthConfig,
	tiers map[domain.SubscriptionTier]domain.TierLimits,
) *AuthService {
	return &AuthService{
		users:       users,
		tenants:     tenants,
		sessions:    sessions,
		invitations: invitations,
		audit:       audit,
		tokens:      tokens,
		revoker:     revoker,
		authCfg:     authCfg,
		tiers:       tiers,
		now:         time.Now,
	}
}

// RegisterTenant creates a tenant with limits snapshotted from its tier, an
// owner user, and an initial session.
func (s *AuthService) RegisterTenant(ctx context.Context, req *RegisterTenantRequest) (*AuthResponse, error) {
	tier := domain.SubscriptionTier(req.Tier)
	if tier == "" {
		tier = domain.TierFree
	}
	if !domain.ValidTier(tier) {
		return nil, fmt.Errorf("unknown subscription tier %q", req.Tier)
	}

	limits, ok := s.tiers[tier]
	if !ok {
		limits = domain.DefaultTierLimits[tier]
	}

	now := s.now()
	tenant := &domain.Tenant{
		ID:              uuid.New(),
		Name:            req.TenantName,
		Slug:            strings.ToLower(strings.TrimSpace(req.TenantSlug)),
		Tier:            tier,
		MaxAgents:       limits.MaxAgents,
		MaxTasksPerHour: limits.MaxTasksPerHour,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.tenants.Create(ctx, tenant); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateTenant
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	passwordHash, err := hash.Password(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		TenantID:     tenant.ID,
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: passwordHash,
		Role:         domain.RoleOwner,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create owner user: %w", err)
	}

	tokens, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	appendAudit(ctx, s.audit, tenant.ID, user.ID,
		"tenant.register", "tenant", tenant.ID.String(), domain.AuditAllowed, string(tier))

	return &AuthResponse{Tokens: tokens, User: user, Tenant: tenant}, nil
}

// Login authenticates a user within a tenant. A missing or inactive tenant
// is ErrTenantNotFound; unknown email, wrong password and inactive account
// all come back as ErrInvalidCredentials. The HTTP layer collapses every one
// of these into the same response, so a caller cannot probe which part
// failed.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	tenant, err := s.tenants.GetBySlug(ctx, strings.ToLower(strings.TrimSpace(req.TenantSlug)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to resolve tenant: %w", err)
	}
	if !tenant.Active {
		return nil, ErrTenantNotFound
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.users.GetByEmail(ctx, tenant.ID, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	now := s.now()
	if user.Locked(now) {
		appendAudit(ctx, s.audit, tenant.ID, user.ID,
			"auth.login", "user", user.ID.String(), domain.AuditDenied, "account locked")
		return nil, ErrAccountLocked
	}

	match, err := hash.Verify(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		if lockErr := s.recordFailedLogin(ctx, user, now); lockErr != nil {
			return nil, lockErr
		}
		appendAudit(ctx, s.audit, tenant.ID, user.ID,
			"auth.login", "user", user.ID.String(), domain.AuditDenied, "bad password")
		return nil, ErrInvalidCredentials
	}

	if !user.Active {
		appendAudit(ctx, s.audit, tenant.ID, user.ID,
			"auth.login", "user", user.ID.String(), domain.AuditDenied, "account inactive")
		return nil, ErrInvalidCredentials
	}

	if user.FailedLogins > 0 {
		if err := s.users.ResetFailedLogins(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("failed to reset failed logins: %w", err)
		}
	}

	tokens, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	appendAudit(ctx, s.audit, tenant.ID, user.ID,
		"auth.login", "user", user.ID.String(), domain.AuditAllowed, "")

	return &AuthResponse{Tokens: tokens, User: user, Tenant: tenant}, nil
}

// Refresh rotates a refresh token. A token whose rotation id no longer matches
// the session is a replay: the whole family is revoked and the caller must
// authenticate again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.validateRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	now := s.now()
	if now.After(session.ExpiresAt) {
		_ = s.sessions.Delete(ctx, session.ID)
		return nil, ErrExpiredToken
	}

	presentedRotation, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if presentedRotation != session.RotationID {
		return nil, s.revokeReusedFamily(ctx, session)
	}

	user, err := s.users.GetByID(ctx, session.TenantID, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}
	if !user.Active {
		return nil, ErrInvalidToken
	}

	newRotation := uuid.New()
	if err := s.sessions.Rotate(ctx, session.ID, presentedRotation, newRotation); err != nil {
		if errors.Is(err, repository.ErrNoTransition) {
			// Lost a rotation race: someone else already advanced the family
			// with this same token.
			return nil, s.revokeReusedFamily(ctx, session)
		}
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}

	pair, err := s.tokens.GenerateTokenPair(user, session.ID, newRotation)
	if err != nil {
		return nil, fmt.Errorf("failed to mint token pair: %w", err)
	}

	return pair, nil
}

// AcceptInvitation consumes a single-use invitation and creates the invited
// user with the role fixed at invitation time.
func (s *AuthService) AcceptInvitation(ctx context.Context, req *AcceptInvitationRequest) (*AuthResponse, error) {
	inv, err := s.invitations.GetByTokenHash(ctx, HashInvitationToken(req.Token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up invitation: %w", err)
	}

	now := s.now()
	if inv.Consumed() {
		return nil, ErrInvitationConsumed
	}
	if inv.Expired(now) {
		return nil, ErrInvitationExpired
	}

	tenant, err := s.tenants.GetByID(ctx, inv.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load inviting tenant: %w", err)
	}
	if !tenant.Active {
		return nil, ErrTenantNotFound
	}

	// Exactly one acceptance wins a concurrent race on the same token.
	if err := s.invitations.Consume(ctx, inv.ID, now); err != nil {
		if errors.Is(err, repository.ErrNoTransition) {
			return nil, ErrInvitationConsumed
		}
		return nil, fmt.Errorf("failed to consume invitation: %w", err)
	}

	passwordHash, err := hash.Password(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		TenantID:     tenant.ID,
		Email:        inv.Email,
		PasswordHash: passwordHash,
		Role:         inv.Role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create invited user: %w", err)
	}

	tokens, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	appendAudit(ctx, s.audit, tenant.ID, user.ID,
		"invitation.accept", "invitation", inv.ID.String(), domain.AuditAllowed, string(inv.Role))

	return &AuthResponse{Tokens: tokens, User: user, Tenant: tenant}, nil
}

// Logout deletes the session and revokes its token family so outstanding
// access tokens stop working at the next middleware check.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.validateRefresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	if err := s.sessions.Delete(ctx, claims.SessionID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if err := s.revoker.RevokeFamily(ctx, claims.SessionID.String(), s.tokens.RefreshExpiry()); err != nil {
		return fmt.Errorf("failed to revoke session family: %w", err)
	}

	appendAudit(ctx, s.audit, claims.TenantID, claims.UserID,
		"auth.logout", "session", claims.SessionID.String(), domain.AuditAllowed, "")

	return nil
}

// NewInvitationToken returns a fresh random invitation token and the hash
// under which it is stored. The raw token is shown to the inviter exactly once.
func NewInvitationToken() (token, tokenHash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	token = hex.EncodeToString(raw)
	return token, HashInvitationToken(token), nil
}

// HashInvitationToken maps a raw invitation token to its stored form.
func HashInvitationToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *AuthService) validateRefresh(ctx context.Context, refreshToken string) (*domain.Claims, error) {
	claims, err := s.tokens.ValidateToken(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.TokenType != "refresh" || claims.SessionID == uuid.Nil {
		return nil, ErrInvalidToken
	}

	revoked, err := s.revoker.IsFamilyRevoked(ctx, claims.SessionID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to check family revocation: %w", err)
	}
	if revoked {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (s *AuthService) issueSession(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	now := s.now()
	session := &domain.Session{
		ID:         uuid.New(),
		UserID:     user.ID,
		TenantID:   user.TenantID,
		RotationID: uuid.New(),
		ExpiresAt:  now.Add(s.tokens.RefreshExpiry()),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	pair, err := s.tokens.GenerateTokenPair(user, session.ID, session.RotationID)
	if err != nil {
		return nil, fmt.Errorf("failed to mint token pair: %w", err)
	}

	return pair, nil
}

func (s *AuthService) recordFailedLogin(ctx context.Context, user *domain.User, now time.Time) error {
	count, err := s.users.IncrementFailedLogins(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to record failed login: %w", err)
	}

	if count >= s.authCfg.MaxFailedLogins {
		until := now.Add(s.authCfg.LockDuration)
		user.FailedLogins = count
		user.LockedUntil = &until
		if err := s.users.Update(ctx, user); err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}
		appendAudit(ctx, s.audit, user.TenantID, user.ID,
			"auth.lockout", "user", user.ID.String(), domain.AuditDenied,
			fmt.Sprintf("locked until %s", until.Format(time.RFC3339)))
	}

	return nil
}

func (s *AuthService) revokeReusedFamily(ctx context.Context, session *domain.Session) error {
	_ = s.sessions.Delete(ctx, session.ID)

	if err := s.revoker.RevokeFamily(ctx, session.ID.String(), s.tokens.RefreshExpiry()); err != nil {
		return fmt.Errorf("failed to revoke reused family: %w", err)
	}

	appendAudit(ctx, s.audit, session.TenantID, session.UserID,
		"auth.refresh", "session", session.ID.String(), domain.AuditDenied, "rotation reuse")

	return ErrTokenReused
}
