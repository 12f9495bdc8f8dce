package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/service"
	"github.com/agentplane/agentplane/pkg/jwt"
)

// TenantContextKey is the fiber.Locals key under which the resolved
// TenantContext is stored for downstream handlers.
const TenantContextKey = "tenant_context"

// AuthMiddleware validates the bearer access token and resolves the tenant
// context for the request. Every failure mode is the same 401, so a caller
// cannot distinguish a revoked token from a malformed one.
func AuthMiddleware(tokenService *jwt.TokenService, revoker service.FamilyRevoker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c)
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return unauthorized(c)
		}

		claims, err := tokenService.ValidateToken(parts[1])
		if err != nil {
			return unauthorized(c)
		}

		if claims.TokenType != "access" || !claims.Role.Valid() {
			return unauthorized(c)
		}

		// Logout and rotation reuse revoke the whole session family, which
		// also invalidates outstanding access tokens here.
		revoked, err := revoker.IsFamilyRevoked(c.Context(), claims.SessionID.String())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to verify token status",
			})
		}
		if revoked {
			return unauthorized(c)
		}

		if claims.IssuedAt != nil {
			userRevoked, err := revoker.IsUserRevoked(c.Context(), claims.UserID.String(), claims.IssuedAt.Time)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "failed to verify token status",
				})
			}
			if userRevoked {
				return unauthorized(c)
			}
		}

		c.Locals(TenantContextKey, domain.TenantContext{
			UserID:   claims.UserID,
			TenantID: claims.TenantID,
			Role:     claims.Role,
		})

		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "authentication failed",
	})
}
