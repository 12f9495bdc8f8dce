package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/dispatch"
	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/handler/middleware"
	"github.com/agentplane/agentplane/internal/repository"
	"github.com/agentplane/agentplane/internal/service"
)

// tenantContext reads the TenantContext the auth middleware stored for this
// request.
func tenantContext(c *fiber.Ctx) domain.TenantContext {
	tc, _ := c.Locals(middleware.TenantContextKey).(domain.TenantContext)
	return tc
}

func parseUUIDParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, errors.New("invalid " + name)
	}
	return id, nil
}

// respondError maps service and repository errors onto the HTTP surface.
// Tenant mismatches come back as 404 so cross-tenant probing reveals nothing,
// and every authentication failure is the same 401.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrTenantMismatch):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "resource not found",
		})

	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrAccountLocked),
		errors.Is(err, service.ErrTenantNotFound),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrExpiredToken),
		errors.Is(err, service.ErrTokenReused):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "authentication failed",
		})

	case errors.Is(err, service.ErrPermissionDenied):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "permission denied",
		})

	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrDuplicateTenant),
		errors.Is(err, service.ErrDuplicateEmail),
		errors.Is(err, service.ErrInvitationConsumed),
		errors.Is(err, service.ErrAgentLimit),
		errors.Is(err, repository.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})

	case errors.Is(err, service.ErrInvitationExpired):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error": err.Error(),
		})

	case errors.Is(err, dispatch.ErrInvalidInput),
		errors.Is(err, dispatch.ErrUnsupportedOperation),
		errors.Is(err, dispatch.ErrUnsupportedType):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})

	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}
