package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentplane/agentplane/internal/service"
	"github.com/agentplane/agentplane/pkg/validator"
)

type UserHandler struct {
	userService *service.UserService
	validator   *validator.Validator
}

func NewUserHandler(userService *service.UserService, validator *validator.Validator) *UserHandler {
	return &UserHandler{
		userService: userService,
		validator:   validator,
	}
}

// GetMe returns the calling user
// GET /api/v1/users/me
func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	user, err := h.userService.Me(c.Context(), tenantContext(c))
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(user)
}

// GetMyPermissions returns the calling user's role and its capability set
// GET /api/v1/users/me/permissions
func (h *UserHandler) GetMyPermissions(c *fiber.Ctx) error {
	tc := tenantContext(c)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"role":         tc.Role,
		"capabilities": tc.Role.Capabilities(),
	})
}

// ChangePassword rotates the calling user's password and revokes their sessions
// POST /api/v1/users/me/password
func (h *UserHandler) ChangePassword(c *fiber.Ctx) error {
	var req service.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.validator.Validate(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.userService.ChangePassword(c.Context(), tenantContext(c), &req); err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Password changed successfully",
	})
}

// List returns the tenant's users
// GET /api/v1/users
func (h *UserHandler) List(c *fiber.Ctx) error {
	users, err := h.userService.List(c.Context(), tenantContext(c),
		c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"users": users})
}

// Update changes a user's role or active flag
// PATCH /api/v1/users/:id
func (h *UserHandler) Update(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req service.UpdateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.validator.Validate(req); err != nil {
		return badRequest(c, err.Error())
	}

	user, err := h.userService.Update(c.Context(), tenantContext(c), id, &req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(user)
}
