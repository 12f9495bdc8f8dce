package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentplane/agentplane/internal/service"
	"github.com/agentplane/agentplane/pkg/validator"
)

type TenantHandler struct {
	tenantService *service.TenantService
	validator     *validator.Validator
}

func NewTenantHandler(tenantService *service.TenantService, validator *validator.Validator) *TenantHandler {
	return &TenantHandler{
		tenantService: tenantService,
		validator:     validator,
	}
}

// Get returns the caller's tenant
// GET /api/v1/tenant
func (h *TenantHandler) Get(c *fiber.Ctx) error {
	tenant, err := h.tenantService.Get(c.Context(), tenantContext(c))
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(tenant)
}

// Update changes the tenant's name or tier
// PATCH /api/v1/tenant
func (h *TenantHandler) Update(c *fiber.Ctx) error {
	var req service.UpdateTenantRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.validator.Validate(req); err != nil {
		return badRequest(c, err.Error())
	}

	tenant, err := h.tenantService.Update(c.Context(), tenantContext(c), &req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(tenant)
}

// Deactivate soft-deletes the tenant
// DELETE /api/v1/tenant
func (h *TenantHandler) Deactivate(c *fiber.Ctx) error {
	if err := h.tenantService.Deactivate(c.Context(), tenantContext(c)); err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// CreateInvitation mints a single-use invitation token
// POST /api/v1/invitations
func (h *TenantHandler) CreateInvitation(c *fiber.Ctx) error {
	var req service.CreateInvitationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.validator.Validate(req); err != nil {
		return badRequest(c, err.Error())
	}

	inv, err := h.tenantService.CreateInvitation(c.Context(), tenantContext(c), &req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(inv)
}

// ListInvitations returns the tenant's outstanding invitations
// GET /api/v1/invitations
func (h *TenantHandler) ListInvitations(c *fiber.Ctx) error {
	invitations, err := h.tenantService.ListInvitations(c.Context(), tenantContext(c),
		c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"invitations": invitations})
}

// RevokeInvitation deletes an unconsumed invitation
// DELETE /api/v1/invitations/:id
func (h *TenantHandler) RevokeInvitation(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.tenantService.RevokeInvitation(c.Context(), tenantContext(c), id); err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
