package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentplane/agentplane/internal/service"
)

type AuditHandler struct {
	auditService *service.AuditService
}

func NewAuditHandler(auditService *service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// List returns the tenant's audit trail, newest first
// GET /api/v1/audit-logs
func (h *AuditHandler) List(c *fiber.Ctx) error {
	entries, err := h.auditService.List(c.Context(), tenantContext(c),
		c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"entries": entries})
}
