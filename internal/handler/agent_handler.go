package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentplane/agentplane/internal/service"
	"github.com/agentplane/agentplane/pkg/validator"
)

type AgentHandler struct {
	agentService *service.AgentService
	validator    *validator.Validator
}

func NewAgentHandler(agentService *service.AgentService, validator *validator.Validator) *AgentHandler {
	return &AgentHandler{
		agentService: agentService,
		validator:    validator,
	}
}

// Create registers a new agent
// POST /api/v1/agents
func (h *AgentHandler) Create(c *fiber.Ctx) error {
	var req service.CreateAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.validator.Validate(req); err != nil {
		return badRequest(c, err.Error())
	}

	agent, err := h.agentService.Create(c.Context(), tenantContext(c), &req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(agent)
}

// List returns the tenant's agents
// GET /api/v1/agents
func (h *AgentHandler) List(c *fiber.Ctx) error {
	agents, err := h.agentService.List(c.Context(), tenantContext(c),
		c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"agents": agents})
}

// Get returns one agent
// GET /api/v1/agents/:id
func (h *AgentHandler) Get(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	agent, err := h.agentService.Get(c.Context(), tenantContext(c), id)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(agent)
}

// Update changes an agent's name, status or config
// PATCH /api/v1/agents/:id
func (h *AgentHandler) Update(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req service.UpdateAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.validator.Validate(req); err != nil {
		return badRequest(c, err.Error())
	}

	agent, err := h.agentService.Update(c.Context(), tenantContext(c), id, &req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(agent)
}

// Delete removes an agent
// DELETE /api/v1/agents/:id
func (h *AgentHandler) Delete(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.agentService.Delete(c.Context(), tenantContext(c), id); err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
