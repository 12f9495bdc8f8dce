package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/agentplane/agentplane/internal/domain"
	"github.com/agentplane/agentplane/internal/repository"
	"github.com/agentplane/agentplane/internal/service"
	"github.com/agentplane/agentplane/pkg/validator"
)

type TaskHandler struct {
	taskService *service.TaskService
	validator   *validator.Validator
}

func NewTaskHandler(taskService *service.TaskService, validator *validator.Validator) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		validator:   validator,
	}
}

// Create submits a new task for one of the tenant's agents
// POST /api/v1/tasks
func (h *TaskHandler) Create(c *fiber.Ctx) error {
	var req service.CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if err := h.validator.Validate(req); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.taskService.Create(c.Context(), tenantContext(c), &req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(task)
}

// List returns the tenant's tasks, optionally filtered by agent or status
// GET /api/v1/tasks
func (h *TaskHandler) List(c *fiber.Ctx) error {
	filter := repository.TaskFilter{
		Limit:  c.QueryInt("limit", 50),
		Offset: c.QueryInt("offset", 0),
	}

	if agentID := c.Query("agent_id"); agentID != "" {
		id, err := uuid.Parse(agentID)
		if err != nil {
			return badRequest(c, "invalid agent_id")
		}
		filter.AgentID = &id
	}
	if status := c.Query("status"); status != "" {
		s := domain.TaskStatus(status)
		filter.Status = &s
	}

	tasks, err := h.taskService.List(c.Context(), tenantContext(c), filter)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"tasks": tasks})
}

// Get returns one task with its current status and output
// GET /api/v1/tasks/:id
func (h *TaskHandler) Get(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.taskService.Get(c.Context(), tenantContext(c), id)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(task)
}

// Execute starts a pending task immediately. Execution is asynchronous, so
// the response is 202 with the task's post-claim state.
// POST /api/v1/tasks/:id/execute
func (h *TaskHandler) Execute(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.taskService.Execute(c.Context(), tenantContext(c), id)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(task)
}

// Cancel stops a pending or running task
// POST /api/v1/tasks/:id/cancel
func (h *TaskHandler) Cancel(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.taskService.Cancel(c.Context(), tenantContext(c), id)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(task)
}
