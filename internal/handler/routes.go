package handler

import (
	"github.com/gofiber/fiber/v2"
)

func SetupRoutes(
	app *fiber.App,
	authHandler *AuthHandler,
	agentHandler *AgentHandler,
	taskHandler *TaskHandler,
	tenantHandler *TenantHandler,
	userHandler *UserHandler,
	auditHandler *AuditHandler,
	healthHandler *HealthHandler,
	authMiddleware fiber.Handler,
) {
	// Health checks (public)
	app.Get("/health", healthHandler.Health)
	app.Get("/ready", healthHandler.Ready)

	// API v1
	api := app.Group("/api/v1")

	// Auth routes (public)
	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Post("/refresh", authHandler.Refresh)
	auth.Post("/logout", authHandler.Logout)
	auth.Post("/invitations/accept", authHandler.AcceptInvitation)

	// Agent routes (protected)
	agents := api.Group("/agents", authMiddleware)
	agents.Post("/", agentHandler.Create)
	agents.Get("/", agentHandler.List)
	agents.Get("/:id", agentHandler.Get)
	agents.Patch("/:id", agentHandler.Update)
	agents.Delete("/:id", agentHandler.Delete)

	// Task routes (protected)
	tasks := api.Group("/tasks", authMiddleware)
	tasks.Post("/", taskHandler.Create)
	tasks.Get("/", taskHandler.List)
	tasks.Get("/:id", taskHandler.Get)
	tasks.Post("/:id/execute", taskHandler.Execute)
	tasks.Post("/:id/cancel", taskHandler.Cancel)

	// Tenant routes (protected)
	tenant := api.Group("/tenant", authMiddleware)
	tenant.Get("/", tenantHandler.Get)
	tenant.Patch("/", tenantHandler.Update)
	tenant.Delete("/", tenantHandler.Deactivate)

	// Invitation routes (protected)
	invitations := api.Group("/invitations", authMiddleware)
	invitations.Post("/", tenantHandler.CreateInvitation)
	invitations.Get("/", tenantHandler.ListInvitations)
	invitations.Delete("/:id", tenantHandler.RevokeInvitation)

	// User routes (protected)
	users := api.Group("/users", authMiddleware)
	users.Get("/me", userHandler.GetMe)
	users.Get("/me/permissions", userHandler.GetMyPermissions)
	users.Post("/me/password", userHandler.ChangePassword)
	users.Get("/", userHandler.List)
	users.Patch("/:id", userHandler.Update)

	// Audit log routes (protected)
	audit := api.Group("/audit-logs", authMiddleware)
	audit.Get("/", auditHandler.List)
}
