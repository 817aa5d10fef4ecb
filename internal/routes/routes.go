package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/handlers"
	"github.com/wardenhq/warden/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	policyHandler *handlers.PolicyHandler,
	deviceHandler *handlers.DeviceHandler,
	agentHandler *handlers.AgentHandler,
	agentChannel *handlers.AgentChannelHandler,
	auditHandler *handlers.AuditHandler,
	systemHandler *handlers.SystemHandler,
) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", systemHandler.Health)

	// ─── Auth ────────────────────────────────────────────────────────────
	app.Post("/api/auth/login", authHandler.Login)
	app.Post("/api/auth/refresh", authHandler.Refresh)

	// ─── Agent API (device token) ────────────────────────────────────────
	app.Post("/api/agent/enroll", agentHandler.Enroll)

	agent := app.Group("/api/agent", middleware.AgentProtected(cfg.JWTSecret))
	agent.Post("/inventory", agentHandler.ReportInventory)
	agent.Get("/commands", agentHandler.PollCommands)
	agent.Post("/commands/:id/result", agentHandler.PostResult)

	// Live channel (WebSocket)
	agent.Use("/channel", agentChannel.UpgradeCheck())
	agent.Get("/channel", agentChannel.HandleChannel())

	// ─── Protected routes ────────────────────────────────────────────────
	api := app.Group("/api", middleware.JWTProtected(cfg.JWTSecret))

	// Auth (protected)
	api.Get("/auth/me", authHandler.Me)

	// Dashboard
	api.Get("/dashboard/overview", systemHandler.DashboardOverview)

	// Policies
	api.Get("/policies", policyHandler.ListPolicies)
	api.Post("/policies", policyHandler.CreatePolicy)
	api.Get("/policies/:id", policyHandler.GetPolicy)
	api.Put("/policies/:id", policyHandler.UpdatePolicy)
	api.Delete("/policies/:id", policyHandler.DeletePolicy)
	api.Post("/policies/:id/scan", policyHandler.TriggerScan)
	api.Get("/policies/:id/compliance", policyHandler.ListCompliance)
	api.Post("/policies/:id/devices/:deviceId/remediate", policyHandler.RemediateDevice)

	// Compliance (org-wide)
	api.Get("/compliance", systemHandler.ListCompliance)

	// Devices
	api.Get("/devices", deviceHandler.ListDevices)
	api.Get("/devices/:id", deviceHandler.GetDevice)
	api.Delete("/devices/:id", deviceHandler.DeleteDevice)
	api.Get("/groups", deviceHandler.ListGroups)
	api.Post("/groups", deviceHandler.CreateGroup)
	api.Put("/groups/:id/members", deviceHandler.SetGroupMembers)

	// Audit trail
	api.Get("/audit", auditHandler.ListAuditRecords)
}
