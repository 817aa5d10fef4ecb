package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/wardenhq/warden/internal/middleware"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/services"
	"gorm.io/gorm"
)

const Version = "1.2.0"

type SystemHandler struct {
	db  *gorm.DB
	hub *services.AgentHub
}

func NewSystemHandler(db *gorm.DB, hub *services.AgentHub) *SystemHandler {
	return &SystemHandler{db: db, hub: hub}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	sqlDB, err := h.db.DB()
	dbOK := err == nil && sqlDB.Ping() == nil

	status := fiber.StatusOK
	if !dbOK {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"status":   map[bool]string{true: "ok", false: "degraded"}[dbOK],
		"version":  Version,
		"database": dbOK,
		"time":     time.Now().UTC(),
	})
}

// DashboardOverview returns the org-scoped headline numbers.
func (h *SystemHandler) DashboardOverview(c *fiber.Ctx) error {
	orgID := middleware.OrgID(c)

	var devices, activePolicies, nonCompliant, inFlight int64
	h.db.Model(&models.Device{}).Where("org_id = ?", orgID).Count(&devices)
	h.db.Model(&models.Policy{}).Where("org_id = ? AND is_active = ?", orgID, true).Count(&activePolicies)
	h.db.Model(&models.ComplianceStatus{}).
		Where("org_id = ? AND status = ?", orgID, models.ComplianceNonCompliant).
		Count(&nonCompliant)
	h.db.Model(&models.RemediationJob{}).
		Where("org_id = ? AND status IN ?", orgID, []string{models.JobWaiting, models.JobActive}).
		Count(&inFlight)

	return c.JSON(fiber.Map{
		"devices":               devices,
		"active_policies":       activePolicies,
		"non_compliant_devices": nonCompliant,
		"in_flight_jobs":        inFlight,
		"connected_agents":      h.hub.Connected(),
	})
}

// ListCompliance returns every compliance row in the caller's org.
func (h *SystemHandler) ListCompliance(c *fiber.Ctx) error {
	var rows []models.ComplianceStatus
	if err := h.db.Where("org_id = ?", middleware.OrgID(c)).
		Order("updated_at DESC").
		Limit(500).
		Find(&rows).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list compliance status",
		})
	}
	return c.JSON(fiber.Map{"compliance": rows})
}
