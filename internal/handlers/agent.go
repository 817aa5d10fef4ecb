package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/middleware"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/services"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AgentHandler struct {
	cfg         *config.Config
	db          *gorm.DB
	audit       *services.AuditService
	remediation *services.RemediationScheduler
}

func NewAgentHandler(cfg *config.Config, db *gorm.DB, audit *services.AuditService,
	remediation *services.RemediationScheduler) *AgentHandler {
	return &AgentHandler{cfg: cfg, db: db, audit: audit, remediation: remediation}
}

// Enroll registers a device using the org enrollment key and returns a device
// token for all subsequent agent calls.
func (h *AgentHandler) Enroll(c *fiber.Ctx) error {
	var req struct {
		EnrollmentKey string `json:"enrollment_key"`
		Hostname      string `json:"hostname"`
		OS            string `json:"os"`
		Arch          string `json:"arch"`
		AgentVersion  string `json:"agent_version"`
	}
	if err := c.BodyParser(&req); err != nil || req.EnrollmentKey == "" || req.Hostname == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Enrollment key and hostname are required",
		})
	}

	var org models.Org
	if err := h.db.First(&org, "enrollment_key = ? AND enrollment_key <> ''", req.EnrollmentKey).Error; err != nil ||
		subtle.ConstantTimeCompare([]byte(org.EnrollmentKey), []byte(req.EnrollmentKey)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid enrollment key",
		})
	}

	now := time.Now().UTC()
	device := models.Device{
		OrgID:        org.ID,
		Hostname:     req.Hostname,
		OS:           req.OS,
		Arch:         req.Arch,
		AgentVersion: req.AgentVersion,
		Status:       "online",
		LastSeenAt:   &now,
	}
	if err := h.db.Create(&device).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to register device",
		})
	}

	token, err := middleware.GenerateDeviceToken(device.ID, org.ID, h.cfg.JWTSecret)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to generate device token",
		})
	}

	h.audit.Record(services.AuditEntry{
		OrgID:    org.ID,
		DeviceID: &device.ID,
		Action:   "device_enrolled",
		Details:  map[string]interface{}{"hostname": device.Hostname, "os": device.OS},
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"device_id": device.ID,
		"token":     token,
	})
}

// ReportInventory replaces the device's software list with the reported one.
func (h *AgentHandler) ReportInventory(c *fiber.Ctx) error {
	deviceID := middleware.DeviceID(c)
	orgID := middleware.OrgID(c)

	var req struct {
		Software []struct {
			Name      string `json:"name"`
			Version   string `json:"version,omitempty"`
			Vendor    string `json:"vendor,omitempty"`
			CatalogID string `json:"catalog_id,omitempty"`
		} `json:"software"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	now := time.Now().UTC()
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_id = ?", deviceID).Delete(&models.DeviceSoftware{}).Error; err != nil {
			return err
		}
		for _, item := range req.Software {
			if item.Name == "" {
				continue
			}
			row := models.DeviceSoftware{
				OrgID:       orgID,
				DeviceID:    deviceID,
				Name:        item.Name,
				Version:     item.Version,
				Vendor:      item.Vendor,
				CatalogID:   item.CatalogID,
				CollectedAt: now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to store inventory",
		})
	}

	h.touchDevice(deviceID)
	return c.JSON(fiber.Map{"stored": len(req.Software)})
}

// PollCommands returns pending commands for the device and marks them sent.
func (h *AgentHandler) PollCommands(c *fiber.Ctx) error {
	deviceID := middleware.DeviceID(c)

	var commands []models.RemoteCommand
	if err := h.db.Where("device_id = ? AND status = ?", deviceID, models.CommandPending).
		Order("created_at").
		Limit(10).
		Find(&commands).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to load commands",
		})
	}

	now := time.Now().UTC()
	for i := range commands {
		h.db.Model(&commands[i]).Updates(map[string]interface{}{
			"status":  models.CommandSent,
			"sent_at": now,
		})
	}

	h.touchDevice(deviceID)
	return c.JSON(fiber.Map{"commands": commands})
}

// PostResult stores a command result and routes it to the remediation
// scheduler when the command was a software uninstall.
func (h *AgentHandler) PostResult(c *fiber.Ctx) error {
	deviceID := middleware.DeviceID(c)

	commandID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid command ID",
		})
	}

	var result models.CommandResult
	if err := c.BodyParser(&result); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if result.Status != models.CommandCompleted && result.Status != models.CommandFailed {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Result status must be completed or failed",
		})
	}

	var cmd models.RemoteCommand
	if err := h.db.First(&cmd, "id = ? AND device_id = ?", commandID, deviceID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Command not found",
		})
	}

	encoded, _ := json.Marshal(result)
	now := time.Now().UTC()
	if err := h.db.Model(&cmd).Updates(map[string]interface{}{
		"status":       result.Status,
		"result":       datatypes.JSON(encoded),
		"completed_at": now,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to store result",
		})
	}

	if cmd.Type == models.CmdSoftwareUninstall {
		if err := h.remediation.HandleResult(context.Background(), &cmd, result); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   true,
				"message": "Failed to apply remediation result",
			})
		}
	}

	h.touchDevice(deviceID)
	return c.JSON(fiber.Map{"accepted": true})
}

// touchDevice piggybacks a heartbeat on every agent call.
func (h *AgentHandler) touchDevice(deviceID uuid.UUID) {
	now := time.Now().UTC()
	h.db.Model(&models.Device{}).Where("id = ?", deviceID).Updates(map[string]interface{}{
		"status":       "online",
		"last_seen_at": now,
	})
}
