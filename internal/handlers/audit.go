package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/wardenhq/warden/internal/middleware"
	"github.com/wardenhq/warden/internal/models"
	"gorm.io/gorm"
)

type AuditHandler struct {
	db *gorm.DB
}

func NewAuditHandler(db *gorm.DB) *AuditHandler {
	return &AuditHandler{db: db}
}

// ListAuditRecords returns paginated audit records, filterable by action,
// policy and device.
func (h *AuditHandler) ListAuditRecords(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	action := c.Query("action", "")

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	query := h.db.Model(&models.AuditRecord{}).Where("org_id = ?", middleware.OrgID(c))

	if action != "" {
		query = query.Where("action = ?", action)
	}
	if policyID, err := uuid.Parse(c.Query("policy_id", "")); err == nil {
		query = query.Where("policy_id = ?", policyID)
	}
	if deviceID, err := uuid.Parse(c.Query("device_id", "")); err == nil {
		query = query.Where("device_id = ?", deviceID)
	}

	var total int64
	query.Count(&total)

	var records []models.AuditRecord
	if err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&records).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list audit records",
		})
	}

	return c.JSON(fiber.Map{
		"records":  records,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}
