package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/wardenhq/warden/internal/middleware"
	"github.com/wardenhq/warden/internal/models"
	"gorm.io/gorm"
)

type DeviceHandler struct {
	db *gorm.DB
}

func NewDeviceHandler(db *gorm.DB) *DeviceHandler {
	return &DeviceHandler{db: db}
}

func (h *DeviceHandler) ListDevices(c *fiber.Ctx) error {
	var devices []models.Device
	if err := h.db.Where("org_id = ?", middleware.OrgID(c)).
		Order("hostname").
		Find(&devices).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list devices",
		})
	}
	return c.JSON(fiber.Map{"devices": devices})
}

func (h *DeviceHandler) GetDevice(c *fiber.Ctx) error {
	device := h.loadDevice(c)
	if device == nil {
		return nil
	}

	var software []models.DeviceSoftware
	h.db.Where("device_id = ?", device.ID).Order("name, version").Find(&software)

	return c.JSON(fiber.Map{
		"device":   device,
		"software": software,
	})
}

func (h *DeviceHandler) DeleteDevice(c *fiber.Ctx) error {
	device := h.loadDevice(c)
	if device == nil {
		return nil
	}
	if err := h.db.Delete(device).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete device",
		})
	}
	return c.JSON(fiber.Map{"deleted": true})
}

func (h *DeviceHandler) ListGroups(c *fiber.Ctx) error {
	var groups []models.DeviceGroup
	if err := h.db.Where("org_id = ?", middleware.OrgID(c)).
		Order("name").
		Find(&groups).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list groups",
		})
	}
	return c.JSON(fiber.Map{"groups": groups})
}

func (h *DeviceHandler) CreateGroup(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Group name is required",
		})
	}

	group := models.DeviceGroup{OrgID: middleware.OrgID(c), Name: req.Name}
	if err := h.db.Create(&group).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to create group",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(group)
}

// SetGroupMembers replaces a group's membership. Devices outside the caller's
// org are silently dropped, never attached.
func (h *DeviceHandler) SetGroupMembers(c *fiber.Ctx) error {
	groupID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid group ID",
		})
	}

	orgID := middleware.OrgID(c)
	var group models.DeviceGroup
	if err := h.db.First(&group, "id = ? AND org_id = ?", groupID, orgID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Group not found",
		})
	}

	var req struct {
		DeviceIDs []uuid.UUID `json:"device_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	var owned []uuid.UUID
	if len(req.DeviceIDs) > 0 {
		if err := h.db.Model(&models.Device{}).
			Where("org_id = ?", orgID).
			Where("id IN ?", req.DeviceIDs).
			Pluck("id", &owned).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   true,
				"message": "Failed to verify devices",
			})
		}
	}

	if err := h.db.Where("group_id = ?", group.ID).Delete(&models.DeviceGroupMember{}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update membership",
		})
	}
	for _, id := range owned {
		h.db.Create(&models.DeviceGroupMember{GroupID: group.ID, DeviceID: id})
	}

	return c.JSON(fiber.Map{"group_id": group.ID, "members": len(owned)})
}

func (h *DeviceHandler) loadDevice(c *fiber.Ctx) *models.Device {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid device ID",
		})
		return nil
	}

	var device models.Device
	if err := h.db.First(&device, "id = ? AND org_id = ?", id, middleware.OrgID(c)).Error; err != nil {
		c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Device not found",
		})
		return nil
	}
	return &device
}
