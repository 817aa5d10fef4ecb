package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/wardenhq/warden/internal/middleware"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/services"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PolicyHandler struct {
	db          *gorm.DB
	audit       *services.AuditService
	scans       *services.ScanScheduler
	remediation *services.RemediationScheduler
	inventory   services.InventoryProvider
}

func NewPolicyHandler(db *gorm.DB, audit *services.AuditService, scans *services.ScanScheduler,
	remediation *services.RemediationScheduler, inventory services.InventoryProvider) *PolicyHandler {
	return &PolicyHandler{db: db, audit: audit, scans: scans, remediation: remediation, inventory: inventory}
}

type policyRequest struct {
	Name                 *string             `json:"name"`
	Mode                 *string             `json:"mode"`
	Rules                []models.PolicyRule `json:"rules"`
	AllowUnknown         *bool               `json:"allow_unknown"`
	TargetType           *string             `json:"target_type"`
	TargetIDs            []string            `json:"target_ids"`
	IsActive             *bool               `json:"is_active"`
	AutoUninstallEnabled *bool               `json:"auto_uninstall_enabled"`
	GracePeriodHours     *int                `json:"grace_period_hours"`
	CooldownMinutes      *int                `json:"cooldown_minutes"`
}

func validMode(mode string) bool {
	return mode == models.PolicyModeBlocklist || mode == models.PolicyModeAllowlist || mode == models.PolicyModeAudit
}

func validTargetType(t string) bool {
	return t == models.TargetTypeAll || t == models.TargetTypeDevices || t == models.TargetTypeGroup
}

func (h *PolicyHandler) ListPolicies(c *fiber.Ctx) error {
	var policies []models.Policy
	if err := h.db.Where("org_id = ?", middleware.OrgID(c)).
		Order("created_at DESC").
		Find(&policies).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list policies",
		})
	}
	return c.JSON(fiber.Map{"policies": policies})
}

func (h *PolicyHandler) GetPolicy(c *fiber.Ctx) error {
	policy := h.loadPolicy(c)
	if policy == nil {
		return nil
	}
	return c.JSON(policy)
}

func (h *PolicyHandler) CreatePolicy(c *fiber.Ctx) error {
	var req policyRequest
	if err := c.BodyParser(&req); err != nil || req.Name == nil || *req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Policy name is required",
		})
	}

	policy := models.Policy{
		OrgID:      middleware.OrgID(c),
		Name:       *req.Name,
		Mode:       models.PolicyModeBlocklist,
		TargetType: models.TargetTypeAll,
		IsActive:   true,
	}
	if req.Mode != nil {
		if !validMode(*req.Mode) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "Mode must be blocklist, allowlist or audit",
			})
		}
		policy.Mode = *req.Mode
	}
	if req.TargetType != nil {
		if !validTargetType(*req.TargetType) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "Target type must be all, devices or group",
			})
		}
		policy.TargetType = *req.TargetType
	}
	applyPolicyOptions(&policy, &req)

	if err := h.db.Create(&policy).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to create policy",
		})
	}

	if err := h.audit.RecordErr(services.AuditEntry{
		OrgID:    policy.OrgID,
		PolicyID: &policy.ID,
		Action:   "policy_created",
		Actor:    actor(c),
		Details:  map[string]interface{}{"name": policy.Name, "mode": policy.Mode},
	}); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Policy created but audit write failed",
		})
	}

	// Immediate feedback: kick an evaluation of the new policy right away.
	h.scans.TriggerScan(services.ScanRequest{PolicyID: policy.ID})

	surviving := len(services.NormalizeRules(policy.ParseRules()))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"policy":          policy,
		"effective_rules": surviving,
	})
}

func (h *PolicyHandler) UpdatePolicy(c *fiber.Ctx) error {
	policy := h.loadPolicy(c)
	if policy == nil {
		return nil
	}

	var req policyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	if req.Name != nil && *req.Name != "" {
		policy.Name = *req.Name
	}
	if req.Mode != nil {
		if !validMode(*req.Mode) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "Mode must be blocklist, allowlist or audit",
			})
		}
		policy.Mode = *req.Mode
	}
	if req.TargetType != nil {
		if !validTargetType(*req.TargetType) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   true,
				"message": "Target type must be all, devices or group",
			})
		}
		policy.TargetType = *req.TargetType
	}
	if req.IsActive != nil {
		policy.IsActive = *req.IsActive
	}
	applyPolicyOptions(policy, &req)

	if err := h.db.Save(policy).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update policy",
		})
	}

	if err := h.audit.RecordErr(services.AuditEntry{
		OrgID:    policy.OrgID,
		PolicyID: &policy.ID,
		Action:   "policy_updated",
		Actor:    actor(c),
	}); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Policy updated but audit write failed",
		})
	}

	if policy.IsActive {
		h.scans.TriggerScan(services.ScanRequest{PolicyID: policy.ID})
	}
	return c.JSON(policy)
}

// DeletePolicy soft-deletes: the policy disappears from listings and sweeps,
// but its compliance history rows are never touched.
func (h *PolicyHandler) DeletePolicy(c *fiber.Ctx) error {
	policy := h.loadPolicy(c)
	if policy == nil {
		return nil
	}

	if err := h.db.Model(policy).Update("is_active", false).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to deactivate policy",
		})
	}
	if err := h.db.Delete(policy).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete policy",
		})
	}

	if err := h.audit.RecordErr(services.AuditEntry{
		OrgID:    policy.OrgID,
		PolicyID: &policy.ID,
		Action:   "policy_deleted",
		Actor:    actor(c),
	}); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Policy deleted but audit write failed",
		})
	}

	return c.JSON(fiber.Map{"deleted": true})
}

// TriggerScan queues an on-demand scan of one policy.
func (h *PolicyHandler) TriggerScan(c *fiber.Ctx) error {
	policy := h.loadPolicy(c)
	if policy == nil {
		return nil
	}

	if !h.scans.TriggerScan(services.ScanRequest{PolicyID: policy.ID}) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   true,
			"message": "Scan queue is full, try again shortly",
		})
	}

	h.audit.Record(services.AuditEntry{
		OrgID:    policy.OrgID,
		PolicyID: &policy.ID,
		Action:   "scan_requested",
		Actor:    actor(c),
	})
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
}

// ListCompliance returns the per-device compliance rows for one policy.
func (h *PolicyHandler) ListCompliance(c *fiber.Ctx) error {
	policy := h.loadPolicy(c)
	if policy == nil {
		return nil
	}

	var rows []models.ComplianceStatus
	if err := h.db.Where("policy_id = ? AND org_id = ?", policy.ID, policy.OrgID).
		Order("updated_at DESC").
		Find(&rows).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list compliance status",
		})
	}
	return c.JSON(fiber.Map{"compliance": rows})
}

// RemediateDevice runs the evaluate/decide/submit chain synchronously for one
// device so the operator gets immediate feedback, then leaves the rest to the
// schedulers.
func (h *PolicyHandler) RemediateDevice(c *fiber.Ctx) error {
	policy := h.loadPolicy(c)
	if policy == nil {
		return nil
	}

	deviceID, parseErr := uuid.Parse(c.Params("deviceId"))
	if parseErr != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid device ID",
		})
	}

	var device models.Device
	if err := h.db.First(&device, "id = ? AND org_id = ?", deviceID, policy.OrgID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Device not found",
		})
	}

	ctx := context.Background()
	inventory, invErr := h.inventory.Inventory(ctx, device.ID)
	if invErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to load device inventory",
		})
	}

	now := time.Now().UTC()
	rules := services.NormalizeRules(policy.ParseRules())
	violations := services.Evaluate(policy.Mode, rules, policy.AllowUnknown, inventory, now)

	var cs models.ComplianceStatus
	if err := h.db.Where("policy_id = ? AND device_id = ?", policy.ID, device.ID).
		First(&cs).Error; err != nil {
		cs = models.ComplianceStatus{OrgID: policy.OrgID, PolicyID: policy.ID, DeviceID: device.ID}
		if err := h.db.Create(&cs).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   true,
				"message": "Failed to create compliance row",
			})
		}
	}
	violations = services.CarryDetectedAt(cs.ParseViolations(), violations)

	if len(violations) == 0 {
		return c.JSON(fiber.Map{"queued": false, "reason": "device is compliant"})
	}

	decision := services.Decide(violations, cs.RemediationStatus, cs.LastRemediationAttempt, now,
		policy.GracePeriodHours, policy.CooldownMinutes)
	if !decision.Queue {
		return c.JSON(fiber.Map{"queued": false, "reason": decision.Reason})
	}

	if err := h.remediation.Submit(ctx, policy, &cs, violations[0]); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to submit remediation: " + err.Error(),
		})
	}

	h.audit.Record(services.AuditEntry{
		OrgID:    policy.OrgID,
		PolicyID: &policy.ID,
		DeviceID: &device.ID,
		Action:   "manual_remediation_requested",
		Actor:    actor(c),
		Details:  map[string]interface{}{"software": violations[0].SoftwareName},
	})
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": true})
}

// loadPolicy resolves the :id param within the caller's org. On failure the
// response has already been written and nil is returned.
func (h *PolicyHandler) loadPolicy(c *fiber.Ctx) *models.Policy {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid policy ID",
		})
		return nil
	}

	var policy models.Policy
	if err := h.db.First(&policy, "id = ? AND org_id = ?", id, middleware.OrgID(c)).Error; err != nil {
		c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Policy not found",
		})
		return nil
	}
	return &policy
}

func applyPolicyOptions(policy *models.Policy, req *policyRequest) {
	if req.Rules != nil {
		if b, err := json.Marshal(req.Rules); err == nil {
			policy.Rules = datatypes.JSON(b)
		}
	}
	if req.TargetIDs != nil {
		if b, err := json.Marshal(req.TargetIDs); err == nil {
			policy.TargetIDs = datatypes.JSON(b)
		}
	}
	if req.AllowUnknown != nil {
		policy.AllowUnknown = *req.AllowUnknown
	}
	if req.AutoUninstallEnabled != nil {
		policy.AutoUninstallEnabled = *req.AutoUninstallEnabled
	}
	if req.GracePeriodHours != nil && *req.GracePeriodHours >= 0 {
		policy.GracePeriodHours = *req.GracePeriodHours
	}
	if req.CooldownMinutes != nil && *req.CooldownMinutes >= 0 {
		policy.CooldownMinutes = *req.CooldownMinutes
	}
}

func actor(c *fiber.Ctx) string {
	username, _ := c.Locals("username").(string)
	if username == "" {
		return "system"
	}
	return username
}
