package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wardenhq/warden/internal/models"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScanRequest narrows an on-demand scan. A zero PolicyID means every active
// policy; a zero DeviceID means every resolved target.
type ScanRequest struct {
	PolicyID uuid.UUID
	DeviceID uuid.UUID
	Trigger  string
}

// ScanScheduler runs the reconciliation sweep: resolve targets, evaluate each
// device's inventory, persist compliance rows, and hand queue-worthy
// violations to the remediation scheduler. Per-device fan-out is bounded and
// failure-isolated: one bad device never aborts the batch.
type ScanScheduler struct {
	db          *gorm.DB
	audit       *AuditService
	resolver    *TargetResolver
	inventory   InventoryProvider
	remediation *RemediationScheduler
	interval    time.Duration
	workers     int

	trigger chan ScanRequest
	stop    chan struct{}
}

func NewScanScheduler(db *gorm.DB, audit *AuditService, resolver *TargetResolver,
	inventory InventoryProvider, remediation *RemediationScheduler,
	interval time.Duration, workers int) *ScanScheduler {

	if workers < 1 {
		workers = 1
	}
	return &ScanScheduler{
		db:          db,
		audit:       audit,
		resolver:    resolver,
		inventory:   inventory,
		remediation: remediation,
		interval:    interval,
		workers:     workers,
		trigger:     make(chan ScanRequest, 64),
		stop:        make(chan struct{}),
	}
}

func (s *ScanScheduler) Start() {
	go s.loop()
	slog.Info("Scan scheduler started", "interval", s.interval, "workers", s.workers)
}

func (s *ScanScheduler) Stop() {
	close(s.stop)
	slog.Info("Scan scheduler stopped")
}

// TriggerScan queues an on-demand scan. Returns false when the queue is full.
func (s *ScanScheduler) TriggerScan(req ScanRequest) bool {
	if req.Trigger == "" {
		req.Trigger = models.ScanTriggerManual
	}
	select {
	case s.trigger <- req:
		return true
	default:
		slog.Warn("Scan trigger queue full, request dropped", "policy", req.PolicyID)
		return false
	}
}

// TriggerVerification queues the single-device follow-up scan that confirms a
// remediation actually converged the device.
func (s *ScanScheduler) TriggerVerification(policyID, deviceID uuid.UUID) {
	s.TriggerScan(ScanRequest{
		PolicyID: policyID,
		DeviceID: deviceID,
		Trigger:  models.ScanTriggerVerification,
	})
}

func (s *ScanScheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial sweep on startup
	s.runScan(ScanRequest{Trigger: models.ScanTriggerScheduled})

	for {
		select {
		case <-ticker.C:
			s.runScan(ScanRequest{Trigger: models.ScanTriggerScheduled})
		case req := <-s.trigger:
			s.runScan(req)
		case <-s.stop:
			return
		}
	}
}

// runScan drives one ScanJob through scheduled -> running -> completed|failed.
func (s *ScanScheduler) runScan(req ScanRequest) {
	job := models.ScanJob{
		Trigger: req.Trigger,
		Status:  models.ScanScheduled,
	}
	if req.PolicyID != uuid.Nil {
		id := req.PolicyID
		job.PolicyID = &id
	}
	if req.DeviceID != uuid.Nil {
		id := req.DeviceID
		job.DeviceID = &id
	}
	if err := s.db.Create(&job).Error; err != nil {
		slog.Error("Failed to create scan job", "error", err)
		return
	}

	now := time.Now().UTC()
	s.db.Model(&job).Updates(map[string]interface{}{"status": models.ScanRunning, "started_at": now})

	policies, err := s.loadPolicies(req)
	if err != nil {
		s.finishScan(&job, models.ScanFailed, nil, err)
		return
	}

	stats := map[string]int{"policies": len(policies)}
	ctx := context.Background()
	for i := range policies {
		evaluated, failed := s.scanPolicy(ctx, &policies[i], req)
		stats["devices_evaluated"] += evaluated
		stats["devices_failed"] += failed
	}

	s.finishScan(&job, models.ScanCompleted, stats, nil)
}

func (s *ScanScheduler) loadPolicies(req ScanRequest) ([]models.Policy, error) {
	q := s.db.Where("is_active = ?", true)
	if req.PolicyID != uuid.Nil {
		q = q.Where("id = ?", req.PolicyID)
	}
	var policies []models.Policy
	if err := q.Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("load active policies: %w", err)
	}
	return policies, nil
}

// scanPolicy evaluates every targeted device under a bounded worker group.
// Failures are collected per device, not propagated.
func (s *ScanScheduler) scanPolicy(ctx context.Context, policy *models.Policy, req ScanRequest) (evaluated, failed int) {
	targets, err := s.resolver.Resolve(policy)
	if err != nil {
		slog.Error("Target resolution failed", "policy", policy.ID, "error", err)
		return 0, 0
	}

	if req.DeviceID != uuid.Nil {
		narrowed := targets[:0]
		for _, id := range targets {
			if id == req.DeviceID {
				narrowed = append(narrowed, id)
			}
		}
		targets = narrowed
	}

	rules := NormalizeRules(policy.ParseRules())
	if len(rules) == 0 && policy.Mode != models.PolicyModeAllowlist {
		slog.Warn("Policy has no usable rules after normalization", "policy", policy.ID, "name", policy.Name)
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	results := make([]error, len(targets))

	for i, deviceID := range targets {
		i, deviceID := i, deviceID
		g.Go(func() error {
			results[i] = s.evaluateDevice(ctx, policy, rules, deviceID)
			return nil
		})
	}
	g.Wait()

	for i, err := range results {
		if err != nil {
			failed++
			slog.Error("Device evaluation failed",
				"policy", policy.ID,
				"device", targets[i],
				"error", err,
			)
		} else {
			evaluated++
		}
	}
	return evaluated, failed
}

func (s *ScanScheduler) evaluateDevice(ctx context.Context, policy *models.Policy, rules []Rule, deviceID uuid.UUID) error {
	inventory, err := s.inventory.Inventory(ctx, deviceID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	var cs models.ComplianceStatus
	err = s.db.WithContext(ctx).
		Where("policy_id = ? AND device_id = ?", policy.ID, deviceID).
		First(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cs = models.ComplianceStatus{
			OrgID:    policy.OrgID,
			PolicyID: policy.ID,
			DeviceID: deviceID,
		}
		if err := s.db.WithContext(ctx).Create(&cs).Error; err != nil {
			return fmt.Errorf("create compliance row: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("load compliance row: %w", err)
	}

	violations := Evaluate(policy.Mode, rules, policy.AllowUnknown, inventory, now)
	violations = CarryDetectedAt(cs.ParseViolations(), violations)

	status := models.ComplianceCompliant
	if len(violations) > 0 {
		status = models.ComplianceNonCompliant
	}

	encoded, err := json.Marshal(violations)
	if err != nil {
		return fmt.Errorf("encode violations: %w", err)
	}

	// Only the evaluator-owned columns are written here; the remediation
	// scheduler owns the remediation_* columns.
	if err := s.db.WithContext(ctx).Model(&models.ComplianceStatus{}).
		Where("id = ?", cs.ID).
		Updates(map[string]interface{}{
			"status":            status,
			"violations":        datatypes.JSON(encoded),
			"last_evaluated_at": now,
		}).Error; err != nil {
		return fmt.Errorf("update compliance row: %w", err)
	}
	cs.Status = status
	cs.Violations = datatypes.JSON(encoded)

	// Audit-mode violations are observed, never remediated; the short-circuit
	// lives here so the evaluator stays a pure classifier.
	if len(violations) == 0 || !policy.AutoUninstallEnabled || policy.Mode == models.PolicyModeAudit {
		return nil
	}

	decision := Decide(violations, cs.RemediationStatus, cs.LastRemediationAttempt, now,
		policy.GracePeriodHours, policy.CooldownMinutes)
	if !decision.Queue {
		slog.Debug("Remediation not queued",
			"policy", policy.ID,
			"device", deviceID,
			"reason", decision.Reason,
		)
		return nil
	}

	if err := s.remediation.Submit(ctx, policy, &cs, violations[0]); err != nil {
		return fmt.Errorf("submit remediation: %w", err)
	}
	return nil
}

func (s *ScanScheduler) finishScan(job *models.ScanJob, status string, stats map[string]int, cause error) {
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": time.Now().UTC(),
	}
	if stats != nil {
		if b, err := json.Marshal(stats); err == nil {
			updates["stats"] = datatypes.JSON(b)
		}
	}
	if cause != nil {
		updates["error"] = cause.Error()
		slog.Error("Scan failed", "scan", job.ID, "error", cause)
	}
	if err := s.db.Model(job).Updates(updates).Error; err != nil {
		slog.Error("Failed to finish scan job", "scan", job.ID, "error", err)
	}
}
