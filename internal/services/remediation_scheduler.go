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
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RemediationScheduler turns a queue decision into exactly one in-flight
// uninstall dispatch per (device, policy) pair.
//
// It is the only writer of ComplianceStatus.RemediationStatus /
// LastRemediationAttempt / RemediationErrors. That single-writer rule is what
// lets the status field stand in for a lock; a second writer would silently
// reintroduce the duplicate-dispatch race.
type RemediationScheduler struct {
	db          *gorm.DB
	audit       *AuditService
	dispatcher  Dispatcher
	maxAttempts int
	backoff     time.Duration

	// Verify schedules a single-device verification scan after a successful
	// uninstall. Wired to the scan scheduler in main.
	Verify func(policyID, deviceID uuid.UUID)
}

func NewRemediationScheduler(db *gorm.DB, audit *AuditService, dispatcher Dispatcher, maxAttempts int, backoff time.Duration) *RemediationScheduler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RemediationScheduler{
		db:          db,
		audit:       audit,
		dispatcher:  dispatcher,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// Submit creates and dispatches a remediation for the first violation on the
// compliance row. Job identity is (DeviceID, PolicyID): if a job under that
// identity is still unfinished the submission is deduped; a terminal record is
// discarded so a fresh violation gets a fresh attempt.
func (s *RemediationScheduler) Submit(ctx context.Context, policy *models.Policy, cs *models.ComplianceStatus, violation models.Violation) (err error) {
	var existing models.RemediationJob
	lookupErr := s.db.WithContext(ctx).
		Where("device_id = ? AND policy_id = ?", cs.DeviceID, cs.PolicyID).
		Order("created_at DESC").
		First(&existing).Error

	switch {
	case lookupErr == nil && !existing.Terminal():
		s.audit.Record(AuditEntry{
			OrgID:    cs.OrgID,
			PolicyID: &cs.PolicyID,
			DeviceID: &cs.DeviceID,
			Action:   "job_deduped",
			Details:  map[string]interface{}{"existing_job": existing.ID, "status": existing.Status},
		})
		return nil
	case lookupErr == nil:
		// Terminal jobs must not block forever: discard and submit fresh.
		if err := s.db.WithContext(ctx).Delete(&existing).Error; err != nil {
			return fmt.Errorf("discard stale job: %w", err)
		}
	case !errors.Is(lookupErr, gorm.ErrRecordNotFound):
		return fmt.Errorf("job lookup: %w", lookupErr)
	}

	job := models.RemediationJob{
		OrgID:              cs.OrgID,
		PolicyID:           cs.PolicyID,
		DeviceID:           cs.DeviceID,
		ComplianceStatusID: cs.ID,
		SoftwareName:       violation.SoftwareName,
		SoftwareVersion:    violation.SoftwareVersion,
		Status:             models.JobWaiting,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return fmt.Errorf("create remediation job: %w", err)
	}

	// The in_progress write happens before dispatch: it closes the window in
	// which a concurrent sweep could queue a second remediation.
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&models.ComplianceStatus{}).
		Where("id = ?", cs.ID).
		Updates(map[string]interface{}{
			"remediation_status":       models.RemediationInProgress,
			"last_remediation_attempt": now,
		}).Error; err != nil {
		return fmt.Errorf("mark remediation in progress: %w", err)
	}
	cs.RemediationStatus = models.RemediationInProgress
	cs.LastRemediationAttempt = &now

	// From here on, any failure (or panic) must reset the row to failed.
	// Without this, one infrastructure blip leaves the device stuck at
	// in_progress and permanently blocked from remediation.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("remediation dispatch panicked: %v", r)
		}
		if err != nil {
			s.markFailed(&job, cs, violation.SoftwareName, err)
		}
	}()

	cmd, err := NewUninstallCommand(cs.OrgID, cs.DeviceID, models.UninstallPayload{
		Name:               violation.SoftwareName,
		Version:            violation.SoftwareVersion,
		PolicyID:           cs.PolicyID,
		ComplianceStatusID: cs.ID,
	})
	if err != nil {
		return err
	}

	if err = s.dispatchWithRetry(ctx, &job, cmd); err != nil {
		return err
	}

	if err = s.db.WithContext(ctx).Model(&job).Updates(map[string]interface{}{
		"status":     models.JobActive,
		"command_id": cmd.ID,
	}).Error; err != nil {
		return fmt.Errorf("activate job: %w", err)
	}

	s.audit.Record(AuditEntry{
		OrgID:    cs.OrgID,
		PolicyID: &cs.PolicyID,
		DeviceID: &cs.DeviceID,
		Action:   "remediation_dispatched",
		Details: map[string]interface{}{
			"job":      job.ID,
			"command":  cmd.ID,
			"software": violation.SoftwareName,
		},
	})
	return nil
}

// dispatchWithRetry retries the submission itself, not the business decision:
// bounded attempts with exponential backoff for transient infrastructure
// failures only.
func (s *RemediationScheduler) dispatchWithRetry(ctx context.Context, job *models.RemediationJob, cmd *models.RemoteCommand) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.db.Model(job).Update("attempts", attempt)

		if lastErr = s.dispatcher.Dispatch(ctx, cmd); lastErr == nil {
			return nil
		}

		slog.Warn("Remediation dispatch attempt failed",
			"job", job.ID,
			"attempt", attempt,
			"error", lastErr,
		)

		if attempt == s.maxAttempts {
			break
		}
		wait := s.backoff * time.Duration(1<<(attempt-1))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("dispatch canceled: %w", ctx.Err())
		}
	}
	return fmt.Errorf("dispatch failed after %d attempt(s): %w", s.maxAttempts, lastErr)
}

// HandleResult applies the agent's command result to the job and the
// compliance row, and kicks off the verification scan on success.
func (s *RemediationScheduler) HandleResult(ctx context.Context, cmd *models.RemoteCommand, result models.CommandResult) error {
	var job models.RemediationJob
	if err := s.db.WithContext(ctx).Where("command_id = ?", cmd.ID).First(&job).Error; err != nil {
		return fmt.Errorf("job for command %s: %w", cmd.ID, err)
	}

	if result.Status == models.CommandCompleted {
		if err := s.db.WithContext(ctx).Model(&job).Update("status", models.JobCompleted).Error; err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if err := s.db.WithContext(ctx).Model(&models.ComplianceStatus{}).
			Where("id = ?", job.ComplianceStatusID).
			Updates(map[string]interface{}{
				"remediation_status": models.RemediationCompleted,
				"remediation_errors": nil,
			}).Error; err != nil {
			return fmt.Errorf("complete compliance row: %w", err)
		}

		s.audit.Record(AuditEntry{
			OrgID:    job.OrgID,
			PolicyID: &job.PolicyID,
			DeviceID: &job.DeviceID,
			Action:   "remediation_completed",
			Details:  map[string]interface{}{"job": job.ID, "software": job.SoftwareName},
		})

		if s.Verify != nil {
			s.Verify(job.PolicyID, job.DeviceID)
		}
		return nil
	}

	message := result.Error
	if message == "" {
		message = fmt.Sprintf("uninstall exited with code %d", result.ExitCode)
	}
	if err := s.db.WithContext(ctx).Model(&job).Updates(map[string]interface{}{
		"status":     models.JobFailed,
		"last_error": message,
	}).Error; err != nil {
		return fmt.Errorf("fail job: %w", err)
	}

	var cs models.ComplianceStatus
	if err := s.db.WithContext(ctx).First(&cs, "id = ?", job.ComplianceStatusID).Error; err != nil {
		return fmt.Errorf("compliance row for job %s: %w", job.ID, err)
	}
	s.appendRemediationError(&cs, job.SoftwareName, message)

	s.audit.Record(AuditEntry{
		OrgID:    job.OrgID,
		PolicyID: &job.PolicyID,
		DeviceID: &job.DeviceID,
		Action:   "remediation_failed",
		Details:  map[string]interface{}{"job": job.ID, "software": job.SoftwareName, "error": message},
	})
	return nil
}

// markFailed resets the compliance row after a dispatch failure so the device
// is never left stuck at in_progress.
func (s *RemediationScheduler) markFailed(job *models.RemediationJob, cs *models.ComplianceStatus, software string, cause error) {
	slog.Error("Remediation submission failed",
		"job", job.ID,
		"device", job.DeviceID,
		"policy", job.PolicyID,
		"error", cause,
	)

	if err := s.db.Model(job).Updates(map[string]interface{}{
		"status":     models.JobFailed,
		"last_error": cause.Error(),
	}).Error; err != nil {
		slog.Error("Failed to mark job failed", "job", job.ID, "error", err)
	}

	s.appendRemediationError(cs, software, cause.Error())

	s.audit.Record(AuditEntry{
		OrgID:    job.OrgID,
		PolicyID: &job.PolicyID,
		DeviceID: &job.DeviceID,
		Action:   "remediation_failed",
		Details:  map[string]interface{}{"job": job.ID, "software": software, "error": cause.Error()},
	})
}

func (s *RemediationScheduler) appendRemediationError(cs *models.ComplianceStatus, software, message string) {
	errs := cs.ParseRemediationErrors()
	errs = append(errs, models.RemediationError{SoftwareName: software, Message: message})
	encoded, marshalErr := json.Marshal(errs)
	if marshalErr != nil {
		encoded = []byte(`[]`)
	}

	if err := s.db.Model(&models.ComplianceStatus{}).
		Where("id = ?", cs.ID).
		Updates(map[string]interface{}{
			"remediation_status": models.RemediationFailed,
			"remediation_errors": datatypes.JSON(encoded),
		}).Error; err != nil {
		slog.Error("Failed to record remediation error", "compliance", cs.ID, "error", err)
	}
	cs.RemediationStatus = models.RemediationFailed
	cs.RemediationErrors = datatypes.JSON(encoded)
}
