package services

import (
	"time"

	"github.com/wardenhq/warden/internal/models"
)

const (
	ReasonInProgress  = "in_progress"
	ReasonGracePeriod = "grace_period"
	ReasonCooldown    = "cooldown"
)

// Decision is the outcome of the remediation decision engine.
type Decision struct {
	Queue  bool
	Reason string
}

// Decide determines whether a remediation should be queued now for a device
// with the given violations. Pure function, no I/O. Guards are evaluated in
// order and the first match wins:
//
//  1. a pending/in-progress remediation blocks a second one
//  2. the grace period must have elapsed since the most recent detection
//  3. the cooldown since the last attempt must have elapsed
//
// A zero gracePeriodHours or cooldownMinutes disables that guard entirely.
func Decide(violations []models.Violation, previousRemediationStatus string, lastRemediationAttempt *time.Time,
	now time.Time, gracePeriodHours, cooldownMinutes int) Decision {

	if previousRemediationStatus == models.RemediationPending || previousRemediationStatus == models.RemediationInProgress {
		return Decision{Queue: false, Reason: ReasonInProgress}
	}

	if gracePeriodHours > 0 {
		if latest, ok := latestDetection(violations); ok {
			if now.Sub(latest) < time.Duration(gracePeriodHours)*time.Hour {
				return Decision{Queue: false, Reason: ReasonGracePeriod}
			}
		}
	}

	if cooldownMinutes > 0 && lastRemediationAttempt != nil {
		if now.Sub(*lastRemediationAttempt) < time.Duration(cooldownMinutes)*time.Minute {
			return Decision{Queue: false, Reason: ReasonCooldown}
		}
	}

	return Decision{Queue: true}
}

func latestDetection(violations []models.Violation) (time.Time, bool) {
	var latest time.Time
	for _, v := range violations {
		if v.DetectedAt.After(latest) {
			latest = v.DetectedAt
		}
	}
	return latest, !latest.IsZero()
}
