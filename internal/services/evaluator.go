package services

import (
	"time"

	"github.com/wardenhq/warden/internal/models"
)

// Evaluate matches one device's inventory against a policy's normalized rules
// and returns the violations. It is a pure classifier: whether remediation is
// queued for the result is the scan scheduler's call, not the evaluator's.
//
// Determinism matters here: the same (mode, rules, inventory) input must yield
// an identical violation list, order included, because the remediation dedup
// logic downstream keys off it. Violations are emitted in inventory order.
//
// DetectedAt is set to now for every violation; callers merge timestamps of
// persisting violations via CarryDetectedAt so grace periods elapse instead of
// resetting on every sweep.
func Evaluate(mode string, rules []Rule, allowUnknown bool, inventory []models.DeviceSoftware, now time.Time) []models.Violation {
	violations := make([]models.Violation, 0)

	switch mode {
	case models.PolicyModeBlocklist, models.PolicyModeAudit:
		severity := models.SeverityCritical
		if mode == models.PolicyModeAudit {
			// Audit mode observes, it never escalates.
			severity = models.SeverityMedium
		}
		for _, item := range inventory {
			for _, rule := range rules {
				if rule.Matches(item.Name, item.Vendor) {
					violations = append(violations, models.Violation{
						Type:            models.ViolationTypeUnauthorized,
						SoftwareName:    item.Name,
						SoftwareVersion: item.Version,
						Severity:        severity,
						Reason:          rule.Reason,
						DetectedAt:      now,
					})
					break
				}
			}
		}

	case models.PolicyModeAllowlist:
		if allowUnknown {
			return violations
		}
		for _, item := range inventory {
			allowed := false
			for _, rule := range rules {
				if rule.Matches(item.Name, item.Vendor) {
					allowed = true
					break
				}
			}
			if !allowed {
				violations = append(violations, models.Violation{
					Type:            models.ViolationTypeUnauthorized,
					SoftwareName:    item.Name,
					SoftwareVersion: item.Version,
					Severity:        models.SeverityMedium,
					DetectedAt:      now,
				})
			}
		}
	}

	return violations
}

// CarryDetectedAt preserves the original detection timestamp for violations
// that persist across evaluations (same type, software name and version).
// Without this a flapping scan loop would reset every grace period.
func CarryDetectedAt(previous, current []models.Violation) []models.Violation {
	if len(previous) == 0 || len(current) == 0 {
		return current
	}

	type key struct {
		typ, name, version string
	}
	seen := make(map[key]time.Time, len(previous))
	for _, v := range previous {
		k := key{v.Type, v.SoftwareName, v.SoftwareVersion}
		if first, ok := seen[k]; !ok || v.DetectedAt.Before(first) {
			seen[k] = v.DetectedAt
		}
	}

	for i, v := range current {
		if first, ok := seen[key{v.Type, v.SoftwareName, v.SoftwareVersion}]; ok {
			current[i].DetectedAt = first
		}
	}
	return current
}
