package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wardenhq/warden/internal/models"
)

func violationDetectedAt(at time.Time) []models.Violation {
	return []models.Violation{{
		Type:         models.ViolationTypeUnauthorized,
		SoftwareName: "TeamViewer",
		Severity:     models.SeverityCritical,
		DetectedAt:   at,
	}}
}

func TestDecideQueuesWhenNoGuardApplies(t *testing.T) {
	now := time.Now().UTC()
	d := Decide(violationDetectedAt(now.Add(-48*time.Hour)), "", nil, now, 24, 120)

	assert.True(t, d.Queue)
	assert.Empty(t, d.Reason)
}

func TestDecideInProgressBlocks(t *testing.T) {
	now := time.Now().UTC()

	for _, status := range []string{models.RemediationPending, models.RemediationInProgress} {
		d := Decide(violationDetectedAt(now.Add(-48*time.Hour)), status, nil, now, 0, 0)
		assert.False(t, d.Queue, "status %q", status)
		assert.Equal(t, ReasonInProgress, d.Reason)
	}
}

func TestDecideInProgressWinsOverOtherGuards(t *testing.T) {
	now := time.Now().UTC()
	attempt := now.Add(-time.Minute)

	// Grace period and cooldown would both block too; in-progress is reported.
	d := Decide(violationDetectedAt(now.Add(-time.Hour)), models.RemediationInProgress, &attempt, now, 24, 120)

	assert.False(t, d.Queue)
	assert.Equal(t, ReasonInProgress, d.Reason)
}

func TestDecideGracePeriod(t *testing.T) {
	now := time.Now().UTC()

	d := Decide(violationDetectedAt(now.Add(-1*time.Hour)), "", nil, now, 24, 0)
	assert.False(t, d.Queue)
	assert.Equal(t, ReasonGracePeriod, d.Reason)

	d = Decide(violationDetectedAt(now.Add(-25*time.Hour)), "", nil, now, 24, 0)
	assert.True(t, d.Queue)
}

func TestDecideGracePeriodUsesLatestDetection(t *testing.T) {
	now := time.Now().UTC()
	violations := []models.Violation{
		{SoftwareName: "TeamViewer", DetectedAt: now.Add(-30 * time.Hour)},
		{SoftwareName: "AnyDesk", DetectedAt: now.Add(-2 * time.Hour)},
	}

	d := Decide(violations, "", nil, now, 24, 0)

	assert.False(t, d.Queue, "the newest violation is still inside its grace period")
	assert.Equal(t, ReasonGracePeriod, d.Reason)
}

func TestDecideCooldown(t *testing.T) {
	now := time.Now().UTC()
	detected := now.Add(-48 * time.Hour)

	recent := now.Add(-30 * time.Minute)
	d := Decide(violationDetectedAt(detected), models.RemediationFailed, &recent, now, 0, 120)
	assert.False(t, d.Queue)
	assert.Equal(t, ReasonCooldown, d.Reason)

	stale := now.Add(-121 * time.Minute)
	d = Decide(violationDetectedAt(detected), models.RemediationFailed, &stale, now, 0, 120)
	assert.True(t, d.Queue)
}

func TestDecideZeroDisablesGuards(t *testing.T) {
	now := time.Now().UTC()
	justNow := now.Add(-time.Second)

	// Freshly detected, just attempted: both guards disabled means queue.
	d := Decide(violationDetectedAt(justNow), models.RemediationFailed, &justNow, now, 0, 0)

	assert.True(t, d.Queue)
}

func TestDecideNilLastAttemptSkipsCooldown(t *testing.T) {
	now := time.Now().UTC()
	d := Decide(violationDetectedAt(now.Add(-48*time.Hour)), "", nil, now, 0, 120)

	assert.True(t, d.Queue)
}
