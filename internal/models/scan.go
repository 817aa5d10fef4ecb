package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ScanScheduled = "scheduled"
	ScanRunning   = "running"
	ScanCompleted = "completed"
	ScanFailed    = "failed"
)

const (
	ScanTriggerScheduled    = "scheduled"
	ScanTriggerManual       = "manual"
	ScanTriggerVerification = "verification"
)

// ScanJob records one evaluation sweep. PolicyID/DeviceID narrow the scope;
// both nil means a full sweep over every active policy.
type ScanJob struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PolicyID   *uuid.UUID     `gorm:"type:uuid;index" json:"policy_id"`
	DeviceID   *uuid.UUID     `gorm:"type:uuid" json:"device_id"`
	Trigger    string         `gorm:"not null" json:"trigger"`            // scheduled, manual, verification
	Status     string         `gorm:"default:'scheduled'" json:"status"` // scheduled, running, completed, failed
	Stats      datatypes.JSON `gorm:"type:jsonb" json:"stats"`
	Error      string         `gorm:"type:text" json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (j *ScanJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
