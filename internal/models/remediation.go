package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	JobWaiting   = "waiting"
	JobActive    = "active"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// RemediationJob is the dedup record for one in-flight uninstall. Job identity
// is (DeviceID, PolicyID): at most one non-terminal job may exist per pair.
type RemediationJob struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID              uuid.UUID  `gorm:"type:uuid;not null;index" json:"org_id"`
	PolicyID           uuid.UUID  `gorm:"type:uuid;not null;index:idx_job_device_policy" json:"policy_id"`
	DeviceID           uuid.UUID  `gorm:"type:uuid;not null;index:idx_job_device_policy" json:"device_id"`
	ComplianceStatusID uuid.UUID  `gorm:"type:uuid;not null" json:"compliance_status_id"`
	SoftwareName       string     `gorm:"not null" json:"software_name"`
	SoftwareVersion    string     `json:"software_version,omitempty"`
	Status             string     `gorm:"default:'waiting'" json:"status"` // waiting, active, completed, failed
	Attempts           int        `gorm:"default:0" json:"attempts"`
	CommandID          *uuid.UUID `gorm:"type:uuid" json:"command_id"`
	LastError          string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (j *RemediationJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// Terminal reports whether the job can no longer transition.
func (j *RemediationJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
