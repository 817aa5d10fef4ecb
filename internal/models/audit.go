package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditRecord is append-only: no update or delete path exists anywhere.
type AuditRecord struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"org_id"`
	PolicyID  *uuid.UUID     `gorm:"type:uuid;index" json:"policy_id"`
	DeviceID  *uuid.UUID     `gorm:"type:uuid;index" json:"device_id"`
	Action    string         `gorm:"not null" json:"action"` // policy_created, scan_started, remediation_queued, job_deduped, ...
	Actor     string         `gorm:"not null" json:"actor"`  // username or "system"
	Details   datatypes.JSON `gorm:"type:jsonb" json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

func (r *AuditRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
