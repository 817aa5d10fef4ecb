package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ComplianceCompliant    = "compliant"
	ComplianceNonCompliant = "non_compliant"
)

const (
	ViolationTypeUnauthorized = "unauthorized"
	// ViolationTypeMissing is reserved for required-software-absent detection.
	// No evaluator path produces it today.
	ViolationTypeMissing = "missing"
)

const (
	SeverityCritical = "critical"
	SeverityMedium   = "medium"
)

const (
	RemediationPending    = "pending"
	RemediationInProgress = "in_progress"
	RemediationCompleted  = "completed"
	RemediationFailed     = "failed"
)

type Violation struct {
	Type            string    `json:"type"` // unauthorized, missing
	SoftwareName    string    `json:"software_name"`
	SoftwareVersion string    `json:"software_version,omitempty"`
	Severity        string    `json:"severity"` // critical, medium
	Reason          string    `json:"reason,omitempty"`
	DetectedAt      time.Time `json:"detected_at"`
}

type RemediationError struct {
	SoftwareName string `json:"software_name"`
	Message      string `json:"message"`
}

// ComplianceStatus is one row per device x policy. The evaluator owns
// Status/Violations/LastEvaluatedAt; the remediation scheduler owns
// RemediationStatus/LastRemediationAttempt/RemediationErrors. The two writers
// never touch each other's columns. The RemediationStatus field doubles as
// the in-flight lock, so adding another writer to it reintroduces a race.
type ComplianceStatus struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID    uuid.UUID `gorm:"type:uuid;not null;index" json:"org_id"`
	PolicyID uuid.UUID `gorm:"type:uuid;not null;index:idx_compliance_policy_device,unique" json:"policy_id"`
	DeviceID uuid.UUID `gorm:"type:uuid;not null;index:idx_compliance_policy_device,unique" json:"device_id"`

	Status          string         `gorm:"default:'compliant'" json:"status"` // compliant, non_compliant
	Violations      datatypes.JSON `gorm:"type:jsonb" json:"violations"`
	LastEvaluatedAt *time.Time     `json:"last_evaluated_at"`

	RemediationStatus      string         `gorm:"default:''" json:"remediation_status"` // '', pending, in_progress, completed, failed
	LastRemediationAttempt *time.Time     `json:"last_remediation_attempt"`
	RemediationErrors      datatypes.JSON `gorm:"type:jsonb" json:"remediation_errors"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *ComplianceStatus) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *ComplianceStatus) ParseViolations() []Violation {
	var out []Violation
	if len(s.Violations) == 0 {
		return out
	}
	if err := json.Unmarshal(s.Violations, &out); err != nil {
		return nil
	}
	return out
}

func (s *ComplianceStatus) ParseRemediationErrors() []RemediationError {
	var out []RemediationError
	if len(s.RemediationErrors) == 0 {
		return out
	}
	if err := json.Unmarshal(s.RemediationErrors, &out); err != nil {
		return nil
	}
	return out
}
