package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PolicyModeBlocklist = "blocklist"
	PolicyModeAllowlist = "allowlist"
	PolicyModeAudit     = "audit"
)

const (
	TargetTypeAll     = "all"
	TargetTypeDevices = "devices"
	TargetTypeGroup   = "group"
)

// PolicyRule is the raw rule shape as stored on the policy. Normalization
// (trimming, dropping empty-name rules, pattern compilation) happens at
// evaluation time in the services package.
type PolicyRule struct {
	NamePattern   string `json:"name_pattern"`
	VendorPattern string `json:"vendor_pattern,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type Policy struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"org_id"`
	Name         string         `gorm:"not null" json:"name"`
	Mode         string         `gorm:"not null;default:'blocklist'" json:"mode"` // blocklist, allowlist, audit
	Rules        datatypes.JSON `gorm:"type:jsonb" json:"rules"`
	AllowUnknown bool           `gorm:"default:false" json:"allow_unknown"`
	TargetType   string         `gorm:"not null;default:'all'" json:"target_type"` // all, devices, group
	TargetIDs    datatypes.JSON `gorm:"type:jsonb" json:"target_ids"`
	IsActive     bool           `gorm:"default:true" json:"is_active"`

	// Remediation options
	AutoUninstallEnabled bool `gorm:"default:false" json:"auto_uninstall_enabled"`
	GracePeriodHours     int  `gorm:"default:0" json:"grace_period_hours"`
	CooldownMinutes      int  `gorm:"default:0" json:"cooldown_minutes"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *Policy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// ParseRules decodes the stored jsonb rule list. A malformed column yields an
// empty slice rather than an error; the evaluator logs when zero rules survive.
func (p *Policy) ParseRules() []PolicyRule {
	var rules []PolicyRule
	if len(p.Rules) == 0 {
		return rules
	}
	if err := json.Unmarshal(p.Rules, &rules); err != nil {
		return nil
	}
	return rules
}

// ParseTargetIDs decodes the stored target ID list, skipping malformed entries.
func (p *Policy) ParseTargetIDs() []uuid.UUID {
	var raw []string
	if len(p.TargetIDs) == 0 {
		return nil
	}
	if err := json.Unmarshal(p.TargetIDs, &raw); err != nil {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		if id, err := uuid.Parse(s); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
