package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Device struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"org_id"`
	Hostname     string         `gorm:"not null" json:"hostname"`
	OS           string         `json:"os"` // windows, darwin, linux
	Arch         string         `json:"arch"`
	AgentVersion string         `json:"agent_version"`
	Status       string         `gorm:"default:'unknown'" json:"status"` // online, offline, unknown
	LastSeenAt   *time.Time     `json:"last_seen_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

type DeviceGroup struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"org_id"`
	Name      string         `gorm:"not null" json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (g *DeviceGroup) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

type DeviceGroupMember struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	GroupID  uuid.UUID `gorm:"type:uuid;not null;index:idx_group_member,unique" json:"group_id"`
	DeviceID uuid.UUID `gorm:"type:uuid;not null;index:idx_group_member,unique" json:"device_id"`
}

func (m *DeviceGroupMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// DeviceSoftware is one installed application/package reported by the agent.
// The full set for a device is replaced on every inventory report.
type DeviceSoftware struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID       uuid.UUID `gorm:"type:uuid;not null;index" json:"org_id"`
	DeviceID    uuid.UUID `gorm:"type:uuid;not null;index" json:"device_id"`
	Name        string    `gorm:"not null" json:"name"`
	Version     string    `json:"version,omitempty"`
	Vendor      string    `json:"vendor,omitempty"`
	CatalogID   string    `json:"catalog_id,omitempty"`
	CollectedAt time.Time `gorm:"not null" json:"collected_at"`
}

func (s *DeviceSoftware) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
