package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	CmdSoftwareUninstall = "software_uninstall"
)

const (
	CommandPending   = "pending"
	CommandSent      = "sent"
	CommandCompleted = "completed"
	CommandFailed    = "failed"
)

// UninstallPayload is the payload of a software_uninstall command.
type UninstallPayload struct {
	Name               string    `json:"name"`
	Version            string    `json:"version,omitempty"`
	PolicyID           uuid.UUID `json:"policy_id"`
	ComplianceStatusID uuid.UUID `json:"compliance_status_id"`
}

// CommandResult is the structured outcome the agent reports for a command.
type CommandResult struct {
	Status     string `json:"status"` // completed, failed
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RemoteCommand is one command queued for a device. The agent picks it up via
// polling (nudged over the live channel) and posts its result back.
type RemoteCommand struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrgID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"org_id"`
	DeviceID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"device_id"`
	Type        string         `gorm:"not null" json:"type"`
	Status      string         `gorm:"default:'pending'" json:"status"` // pending, sent, completed, failed
	Payload     datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	Result      datatypes.JSON `gorm:"type:jsonb" json:"result"`
	SentAt      *time.Time     `json:"sent_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (c *RemoteCommand) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
