package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/wardenhq/warden/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Dispatcher hands a command to the remote transport. The queue-backed
// implementation below is the default; tests inject fakes, including
// transiently failing ones, to exercise the submission retry path.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd *models.RemoteCommand) error
}

// QueueDispatcher persists commands for agent pickup and nudges connected
// agents over the live channel.
type QueueDispatcher struct {
	db  *gorm.DB
	hub *AgentHub
}

func NewQueueDispatcher(db *gorm.DB, hub *AgentHub) *QueueDispatcher {
	return &QueueDispatcher{db: db, hub: hub}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, cmd *models.RemoteCommand) error {
	if err := d.db.WithContext(ctx).Create(cmd).Error; err != nil {
		return fmt.Errorf("queue command: %w", err)
	}
	if d.hub != nil {
		d.hub.Notify(cmd.DeviceID)
	}
	return nil
}

// NewUninstallCommand builds a software_uninstall command for a device.
func NewUninstallCommand(orgID, deviceID uuid.UUID, payload models.UninstallPayload) (*models.RemoteCommand, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode uninstall payload: %w", err)
	}
	return &models.RemoteCommand{
		OrgID:    orgID,
		DeviceID: deviceID,
		Type:     models.CmdSoftwareUninstall,
		Status:   models.CommandPending,
		Payload:  datatypes.JSON(b),
	}, nil
}
