package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wardenhq/warden/internal/models"
	"gorm.io/gorm"
)

// InventoryProvider supplies the current software list for a device. The
// production implementation reads what the agent last reported; tests stub it.
type InventoryProvider interface {
	Inventory(ctx context.Context, deviceID uuid.UUID) ([]models.DeviceSoftware, error)
}

type dbInventory struct {
	db *gorm.DB
}

func NewInventoryProvider(db *gorm.DB) InventoryProvider {
	return &dbInventory{db: db}
}

// Inventory returns the device's reported software ordered by name then
// version. The stable order keeps evaluation output deterministic.
func (p *dbInventory) Inventory(ctx context.Context, deviceID uuid.UUID) ([]models.DeviceSoftware, error) {
	var items []models.DeviceSoftware
	if err := p.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("name, version").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load inventory for device %s: %w", deviceID, err)
	}
	return items, nil
}
