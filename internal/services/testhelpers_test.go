package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/internal/models"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A fresh pool connection would see an empty in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Org{},
		&models.Device{},
		&models.DeviceGroup{},
		&models.DeviceGroupMember{},
		&models.DeviceSoftware{},
		&models.Policy{},
		&models.ComplianceStatus{},
		&models.RemediationJob{},
		&models.RemoteCommand{},
		&models.ScanJob{},
		&models.AuditRecord{},
	))
	return db
}

func createOrg(t *testing.T, db *gorm.DB, name string) models.Org {
	t.Helper()
	org := models.Org{Name: name, EnrollmentKey: "key-" + name}
	require.NoError(t, db.Create(&org).Error)
	return org
}

func createDevice(t *testing.T, db *gorm.DB, orgID uuid.UUID, hostname string) models.Device {
	t.Helper()
	device := models.Device{OrgID: orgID, Hostname: hostname, OS: "linux", Status: "online"}
	require.NoError(t, db.Create(&device).Error)
	return device
}

func idsJSON(t *testing.T, ids ...uuid.UUID) datatypes.JSON {
	t.Helper()
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	b, err := json.Marshal(raw)
	require.NoError(t, err)
	return datatypes.JSON(b)
}

func rulesJSON(t *testing.T, rules ...models.PolicyRule) datatypes.JSON {
	t.Helper()
	b, err := json.Marshal(rules)
	require.NoError(t, err)
	return datatypes.JSON(b)
}

// fakeDispatcher records dispatched commands and assigns IDs the way the
// queue-backed dispatcher's insert would.
type fakeDispatcher struct {
	commands []*models.RemoteCommand
	failures int
	calls    int
}

func (d *fakeDispatcher) Dispatch(_ context.Context, cmd *models.RemoteCommand) error {
	d.calls++
	if d.calls <= d.failures {
		return fmt.Errorf("transport unavailable")
	}
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	d.commands = append(d.commands, cmd)
	return nil
}

type panicDispatcher struct{}

func (panicDispatcher) Dispatch(context.Context, *models.RemoteCommand) error {
	panic("dispatcher exploded")
}

// stubInventory serves fixed software lists per device.
type stubInventory struct {
	items map[uuid.UUID][]models.DeviceSoftware
}

func (s *stubInventory) Inventory(_ context.Context, deviceID uuid.UUID) ([]models.DeviceSoftware, error) {
	return s.items[deviceID], nil
}
