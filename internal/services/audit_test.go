package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/internal/models"
)

func TestRecordErrDefaultsActorToSystem(t *testing.T) {
	db := newTestDB(t)
	org := createOrg(t, db, "acme")
	s := NewAuditService(db)

	require.NoError(t, s.RecordErr(AuditEntry{
		OrgID:   org.ID,
		Action:  "policy_created",
		Details: map[string]interface{}{"name": "no remote access"},
	}))

	var record models.AuditRecord
	require.NoError(t, db.First(&record).Error)
	assert.Equal(t, "system", record.Actor)
	assert.Equal(t, "policy_created", record.Action)
	assert.NotEmpty(t, record.Details)
}

func TestRecordErrKeepsExplicitActor(t *testing.T) {
	db := newTestDB(t)
	org := createOrg(t, db, "acme")
	s := NewAuditService(db)

	require.NoError(t, s.RecordErr(AuditEntry{OrgID: org.ID, Action: "policy_deleted", Actor: "alice"}))

	var record models.AuditRecord
	require.NoError(t, db.First(&record).Error)
	assert.Equal(t, "alice", record.Actor)
}

func TestRecordSwallowsWriteFailures(t *testing.T) {
	db := newTestDB(t)
	org := createOrg(t, db, "acme")
	s := NewAuditService(db)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	// Must not panic and must not propagate the failure.
	assert.NotPanics(t, func() {
		s.Record(AuditEntry{OrgID: org.ID, Action: "remediation_dispatched"})
	})
}

func TestRecordErrReturnsWriteFailures(t *testing.T) {
	db := newTestDB(t)
	org := createOrg(t, db, "acme")
	s := NewAuditService(db)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	assert.Error(t, s.RecordErr(AuditEntry{OrgID: org.ID, Action: "policy_created"}))
}
