package services

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/wardenhq/warden/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditEntry is one state transition worth recording.
type AuditEntry struct {
	OrgID    uuid.UUID
	PolicyID *uuid.UUID
	DeviceID *uuid.UUID
	Action   string
	Actor    string
	Details  map[string]interface{}
}

// AuditService writes the append-only audit trail.
type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// Record is fire-and-forget for scheduler contexts: an audit outage must not
// stop the remediation loop, so failures are logged and swallowed.
func (s *AuditService) Record(entry AuditEntry) {
	if err := s.RecordErr(entry); err != nil {
		slog.Error("Failed to write audit record",
			"action", entry.Action,
			"org", entry.OrgID,
			"error", err,
		)
	}
}

// RecordErr is the route-level variant: a human is present to retry, so the
// error is returned instead of swallowed.
func (s *AuditService) RecordErr(entry AuditEntry) error {
	var details datatypes.JSON
	if entry.Details != nil {
		if b, err := json.Marshal(entry.Details); err == nil {
			details = datatypes.JSON(b)
		}
	}

	actor := entry.Actor
	if actor == "" {
		actor = "system"
	}

	record := models.AuditRecord{
		OrgID:    entry.OrgID,
		PolicyID: entry.PolicyID,
		DeviceID: entry.DeviceID,
		Action:   entry.Action,
		Actor:    actor,
		Details:  details,
	}
	return s.db.Create(&record).Error
}
