package services

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/wardenhq/warden/internal/models"
	"gorm.io/gorm"
)

// TargetResolver turns a policy's targeting into the exact set of device IDs
// it applies to. Every branch carries an explicit org_id predicate: this is
// the tenant-isolation fence for the whole subsystem, repeated per query
// rather than assumed from the caller.
type TargetResolver struct {
	db *gorm.DB
}

func NewTargetResolver(db *gorm.DB) *TargetResolver {
	return &TargetResolver{db: db}
}

// Resolve returns the device IDs the policy targets. An org with no matching
// devices yields an empty slice, not an error.
func (r *TargetResolver) Resolve(policy *models.Policy) ([]uuid.UUID, error) {
	switch policy.TargetType {
	case models.TargetTypeAll:
		return r.deviceIDs(r.db.Model(&models.Device{}).
			Where("org_id = ?", policy.OrgID))

	case models.TargetTypeDevices:
		ids := policy.ParseTargetIDs()
		if len(ids) == 0 {
			return []uuid.UUID{}, nil
		}
		return r.deviceIDs(r.db.Model(&models.Device{}).
			Where("org_id = ?", policy.OrgID).
			Where("id IN ?", ids))

	case models.TargetTypeGroup:
		groupIDs := policy.ParseTargetIDs()
		if len(groupIDs) == 0 {
			return []uuid.UUID{}, nil
		}

		// The group itself must belong to the policy's org; a group ID from
		// another tenant resolves to nothing.
		var ownedGroups []uuid.UUID
		if err := r.db.Model(&models.DeviceGroup{}).
			Where("org_id = ?", policy.OrgID).
			Where("id IN ?", groupIDs).
			Pluck("id", &ownedGroups).Error; err != nil {
			return nil, fmt.Errorf("resolve groups: %w", err)
		}
		if len(ownedGroups) == 0 {
			return []uuid.UUID{}, nil
		}

		var memberIDs []uuid.UUID
		if err := r.db.Model(&models.DeviceGroupMember{}).
			Where("group_id IN ?", ownedGroups).
			Pluck("device_id", &memberIDs).Error; err != nil {
			return nil, fmt.Errorf("resolve group members: %w", err)
		}
		if len(memberIDs) == 0 {
			return []uuid.UUID{}, nil
		}

		// Membership rows are not trusted to be tenant-clean: re-fence.
		return r.deviceIDs(r.db.Model(&models.Device{}).
			Where("org_id = ?", policy.OrgID).
			Where("id IN ?", memberIDs))

	default:
		return nil, fmt.Errorf("unknown target type %q", policy.TargetType)
	}
}

func (r *TargetResolver) deviceIDs(q *gorm.DB) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	if err := q.Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("resolve devices: %w", err)
	}
	return ids, nil
}
