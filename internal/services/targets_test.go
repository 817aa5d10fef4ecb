package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/internal/models"
)

func TestResolveAllStaysInsideOrg(t *testing.T) {
	db := newTestDB(t)
	org := createOrg(t, db, "acme")
	other := createOrg(t, db, "globex")

	d1 := createDevice(t, db, org.ID, "acme-1")
	d2 := createDevice(t, db, org.ID, "acme-2")
	createDevice(t, db, other.ID, "globex-1")

	resolver := NewTargetResolver(db)
	ids, err := resolver.Resolve(&models.Policy{OrgID: org.ID, TargetType: models.TargetTypeAll})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{d1.ID.String(), d2.ID.String()}, uuidStrings(ids))
}

func TestResolveDevicesFiltersForeignIDs(t *testing.T) {
	db := newTestDB(t)
	org := createOrg(t, db, "acme")
	other := createOrg(t, db, "globex")

	mine := createDevice(t, db, org.ID, "acme-1")
	theirs := createDevice(t, db, other.ID, "globex-1")

	resolver := NewTargetResolver(db)
	ids, err := resolver.Resolve(&models.Policy{
		OrgID:      org.ID,
		TargetType: models.TargetTypeDevices,
		TargetIDs:  idsJSON(t, mine.ID, theirs.ID),
	})

	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID.String()}, uuidStrings(ids))
}

func TestResolveDevicesEmptyTargetListYieldsEmptySet(t *testing.T) {
	db := newTestDB(t)
	org := createOrg(t, db, "acme")
	createDevice(t, db, org.ID, "acme-1")

	resolver := NewTargetResolver(db)
	ids, err := resolver.Resolve(&models.Policy{OrgID: org.ID, TargetType: models.TargetTypeDevices})

	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestResolveGroupExcludesForeignMembers(t *testing.T) {
	db := newTestDB(t)
	org := createOrg(t, db, "acme")
	other := createOrg(t, db, "globex")

	mine := createDevice(t, db, org.ID, "acme-1")
	theirs := createDevice(t, db, other.ID, "globex-1")

	group := models.DeviceGroup{OrgID: org.ID, Name: "laptops"}
	require.NoError(t, db.Create(&group).Error)
	require.NoError(t, db.Create(&models.DeviceGroupMember{GroupID: group.ID, DeviceID: mine.ID}).Error)
	// A membership row pointing at a foreign device must not leak it in.
	require.NoError(t, db.Create(&models.DeviceGroupMember{GroupID: group.ID, DeviceID: theirs.ID}).Error)

	resolver := NewTargetResolver(db)
	ids, err := resolver.Resolve(&models.Policy{
		OrgID:      org.ID,
		TargetType: models.TargetTypeGroup,
		TargetIDs:  idsJSON(t, group.ID),
	})

	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID.String()}, uuidStrings(ids))
}

func TestResolveForeignGroupYieldsEmptySet(t *testing.T) {
	db := newTestDB(t)
	org := createOrg(t, db, "acme")
	other := createOrg(t, db, "globex")

	theirs := createDevice(t, db, other.ID, "globex-1")
	group := models.DeviceGroup{OrgID: other.ID, Name: "their-laptops"}
	require.NoError(t, db.Create(&group).Error)
	require.NoError(t, db.Create(&models.DeviceGroupMember{GroupID: group.ID, DeviceID: theirs.ID}).Error)

	resolver := NewTargetResolver(db)
	ids, err := resolver.Resolve(&models.Policy{
		OrgID:      org.ID,
		TargetType: models.TargetTypeGroup,
		TargetIDs:  idsJSON(t, group.ID),
	})

	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestResolveUnknownTargetTypeFails(t *testing.T) {
	db := newTestDB(t)
	org := createOrg(t, db, "acme")

	resolver := NewTargetResolver(db)
	_, err := resolver.Resolve(&models.Policy{OrgID: org.ID, TargetType: "bogus"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target type")
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
