package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "airdancer.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "airdancer.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, path, s.Path())
}

func TestCreateUser_AndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U12345678", "themacks", false))

	u, err := s.GetUser(ctx, "U12345678")
	require.NoError(t, err)
	assert.Equal(t, "U12345678", u.SlackUserID)
	assert.Equal(t, "themacks", u.Username)
	assert.False(t, u.IsAdmin)
	assert.True(t, u.Botherable)
	assert.False(t, u.HasSwitch())
	assert.WithinDuration(t, time.Now().UTC(), u.CreatedAt, 5*time.Second)
}

func TestCreateUser_UpsertPreservesState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U12345678", "oldname", false))
	require.NoError(t, s.SetBotherable(ctx, "U12345678", false))
	require.NoError(t, s.RegisterSwitch(ctx, "U12345678", "tasmota_AB12CD"))

	// Re-creating on next sighting refreshes name and admin flag only.
	require.NoError(t, s.CreateUser(ctx, "U12345678", "newname", true))

	u, err := s.GetUser(ctx, "U12345678")
	require.NoError(t, err)
	assert.Equal(t, "newname", u.Username)
	assert.True(t, u.IsAdmin)
	assert.False(t, u.Botherable)
	assert.Equal(t, "tasmota_AB12CD", u.SwitchID)
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetUser(context.Background(), "U99999999")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetUserByUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U12345678", "themacks", false))

	u, err := s.GetUserByUsername(ctx, "themacks")
	require.NoError(t, err)
	assert.Equal(t, "U12345678", u.SlackUserID)

	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestListUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U00000001", "alpha", false))
	require.NoError(t, s.CreateUser(ctx, "U00000002", "bravo", false))
	require.NoError(t, s.CreateUser(ctx, "U00000003", "charlie", true))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "alpha", users[0].Username)
	assert.Equal(t, "charlie", users[2].Username)
}

func TestSetAdmin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U12345678", "themacks", false))
	require.NoError(t, s.SetAdmin(ctx, "U12345678", true))

	admin, err := s.IsAdmin(ctx, "U12345678")
	require.NoError(t, err)
	assert.True(t, admin)

	admin, err = s.IsAdmin(ctx, "U99999999")
	require.NoError(t, err)
	assert.False(t, admin)

	assert.ErrorIs(t, s.SetAdmin(ctx, "U99999999", true), ErrUserNotFound)
}

func TestSetBotherable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U12345678", "themacks", false))
	require.NoError(t, s.SetBotherable(ctx, "U12345678", false))

	u, err := s.GetUser(ctx, "U12345678")
	require.NoError(t, err)
	assert.False(t, u.Botherable)

	assert.ErrorIs(t, s.SetBotherable(ctx, "U99999999", false), ErrUserNotFound)
}

func TestDeleteUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U12345678", "themacks", false))
	require.NoError(t, s.DeleteUser(ctx, "U12345678"))

	_, err := s.GetUser(ctx, "U12345678")
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.ErrorIs(t, s.DeleteUser(ctx, "U12345678"), ErrUserNotFound)
}

func TestDeleteUser_CascadesMemberships(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U12345678", "themacks", false))
	require.NoError(t, s.CreateGroup(ctx, "oncall"))
	require.NoError(t, s.AddUserToGroup(ctx, "oncall", "U12345678"))

	require.NoError(t, s.DeleteUser(ctx, "U12345678"))

	members, err := s.GroupMembers(ctx, "oncall")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRegisterSwitch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U12345678", "themacks", false))
	require.NoError(t, s.RegisterSwitch(ctx, "U12345678", "tasmota_AB12CD"))

	u, err := s.GetUser(ctx, "U12345678")
	require.NoError(t, err)
	assert.Equal(t, "tasmota_AB12CD", u.SwitchID)
	assert.True(t, u.HasSwitch())

	owner, err := s.GetSwitchOwner(ctx, "tasmota_AB12CD")
	require.NoError(t, err)
	assert.Equal(t, "U12345678", owner.SlackUserID)
	assert.Equal(t, "themacks", owner.Username)
}

func TestRegisterSwitch_Taken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U00000001", "alpha", false))
	require.NoError(t, s.CreateUser(ctx, "U00000002", "bravo", false))
	require.NoError(t, s.RegisterSwitch(ctx, "U00000001", "tasmota_AB12CD"))

	err := s.RegisterSwitch(ctx, "U00000002", "tasmota_AB12CD")
	assert.ErrorIs(t, err, ErrSwitchTaken)

	// Re-registering your own switch is fine.
	assert.NoError(t, s.RegisterSwitch(ctx, "U00000001", "tasmota_AB12CD"))
}

func TestRegisterSwitch_UserNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.RegisterSwitch(context.Background(), "U99999999", "tasmota_AB12CD")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetSwitchOwner_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSwitchOwner(context.Background(), "tasmota_FFFFFF")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpsertSwitch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	info := &DeviceInfo{
		IP:       "10.0.0.42",
		Hostname: "dancer-desk",
		MAC:      "AA:BB:CC:DD:EE:FF",
		Model:    "Sonoff S31",
		Software: "13.2.0",
	}
	require.NoError(t, s.UpsertSwitch(ctx, "tasmota_AB12CD", info))

	sw, err := s.GetSwitch(ctx, "tasmota_AB12CD")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, sw.Status)
	assert.Equal(t, PowerUnknown, sw.PowerState)
	assert.WithinDuration(t, time.Now().UTC(), sw.LastSeen, 5*time.Second)
	require.NotNil(t, sw.DeviceInfo)
	assert.Equal(t, "10.0.0.42", sw.DeviceInfo.IP)
	assert.Equal(t, "Sonoff S31", sw.DeviceInfo.Model)
}

func TestUpsertSwitch_RediscoveryBringsOnline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSwitch(ctx, "tasmota_AB12CD", nil))
	require.NoError(t, s.SetSwitchStatus(ctx, "tasmota_AB12CD", StatusOffline))
	require.NoError(t, s.SetSwitchPower(ctx, "tasmota_AB12CD", PowerOn))

	info := &DeviceInfo{IP: "10.0.0.43"}
	require.NoError(t, s.UpsertSwitch(ctx, "tasmota_AB12CD", info))

	sw, err := s.GetSwitch(ctx, "tasmota_AB12CD")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, sw.Status)
	// Power state survives rediscovery.
	assert.Equal(t, PowerOn, sw.PowerState)
	require.NotNil(t, sw.DeviceInfo)
	assert.Equal(t, "10.0.0.43", sw.DeviceInfo.IP)
}

func TestGetSwitch_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSwitch(context.Background(), "tasmota_FFFFFF")
	assert.ErrorIs(t, err, ErrSwitchNotFound)
}

func TestSetSwitchStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSwitch(ctx, "tasmota_AB12CD", nil))
	require.NoError(t, s.SetSwitchStatus(ctx, "tasmota_AB12CD", StatusOffline))

	sw, err := s.GetSwitch(ctx, "tasmota_AB12CD")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, sw.Status)

	assert.Error(t, s.SetSwitchStatus(ctx, "tasmota_AB12CD", "resting"))
	assert.ErrorIs(t, s.SetSwitchStatus(ctx, "tasmota_FFFFFF", StatusOnline), ErrSwitchNotFound)
}

func TestSetSwitchPower(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSwitch(ctx, "tasmota_AB12CD", nil))
	require.NoError(t, s.SetSwitchPower(ctx, "tasmota_AB12CD", PowerOn))

	sw, err := s.GetSwitch(ctx, "tasmota_AB12CD")
	require.NoError(t, err)
	assert.Equal(t, PowerOn, sw.PowerState)

	assert.Error(t, s.SetSwitchPower(ctx, "tasmota_AB12CD", "HALF"))
	assert.ErrorIs(t, s.SetSwitchPower(ctx, "tasmota_FFFFFF", PowerOff), ErrSwitchNotFound)
}

func TestListSwitches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSwitch(ctx, "tasmota_BB0000", nil))
	require.NoError(t, s.UpsertSwitch(ctx, "tasmota_AA0000", nil))

	switches, err := s.ListSwitches(ctx)
	require.NoError(t, err)
	require.Len(t, switches, 2)
	assert.Equal(t, "tasmota_AA0000", switches[0].SwitchID)
	assert.Equal(t, "tasmota_BB0000", switches[1].SwitchID)
}

func TestListSwitchesWithOwners(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSwitch(ctx, "tasmota_BB0000", nil))
	require.NoError(t, s.UpsertSwitch(ctx, "tasmota_AA0000", nil))
	require.NoError(t, s.CreateUser(ctx, "U12345678", "themacks", false))
	require.NoError(t, s.RegisterSwitch(ctx, "U12345678", "tasmota_BB0000"))

	rows, err := s.ListSwitchesWithOwners(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "tasmota_AA0000", rows[0].SwitchID)
	assert.Nil(t, rows[0].Owner)

	assert.Equal(t, "tasmota_BB0000", rows[1].SwitchID)
	require.NotNil(t, rows[1].Owner)
	assert.Equal(t, "themacks", rows[1].Owner.Username)
	assert.True(t, rows[1].Owner.Botherable)
}

func TestGroups_CreateListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, "oncall"))
	require.NoError(t, s.CreateGroup(ctx, "desk-crew"))

	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"desk-crew", "oncall", "all"}, groups)

	assert.ErrorIs(t, s.CreateGroup(ctx, "oncall"), ErrGroupExists)

	require.NoError(t, s.DeleteGroup(ctx, "oncall"))
	assert.ErrorIs(t, s.DeleteGroup(ctx, "oncall"), ErrGroupNotFound)

	groups, err = s.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"desk-crew", "all"}, groups)
}

func TestGroups_ReservedNameProtected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U12345678", "themacks", false))

	assert.ErrorIs(t, s.CreateGroup(ctx, "all"), ErrReservedGroup)
	assert.ErrorIs(t, s.CreateGroup(ctx, "ALL"), ErrReservedGroup)
	assert.ErrorIs(t, s.DeleteGroup(ctx, "all"), ErrReservedGroup)
	assert.ErrorIs(t, s.AddUserToGroup(ctx, "all", "U12345678"), ErrReservedGroup)
	assert.ErrorIs(t, s.RemoveUserFromGroup(ctx, "All", "U12345678"), ErrReservedGroup)
}

func TestGroupMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U12345678", "themacks", false))
	require.NoError(t, s.CreateGroup(ctx, "oncall"))

	require.NoError(t, s.AddUserToGroup(ctx, "oncall", "U12345678"))
	// Re-adding is a no-op.
	require.NoError(t, s.AddUserToGroup(ctx, "oncall", "U12345678"))

	members, err := s.GroupMembers(ctx, "oncall")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "themacks", members[0].Username)

	require.NoError(t, s.RemoveUserFromGroup(ctx, "oncall", "U12345678"))
	assert.ErrorIs(t, s.RemoveUserFromGroup(ctx, "oncall", "U12345678"), ErrNotGroupMember)

	assert.ErrorIs(t, s.AddUserToGroup(ctx, "ghosts", "U12345678"), ErrGroupNotFound)
	assert.ErrorIs(t, s.AddUserToGroup(ctx, "oncall", "U99999999"), ErrUserNotFound)

	_, err = s.GroupMembers(ctx, "ghosts")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestGroupMembers_ReservedListsSwitchOwners(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U00000001", "alpha", false))
	require.NoError(t, s.CreateUser(ctx, "U00000002", "bravo", false))
	require.NoError(t, s.CreateUser(ctx, "U00000003", "charlie", false))
	require.NoError(t, s.RegisterSwitch(ctx, "U00000001", "tasmota_AA0000"))
	require.NoError(t, s.RegisterSwitch(ctx, "U00000003", "tasmota_CC0000"))

	members, err := s.GroupMembers(ctx, "all")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "alpha", members[0].Username)
	assert.Equal(t, "charlie", members[1].Username)

	// Lookup ignores case.
	members, err = s.GroupMembers(ctx, "ALL")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "U00000001", "alpha", false))
	require.NoError(t, s.CreateUser(ctx, "U00000002", "bravo", false))
	require.NoError(t, s.RegisterSwitch(ctx, "U00000001", "tasmota_AA0000"))

	require.NoError(t, s.UpsertSwitch(ctx, "tasmota_AA0000", nil))
	require.NoError(t, s.UpsertSwitch(ctx, "tasmota_BB0000", nil))
	require.NoError(t, s.SetSwitchStatus(ctx, "tasmota_BB0000", StatusOffline))

	totalUsers, registered, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, totalUsers)
	assert.Equal(t, 1, registered)

	totalSwitches, online, err := s.CountSwitches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, totalSwitches)
	assert.Equal(t, 1, online)
}
