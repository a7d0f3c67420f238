package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/airdancer/internal/store"
)

func TestRegister(t *testing.T) {
	b, api, _, st := newTestBot(t)
	ctx := context.Background()

	c := dmContext(t, b, "UALICE0001")
	b.handleCommand(ctx, c, "register `tasmota_AB12CD`")

	assert.Contains(t, lastMessage(t, api).text, "Registered `tasmota_AB12CD`")

	u, err := st.GetUser(ctx, "UALICE0001")
	require.NoError(t, err)
	assert.Equal(t, "tasmota_AB12CD", u.SwitchID)
}

func TestRegister_KnownSwitchShowsStatus(t *testing.T) {
	b, api, _, st := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertSwitch(ctx, "tasmota_AB12CD", nil))

	c := dmContext(t, b, "UALICE0001")
	b.handleCommand(ctx, c, "register tasmota_AB12CD")

	assert.Contains(t, lastMessage(t, api).text, "online")
}

func TestRegister_Taken(t *testing.T) {
	b, api, _, st := newTestBot(t)
	ctx := context.Background()

	alice := dmContext(t, b, "UALICE0001")
	b.handleCommand(ctx, alice, "register tasmota_AB12CD")

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(ctx, bob, "register tasmota_AB12CD")

	assert.Contains(t, lastMessage(t, api).text, "already registered to <@UALICE0001>")

	u, err := st.GetUser(ctx, "UBOB000001")
	require.NoError(t, err)
	assert.False(t, u.HasSwitch())
}

func TestRegister_Usage(t *testing.T) {
	b, api, _, _ := newTestBot(t)

	c := dmContext(t, b, "UALICE0001")
	b.handleCommand(context.Background(), c, "register")

	assert.Contains(t, lastMessage(t, api).text, "Usage")
}

func TestUnregister_Self(t *testing.T) {
	b, api, _, st := newTestBot(t)
	ctx := context.Background()

	c := dmContext(t, b, "UALICE0001")
	b.handleCommand(ctx, c, "register tasmota_AB12CD")

	// Fresh context, the way every incoming event gets one.
	c = dmContext(t, b, "UALICE0001")
	b.handleCommand(ctx, c, "unregister")

	assert.Contains(t, lastMessage(t, api).text, "unregistered")

	_, err := st.GetUser(ctx, "UALICE0001")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestUnregister_SelfWithoutSwitch(t *testing.T) {
	b, api, _, st := newTestBot(t)
	ctx := context.Background()

	c := dmContext(t, b, "UALICE0001")
	b.handleCommand(ctx, c, "unregister")

	assert.Contains(t, lastMessage(t, api).text, "don't have a switch registered")

	// The user record stays.
	_, err := st.GetUser(ctx, "UALICE0001")
	assert.NoError(t, err)
}

func TestUnregister_OtherRequiresAdmin(t *testing.T) {
	b, api, _, st := newTestBot(t)
	ctx := context.Background()

	dmContext(t, b, "UBOB000001")

	alice := dmContext(t, b, "UALICE0001")
	b.handleCommand(ctx, alice, "unregister @bob")

	assert.Contains(t, lastMessage(t, api).text, "admin only")

	_, err := st.GetUser(ctx, "UBOB000001")
	assert.NoError(t, err)
}

func TestUnregister_AdminRemovesOther(t *testing.T) {
	b, api, _, st := newTestBot(t)
	ctx := context.Background()

	dmContext(t, b, "UALICE0001")

	boss := dmContext(t, b, "UADMIN0001")
	b.handleCommand(ctx, boss, "unregister @alice")

	assert.Contains(t, lastMessage(t, api).text, "Removed <@UALICE0001>")

	_, err := st.GetUser(ctx, "UALICE0001")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

// registerSwitchFor wires up a user with a switch directly in the store.
func registerSwitchFor(t *testing.T, st *store.Store, userID, username, switchID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateUser(ctx, userID, username, false))
	require.NoError(t, st.RegisterSwitch(ctx, userID, switchID))
	require.NoError(t, st.UpsertSwitch(ctx, switchID, nil))
}

func TestBother_User(t *testing.T) {
	b, api, controller, st := newTestBot(t)
	ctx := context.Background()

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AB12CD")

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(ctx, bob, "bother @alice")

	require.Len(t, controller.bothers, 1)
	assert.Equal(t, "tasmota_AB12CD", controller.bothers[0].switchID)
	assert.Equal(t, 15*time.Second, controller.bothers[0].duration)

	// The target gets a DM and the caller gets a confirmation.
	var notified, confirmed bool
	for _, msg := range api.posted {
		if msg.channel == "DUALICE0001" && strings.Contains(msg.text, "bothered by <@UBOB000001>") {
			notified = true
		}
		if msg.channel == "DUBOB000001" && strings.Contains(msg.text, "Bothering <@UALICE0001>") {
			confirmed = true
		}
	}
	assert.True(t, notified, "target should get a DM")
	assert.True(t, confirmed, "caller should get a confirmation")
}

func TestBother_CustomDuration(t *testing.T) {
	b, _, controller, st := newTestBot(t)
	ctx := context.Background()

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AB12CD")

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(ctx, bob, "bother @alice --duration 30")

	require.Len(t, controller.bothers, 1)
	assert.Equal(t, 30*time.Second, controller.bothers[0].duration)
}

func TestBother_TooLong(t *testing.T) {
	b, api, controller, st := newTestBot(t)
	ctx := context.Background()

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AB12CD")

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(ctx, bob, "bother @alice -d 7200")

	assert.Contains(t, lastMessage(t, api).text, "too long")
	assert.Empty(t, controller.bothers)
}

func TestBother_ZeroDuration(t *testing.T) {
	b, api, controller, st := newTestBot(t)
	ctx := context.Background()

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AB12CD")

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(ctx, bob, "bother @alice -d 0")

	assert.Contains(t, lastMessage(t, api).text, "must be positive")
	assert.Empty(t, controller.bothers)
}

func TestBother_NotBotherable(t *testing.T) {
	b, api, controller, st := newTestBot(t)
	ctx := context.Background()

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AB12CD")
	require.NoError(t, st.SetBotherable(ctx, "UALICE0001", false))

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(ctx, bob, "bother @alice")

	assert.Contains(t, lastMessage(t, api).text, "asked not to be bothered")
	assert.Empty(t, controller.bothers)
}

func TestBother_NoSwitch(t *testing.T) {
	b, api, controller, st := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, st.CreateUser(ctx, "UALICE0001", "alice", false))

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(ctx, bob, "bother @alice")

	assert.Contains(t, lastMessage(t, api).text, "doesn't have a switch")
	assert.Empty(t, controller.bothers)
}

func TestBother_SelfSkipsNotification(t *testing.T) {
	b, api, controller, st := newTestBot(t)
	ctx := context.Background()

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AB12CD")

	alice := dmContext(t, b, "UALICE0001")
	b.handleCommand(ctx, alice, "bother alice")

	require.Len(t, controller.bothers, 1)
	// Only the confirmation reply, no separate DM notification.
	require.Len(t, api.posted, 1)
	assert.Contains(t, api.posted[0].text, "Bothering <@UALICE0001>")
}

func TestBother_OfflineCaveat(t *testing.T) {
	b, api, controller, st := newTestBot(t)
	ctx := context.Background()

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AB12CD")
	require.NoError(t, st.SetSwitchStatus(ctx, "tasmota_AB12CD", store.StatusOffline))

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(ctx, bob, "bother @alice")

	require.Len(t, controller.bothers, 1)
	var confirmed string
	for _, msg := range api.posted {
		if msg.channel == "DUBOB000001" {
			confirmed = msg.text
		}
	}
	assert.Contains(t, confirmed, "offline")
}

func TestBother_Group(t *testing.T) {
	b, api, controller, st := newTestBot(t)
	ctx := context.Background()

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AA0000")
	registerSwitchFor(t, st, "UBOB000001", "bob", "tasmota_BB0000")
	require.NoError(t, st.CreateGroup(ctx, "oncall"))
	require.NoError(t, st.AddUserToGroup(ctx, "oncall", "UALICE0001"))
	require.NoError(t, st.AddUserToGroup(ctx, "oncall", "UBOB000001"))

	boss := dmContext(t, b, "UADMIN0001")
	b.handleCommand(ctx, boss, "bother OnCall")

	assert.Len(t, controller.bothers, 2)

	var confirmed string
	for _, msg := range api.posted {
		if msg.channel == "DUADMIN0001" {
			confirmed = msg.text
		}
	}
	assert.Contains(t, confirmed, "Bothered 2 members of group `oncall`")
}

func TestBother_EmptyGroup(t *testing.T) {
	b, api, controller, st := newTestBot(t)
	ctx := context.Background()

	require.NoError(t, st.CreateGroup(ctx, "oncall"))

	boss := dmContext(t, b, "UADMIN0001")
	b.handleCommand(ctx, boss, "bother oncall")

	assert.Contains(t, lastMessage(t, api).text, "`oncall` has no members")
	assert.Empty(t, controller.bothers)
}

func TestBother_AllEmpty(t *testing.T) {
	b, api, controller, _ := newTestBot(t)

	boss := dmContext(t, b, "UADMIN0001")
	b.handleCommand(context.Background(), boss, "bother all")

	assert.Contains(t, lastMessage(t, api).text, "No users have registered switches")
	assert.Empty(t, controller.bothers)
}

func TestBother_GroupAll(t *testing.T) {
	b, _, controller, st := newTestBot(t)
	ctx := context.Background()

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AA0000")
	registerSwitchFor(t, st, "UBOB000001", "bob", "tasmota_BB0000")
	// carol has no switch and is not part of "all".
	require.NoError(t, st.CreateUser(ctx, "UCAROL0001", "carol", false))

	boss := dmContext(t, b, "UADMIN0001")
	b.handleCommand(ctx, boss, "bother all")

	assert.Len(t, controller.bothers, 2)
}

func TestBother_GroupSkipsUnbotherable(t *testing.T) {
	b, api, controller, st := newTestBot(t)
	ctx := context.Background()

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AA0000")
	registerSwitchFor(t, st, "UBOB000001", "bob", "tasmota_BB0000")
	require.NoError(t, st.SetBotherable(ctx, "UBOB000001", false))

	boss := dmContext(t, b, "UADMIN0001")
	b.handleCommand(ctx, boss, "bother all")

	require.Len(t, controller.bothers, 1)
	assert.Equal(t, "tasmota_AA0000", controller.bothers[0].switchID)

	var confirmed string
	for _, msg := range api.posted {
		if msg.channel == "DUADMIN0001" {
			confirmed = msg.text
		}
	}
	assert.Contains(t, confirmed, "Bothered 1 members of group `all`")
}

func TestBother_UnknownTarget(t *testing.T) {
	b, api, controller, _ := newTestBot(t)

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(context.Background(), bob, "bother nobody")

	assert.Contains(t, lastMessage(t, api).text, "Could not find user")
	assert.Empty(t, controller.bothers)
}

func TestUsers_DefaultBlocks(t *testing.T) {
	b, api, _, st := newTestBot(t)

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AB12CD")

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(context.Background(), bob, "users")

	msg := lastMessage(t, api)
	assert.Contains(t, msg.blocks, "Registered users")
	assert.Contains(t, msg.blocks, actionBotherUser)
	assert.Contains(t, msg.blocks, "alice")
}

func TestUsers_Short(t *testing.T) {
	b, api, _, st := newTestBot(t)

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AB12CD")

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(context.Background(), bob, "users --short")

	msg := lastMessage(t, api)
	assert.True(t, strings.HasPrefix(msg.text, "```"))
	assert.Contains(t, msg.text, "Username")
	assert.Contains(t, msg.text, "alice")
	assert.NotContains(t, msg.text, "┌")
}

func TestUsers_Box(t *testing.T) {
	b, api, _, st := newTestBot(t)

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AB12CD")

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(context.Background(), bob, "users --box")

	msg := lastMessage(t, api)
	assert.Contains(t, msg.text, "┌")
	assert.Contains(t, msg.text, "alice")
}

func TestUsers_Empty(t *testing.T) {
	b, api, _, _ := newTestBot(t)

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(context.Background(), bob, "users")

	assert.Contains(t, lastMessage(t, api).text, "No users with registered switches found")
}

func TestGroups(t *testing.T) {
	b, api, _, st := newTestBot(t)
	ctx := context.Background()

	registerSwitchFor(t, st, "UALICE0001", "alice", "tasmota_AA0000")
	require.NoError(t, st.CreateGroup(ctx, "oncall"))
	require.NoError(t, st.AddUserToGroup(ctx, "oncall", "UALICE0001"))

	bob := dmContext(t, b, "UBOB000001")
	b.handleCommand(ctx, bob, "groups")

	msg := lastMessage(t, api)
	assert.Contains(t, msg.text, "`oncall` (1 members)")
	assert.Contains(t, msg.text, "`all` (1 members)")
}

func TestSet(t *testing.T) {
	b, api, _, st := newTestBot(t)
	ctx := context.Background()

	alice := dmContext(t, b, "UALICE0001")

	b.handleCommand(ctx, alice, "set --no-bother")
	u, err := st.GetUser(ctx, "UALICE0001")
	require.NoError(t, err)
	assert.False(t, u.Botherable)

	b.handleCommand(ctx, alice, "set --bother")
	u, err = st.GetUser(ctx, "UALICE0001")
	require.NoError(t, err)
	assert.True(t, u.Botherable)

	b.handleCommand(ctx, alice, "set --bother --no-bother")
	assert.Contains(t, lastMessage(t, api).text, "Pick one")

	b.handleCommand(ctx, alice, "set")
	assert.Contains(t, lastMessage(t, api).text, "be bothered")
}
