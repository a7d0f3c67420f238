package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUser_Mention(t *testing.T) {
	b, _, _, _ := newTestBot(t)

	u, err := b.resolveUser(context.Background(), "<@UALICE0001>")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	u, err = b.resolveUser(context.Background(), "<@UBOB000001|bob>")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
}

func TestResolveUser_BareID(t *testing.T) {
	b, _, _, st := newTestBot(t)

	u, err := b.resolveUser(context.Background(), "UALICE0001")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	// Resolution through the directory adds the user to the store.
	stored, err := st.GetUser(context.Background(), "UALICE0001")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Username)
}

func TestResolveUser_UsernameFromStore(t *testing.T) {
	b, api, _, st := newTestBot(t)

	require.NoError(t, st.CreateUser(context.Background(), "UALICE0001", "alice", false))
	// Break the directory to prove the store answered.
	api.directory = nil

	u, err := b.resolveUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "UALICE0001", u.SlackUserID)

	u, err = b.resolveUser(context.Background(), "@alice")
	require.NoError(t, err)
	assert.Equal(t, "UALICE0001", u.SlackUserID)
}

func TestResolveUser_DirectoryFallback(t *testing.T) {
	b, _, _, st := newTestBot(t)

	u, err := b.resolveUser(context.Background(), "@bob")
	require.NoError(t, err)
	assert.Equal(t, "UBOB000001", u.SlackUserID)

	_, err = st.GetUser(context.Background(), "UBOB000001")
	assert.NoError(t, err)
}

func TestResolveUser_AdminBootstrapViaResolution(t *testing.T) {
	b, _, _, _ := newTestBot(t)

	u, err := b.resolveUser(context.Background(), "boss")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)
}

func TestResolveUser_SkipsDeletedAccounts(t *testing.T) {
	b, api, _, _ := newTestBot(t)

	for i := range api.directory {
		if api.directory[i].Name == "bob" {
			api.directory[i].Deleted = true
		}
	}

	_, err := b.resolveUser(context.Background(), "@bob")
	assert.ErrorIs(t, err, errUnknownUser)
}

func TestResolveUser_Unknown(t *testing.T) {
	b, _, _, _ := newTestBot(t)

	_, err := b.resolveUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, errUnknownUser)

	_, err = b.resolveUser(context.Background(), "<@UNOBODY001>")
	assert.ErrorIs(t, err, errUnknownUser)

	_, err = b.resolveUser(context.Background(), "")
	assert.ErrorIs(t, err, errUnknownUser)
}

func TestResolveUser_ShortIDTreatedAsUsername(t *testing.T) {
	b, _, _, st := newTestBot(t)

	// Too short for a user ID; falls through to username matching.
	require.NoError(t, st.CreateUser(context.Background(), "UXYZ123456", "U12", false))

	u, err := b.resolveUser(context.Background(), "U12")
	require.NoError(t, err)
	assert.Equal(t, "UXYZ123456", u.SlackUserID)
}
