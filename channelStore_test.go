package main

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelCreateAndJoin(t *testing.T) {
	c := newChannelStore(openTestKV(t))

	ch, err := c.Create("alice", "gamers", "", "", "")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{8}$`), ch.Code)
	assert.Equal(t, "alice", ch.OwnerLogin)
	assert.Equal(t, roleMember, ch.TextMinRole)
	assert.Equal(t, roleMember, ch.VoiceMinRole)

	assert.Equal(t, roleOwner, c.RoleOf(ch.ID, "alice"))
	assert.True(t, c.IsMember(ch.ID, "alice"))

	joined, err := c.JoinByCode("bob", ch.Code)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, joined.ID)
	assert.Equal(t, roleMember, c.RoleOf(ch.ID, "bob"))

	_, err = c.JoinByCode("bob", ch.Code)
	assert.ErrorIs(t, err, errAlreadyMember)
	_, err = c.JoinByCode("carol", "WRONG123")
	assert.ErrorIs(t, err, errBadChannelCode)

	chans := c.ChannelsOf("bob")
	require.Len(t, chans, 1)
	assert.Equal(t, "gamers", chans[0].Name)
}

func TestChannelRoleGates(t *testing.T) {
	c := newChannelStore(openTestKV(t))
	ch, err := c.Create("alice", "mods-only", "", roleModerator, roleAdmin)
	require.NoError(t, err)
	_, err = c.JoinByCode("bob", ch.Code)
	require.NoError(t, err)

	// plain member fails both gates, owner passes everything
	assert.False(t, c.CanSendText(ch.ID, "bob"))
	assert.False(t, c.CanJoinVoice(ch.ID, "bob"))
	assert.True(t, c.CanSendText(ch.ID, "alice"))
	assert.True(t, c.CanJoinVoice(ch.ID, "alice"))

	require.NoError(t, c.SetMemberRole(ch.ID, "alice", "bob", roleModerator))
	assert.True(t, c.CanSendText(ch.ID, "bob"))
	assert.False(t, c.CanJoinVoice(ch.ID, "bob"))

	require.NoError(t, c.SetMemberRole(ch.ID, "alice", "bob", roleAdmin))
	assert.True(t, c.CanJoinVoice(ch.ID, "bob"))

	// non-members pass nothing
	assert.False(t, c.CanSendText(ch.ID, "stranger"))
	assert.False(t, c.CanJoinVoice(ch.ID, "stranger"))
}

func TestChannelRoleHierarchy(t *testing.T) {
	c := newChannelStore(openTestKV(t))
	ch, err := c.Create("owner1", "hier", "", "", "")
	require.NoError(t, err)
	for _, login := range []string{"admin1", "mod1", "member1", "member2"} {
		_, err := c.JoinByCode(login, ch.Code)
		require.NoError(t, err)
	}
	require.NoError(t, c.SetMemberRole(ch.ID, "owner1", "admin1", roleAdmin))
	require.NoError(t, c.SetMemberRole(ch.ID, "owner1", "mod1", roleModerator))

	// admin can manage moderators and members but not peers or the owner
	require.NoError(t, c.SetMemberRole(ch.ID, "admin1", "member1", roleModerator))
	assert.ErrorIs(t, c.SetMemberRole(ch.ID, "admin1", "member2", roleAdmin), errRoleTooLow)
	assert.ErrorIs(t, c.SetMemberRole(ch.ID, "admin1", "owner1", roleMember), errRoleTooLow)

	// moderator cannot manage roles at its own rank or above
	assert.ErrorIs(t, c.SetMemberRole(ch.ID, "mod1", "member2", roleModerator), errRoleTooLow)

	// kicks follow the same ladder
	assert.ErrorIs(t, c.RemoveMember(ch.ID, "member2", "mod1"), errRoleTooLow)
	assert.ErrorIs(t, c.RemoveMember(ch.ID, "mod1", "admin1"), errRoleTooLow)
	assert.ErrorIs(t, c.RemoveMember(ch.ID, "admin1", "owner1"), errRoleTooLow)
	require.NoError(t, c.RemoveMember(ch.ID, "mod1", "member2"))
	require.NoError(t, c.RemoveMember(ch.ID, "admin1", "mod1"))
	assert.False(t, c.IsMember(ch.ID, "member2"))

	// nobody can grant owner
	assert.ErrorIs(t, c.SetMemberRole(ch.ID, "owner1", "admin1", roleOwner), errBadRole)
}

func TestChannelLeaveAndDelete(t *testing.T) {
	c := newChannelStore(openTestKV(t))
	ch, err := c.Create("alice", "temp", "", "", "")
	require.NoError(t, err)
	_, err = c.JoinByCode("bob", ch.Code)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Leave(ch.ID, "alice"), errNotChannelOwner)
	require.NoError(t, c.Leave(ch.ID, "bob"))
	assert.ErrorIs(t, c.Leave(ch.ID, "bob"), errNotMember)

	assert.ErrorIs(t, c.DeleteChannel(ch.ID, "bob"), errNotChannelOwner)
	require.NoError(t, c.DeleteChannel(ch.ID, "alice"))
	_, ok := c.Channel(ch.ID)
	assert.False(t, ok)
	assert.Empty(t, c.ChannelsOf("alice"))
	// join code dies with the channel
	_, err = c.JoinByCode("carol", ch.Code)
	assert.ErrorIs(t, err, errBadChannelCode)
}

func TestChannelSettingsAndCode(t *testing.T) {
	c := newChannelStore(openTestKV(t))
	ch, err := c.Create("alice", "old-name", "", "", "")
	require.NoError(t, err)

	updated, err := c.UpdateSettings(ch.ID, "alice", "new-name", "", roleModerator, "")
	require.NoError(t, err)
	assert.Equal(t, "new-name", updated.Name)
	assert.Equal(t, roleModerator, updated.TextMinRole)
	assert.Equal(t, roleMember, updated.VoiceMinRole)

	_, err = c.UpdateSettings(ch.ID, "bob", "hijack", "", "", "")
	assert.ErrorIs(t, err, errNotChannelOwner)
	_, err = c.UpdateSettings(ch.ID, "alice", "", "", "superuser", "")
	assert.ErrorIs(t, err, errBadRole)

	oldCode := ch.Code
	newCode, err := c.RegenerateCode(ch.ID, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, oldCode, newCode)
	_, err = c.JoinByCode("bob", oldCode)
	assert.ErrorIs(t, err, errBadChannelCode)
	_, err = c.JoinByCode("bob", newCode)
	assert.NoError(t, err)
}

func TestChannelInvites(t *testing.T) {
	c := newChannelStore(openTestKV(t))
	ch, err := c.Create("alice", "club", "", "", "")
	require.NoError(t, err)

	inv, err := c.InviteUser(ch.ID, "alice", "bob")
	require.NoError(t, err)
	// duplicates and self-invites of members are rejected
	_, err = c.InviteUser(ch.ID, "alice", "bob")
	assert.ErrorIs(t, err, errAlreadyMember)
	_, err = c.InviteUser(ch.ID, "alice", "alice")
	assert.ErrorIs(t, err, errAlreadyMember)
	_, err = c.InviteUser(ch.ID, "stranger", "carol")
	assert.ErrorIs(t, err, errNotMember)

	pending := c.PendingInvites("bob")
	require.Len(t, pending, 1)
	assert.Equal(t, inv.ID, pending[0].ID)

	joined, err := c.RespondInvite(inv.ID, "bob", true)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, joined.ID)
	assert.True(t, c.IsMember(ch.ID, "bob"))
	assert.Empty(t, c.PendingInvites("bob"))

	// an invite can only be consumed once
	_, err = c.RespondInvite(inv.ID, "bob", true)
	assert.Error(t, err)
}

func TestChannelInviteDecline(t *testing.T) {
	c := newChannelStore(openTestKV(t))
	ch, err := c.Create("alice", "club", "", "", "")
	require.NoError(t, err)

	inv, err := c.InviteUser(ch.ID, "alice", "bob")
	require.NoError(t, err)
	_, err = c.RespondInvite(inv.ID, "bob", false)
	require.NoError(t, err)
	assert.False(t, c.IsMember(ch.ID, "bob"))

	// only the addressee can respond
	inv2, err := c.InviteUser(ch.ID, "alice", "carol")
	require.NoError(t, err)
	_, err = c.RespondInvite(inv2.ID, "mallory", true)
	assert.Error(t, err)
}

func TestChannelPermissionsAndMembers(t *testing.T) {
	c := newChannelStore(openTestKV(t))
	ch, err := c.Create("alice", "club", "", "", "")
	require.NoError(t, err)
	_, err = c.JoinByCode("bob", ch.Code)
	require.NoError(t, err)

	perms := c.Permissions(ch.ID, "alice")
	assert.True(t, perms["can_delete"])
	assert.True(t, perms["can_manage_roles"])
	perms = c.Permissions(ch.ID, "bob")
	assert.True(t, perms["can_invite"])
	assert.False(t, perms["can_kick"])
	assert.Empty(t, c.Permissions(ch.ID, "stranger"))

	members := c.MembersDetail(ch.ID)
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].Login)
	assert.Equal(t, roleOwner, members[0].Role)
	assert.Equal(t, "bob", members[1].Login)
}
