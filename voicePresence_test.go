package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePresenceDir makes everyone a member unless listed; voice access
// can be revoked per login.
type fakePresenceDir struct {
	nonMembers map[string]bool
	noVoice    map[string]bool
	roles      map[string]string
}

func newFakePresenceDir() *fakePresenceDir {
	return &fakePresenceDir{
		nonMembers: make(map[string]bool),
		noVoice:    make(map[string]bool),
		roles:      make(map[string]string),
	}
}

func (d *fakePresenceDir) IsMember(_ int64, login string) bool { return !d.nonMembers[login] }
func (d *fakePresenceDir) CanJoinVoice(_ int64, login string) bool {
	return !d.nonMembers[login] && !d.noVoice[login]
}
func (d *fakePresenceDir) RoleOf(_ int64, login string) string {
	if role, ok := d.roles[login]; ok {
		return role
	}
	return roleMember
}
func (d *fakePresenceDir) IsOnline(string) bool { return true }
func (d *fakePresenceDir) Profile(login string) (string, string) {
	return login, ""
}

func TestPresenceJoinAndList(t *testing.T) {
	dir := newFakePresenceDir()
	p := newPresenceMgr(dir)

	require.NoError(t, p.SetPresence("alice", 1, false, true))
	require.NoError(t, p.SetPresence("bob", 1, true, true))

	participants, err := p.Participants(1, "alice")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	// speaking sorts first
	assert.Equal(t, "bob", participants[0].Login)
	assert.True(t, participants[0].Speaking)
	assert.Equal(t, "alice", participants[1].Login)
}

func TestPresenceGates(t *testing.T) {
	dir := newFakePresenceDir()
	p := newPresenceMgr(dir)

	assert.ErrorIs(t, p.SetPresence("alice", 0, false, true), errNoChannel)

	dir.nonMembers["eve"] = true
	assert.ErrorIs(t, p.SetPresence("eve", 1, false, true), errNotMember)
	_, err := p.Participants(1, "eve")
	assert.ErrorIs(t, err, errNotMember)

	dir.noVoice["muted"] = true
	assert.ErrorIs(t, p.SetPresence("muted", 1, false, true), errVoiceRoleGate)
	// leaving is always allowed
	assert.NoError(t, p.SetPresence("muted", 1, false, false))
}

func TestPresenceLeaseExpiry(t *testing.T) {
	now := time.Now()
	dir := newFakePresenceDir()
	p := newPresenceMgr(dir)
	p.now = func() time.Time { return now }

	require.NoError(t, p.SetPresence("alice", 1, false, true))
	require.NoError(t, p.SetPresence("bob", 1, false, true))

	// bob refreshes, alice goes silent
	now = now.Add(voicePresenceTTL - time.Second)
	require.NoError(t, p.SetPresence("bob", 1, false, true))
	now = now.Add(2 * time.Second)

	participants, err := p.Participants(1, "bob")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, "bob", participants[0].Login)
}

func TestPresenceJoinedFalseLeaves(t *testing.T) {
	dir := newFakePresenceDir()
	p := newPresenceMgr(dir)

	require.NoError(t, p.SetPresence("alice", 1, true, true))
	require.NoError(t, p.SetPresence("alice", 1, false, false))

	participants, err := p.Participants(1, "alice")
	require.NoError(t, err)
	assert.Empty(t, participants)
}

func TestPresenceCountsAndDrop(t *testing.T) {
	dir := newFakePresenceDir()
	p := newPresenceMgr(dir)

	require.NoError(t, p.SetPresence("alice", 1, false, true))
	require.NoError(t, p.SetPresence("bob", 1, false, true))
	require.NoError(t, p.SetPresence("carol", 2, false, true))

	counts := p.Counts()
	assert.Equal(t, 2, counts[1])
	assert.Equal(t, 1, counts[2])

	p.DropChannel(1)
	counts = p.Counts()
	assert.Zero(t, counts[1])
	assert.Equal(t, 1, counts[2])

	p.RemoveFromChannel(2, "carol")
	assert.Empty(t, p.Counts())
}
