package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicelink/wire"
)

// fakeDirectory answers every predicate positively unless told not to.
type fakeDirectory struct {
	missing   map[string]bool
	strangers map[string]bool
	offline   map[string]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		missing:   make(map[string]bool),
		strangers: make(map[string]bool),
		offline:   make(map[string]bool),
	}
}

func (d *fakeDirectory) UserExists(login string) bool { return !d.missing[login] }
func (d *fakeDirectory) AreFriends(a, b string) bool  { return !d.strangers[a] && !d.strangers[b] }
func (d *fakeDirectory) IsOnline(login string) bool   { return !d.offline[login] }

func newTestCallMgr() (*callMgr, *eventQueue, *fakeDirectory) {
	events := newEventQueue()
	dir := newFakeDirectory()
	return newCallMgr(events, dir), events, dir
}

func drainTypes(q *eventQueue, login string) []string {
	var out []string
	for _, ev := range q.Drain(login) {
		out = append(out, ev["type"].(string))
	}
	return out
}

func TestCallLifecycle(t *testing.T) {
	calls, events, _ := newTestCallMgr()

	require.NoError(t, calls.StartCall("alice", "bob"))
	bobEvents := events.Drain("bob")
	require.Len(t, bobEvents, 1)
	assert.Equal(t, wire.EventIncomingCall, bobEvents[0]["type"])
	assert.Equal(t, "alice", bobEvents[0]["from_user"])
	assert.False(t, calls.HasActivePair("alice", "bob"))

	require.True(t, calls.AcceptCall("bob", "alice"))
	assert.True(t, calls.HasActivePair("alice", "bob"))
	assert.True(t, calls.HasActivePair("bob", "alice"))

	// caller learns the accept, acceptor gets its own media-start signal
	assert.Equal(t, []string{wire.EventCallAccepted}, drainTypes(events, "alice"))
	assert.Equal(t, []string{wire.EventCallStarted}, drainTypes(events, "bob"))

	require.True(t, calls.EndCall("alice", "bob"))
	assert.False(t, calls.HasActivePair("alice", "bob"))
	_, inCall := calls.PeerOf("alice")
	assert.False(t, inCall)

	bobEnd := events.Drain("bob")
	require.Len(t, bobEnd, 1)
	assert.Equal(t, wire.EventCallEnded, bobEnd[0]["type"])
	assert.Equal(t, "alice", bobEnd[0]["by_user"])
}

func TestCallPreconditions(t *testing.T) {
	calls, _, dir := newTestCallMgr()

	dir.missing["ghost"] = true
	assert.ErrorIs(t, calls.StartCall("alice", "ghost"), errCallUnknownUser)

	dir.strangers["mallory"] = true
	assert.ErrorIs(t, calls.StartCall("alice", "mallory"), errCallNotFriends)

	dir.offline["carol"] = true
	assert.ErrorIs(t, calls.StartCall("alice", "carol"), errCallOffline)
}

func TestCallBusy(t *testing.T) {
	calls, _, _ := newTestCallMgr()

	require.NoError(t, calls.StartCall("alice", "bob"))
	// both ends of a ringing pair count as busy
	assert.ErrorIs(t, calls.StartCall("carol", "alice"), errCallBusy)
	assert.ErrorIs(t, calls.StartCall("carol", "bob"), errCallBusy)
	assert.ErrorIs(t, calls.StartCall("alice", "carol"), errCallBusy)
}

func TestCallDecline(t *testing.T) {
	calls, events, _ := newTestCallMgr()

	require.NoError(t, calls.StartCall("alice", "bob"))
	events.Drain("bob")
	require.True(t, calls.DeclineCall("bob", "alice"))

	aliceEvents := events.Drain("alice")
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, wire.EventCallDeclined, aliceEvents[0]["type"])
	assert.Equal(t, "bob", aliceEvents[0]["by_user"])

	// pair is gone, both are free again
	require.NoError(t, calls.StartCall("alice", "bob"))
}

func TestCallAcceptWrongPeer(t *testing.T) {
	calls, _, _ := newTestCallMgr()
	require.NoError(t, calls.StartCall("alice", "bob"))
	assert.False(t, calls.AcceptCall("bob", "carol"))
	assert.False(t, calls.AcceptCall("carol", "alice"))
}

func TestCallStalePrune(t *testing.T) {
	now := time.Now()
	calls, events, _ := newTestCallMgr()
	calls.now = func() time.Time { return now }

	require.NoError(t, calls.StartCall("alice", "bob"))
	require.True(t, calls.AcceptCall("bob", "alice"))
	events.Drain("alice")
	events.Drain("bob")

	// bob keeps polling, alice disappears
	now = now.Add(callStaleAfter - time.Second)
	calls.MarkActivity("bob")
	calls.PruneStale()
	assert.True(t, calls.HasActivePair("alice", "bob"))

	now = now.Add(2 * time.Second)
	calls.PruneStale()
	assert.False(t, calls.HasActivePair("alice", "bob"))

	for _, login := range []string{"alice", "bob"} {
		evs := events.Drain(login)
		require.Len(t, evs, 1, login)
		assert.Equal(t, wire.EventCallEnded, evs[0]["type"])
		assert.Equal(t, wire.SystemUser, evs[0]["by_user"])
	}

	// prune is idempotent
	calls.PruneStale()
	assert.Empty(t, events.Drain("alice"))
}

func TestCallCleanupForUser(t *testing.T) {
	calls, events, _ := newTestCallMgr()
	require.NoError(t, calls.StartCall("alice", "bob"))
	events.Drain("bob")

	calls.CleanupForUser("alice")
	_, inCall := calls.PeerOf("bob")
	assert.False(t, inCall)

	bobEvents := events.Drain("bob")
	require.Len(t, bobEvents, 1)
	assert.Equal(t, wire.EventCallEnded, bobEvents[0]["type"])
	assert.Equal(t, "alice", bobEvents[0]["by_user"])

	// no pair, no event
	calls.CleanupForUser("alice")
	assert.Empty(t, events.Drain("bob"))
}

func TestCallAtMostOnePairPerUser(t *testing.T) {
	calls, _, _ := newTestCallMgr()
	require.NoError(t, calls.StartCall("alice", "bob"))
	require.True(t, calls.AcceptCall("bob", "alice"))

	assert.ErrorIs(t, calls.StartCall("bob", "carol"), errCallBusy)

	pairs := calls.ActivePairs()
	require.Len(t, pairs, 1)
	assert.Equal(t, callActive, pairs[0]["status"])
}
