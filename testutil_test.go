package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"voicelink/skv"
)

// openTestKV opens a throwaway bolt db with all service buckets.
func openTestKV(t *testing.T) skv.SKV {
	t.Helper()
	kv, err := skv.DbOpen("test.db", t.TempDir()+"/")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	for _, bucket := range dbBuckets {
		require.NoError(t, kv.CreateBucket(bucket))
	}
	return kv
}

// newTestServer wires a full server over a throwaway db, the way main()
// does it.
func newTestServer(t *testing.T) *server {
	t.Helper()
	kv := openTestKV(t)
	users := newUserStore(kv)
	sessions := newSessionMgr(kv)
	channels := newChannelStore(kv)
	msgs := newMsgStore(kv)
	events := newEventQueue()
	dir := &coreDirectory{users: users, sessions: sessions, channels: channels}
	return &server{
		users:    users,
		sessions: sessions,
		events:   events,
		calls:    newCallMgr(events, dir),
		presence: newPresenceMgr(dir),
		channels: channels,
		msgs:     msgs,
	}
}
