package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectMessagesAndUnread(t *testing.T) {
	m := newMsgStore(openTestKV(t))

	require.NoError(t, m.SaveMessage("alice", "bob", "hi"))
	require.NoError(t, m.SaveMessage("bob", "alice", "hello"))
	require.NoError(t, m.SaveMessage("alice", "bob", "how are you"))

	history := m.Messages("bob", "alice", 0)
	require.Len(t, history, 3)
	assert.Equal(t, "hi", history[0].Text)
	assert.Equal(t, "how are you", history[2].Text)
	// both directions see the same thread
	assert.Equal(t, history, m.Messages("alice", "bob", 0))

	assert.Equal(t, 2, m.UnreadCounts("bob")["alice"])
	assert.Equal(t, 1, m.UnreadCounts("alice")["bob"])

	m.MarkRead("bob", "alice")
	assert.Zero(t, m.UnreadCounts("bob")["alice"])
	assert.Equal(t, 1, m.UnreadCounts("alice")["bob"])
}

func TestMessageLimit(t *testing.T) {
	m := newMsgStore(openTestKV(t))
	for i := 0; i < 10; i++ {
		require.NoError(t, m.SaveMessage("alice", "bob", fmt.Sprintf("msg%d", i)))
	}
	history := m.Messages("alice", "bob", 3)
	require.Len(t, history, 3)
	assert.Equal(t, "msg7", history[0].Text)
	assert.Equal(t, "msg9", history[2].Text)
}

func TestChannelMessages(t *testing.T) {
	m := newMsgStore(openTestKV(t))
	require.NoError(t, m.SaveChannelMessage(7, "alice", "welcome"))
	require.NoError(t, m.SaveChannelMessage(7, "bob", "thanks"))
	require.NoError(t, m.SaveChannelMessage(8, "carol", "other channel"))

	history := m.ChannelMessages(7, 0)
	require.Len(t, history, 2)
	assert.Equal(t, "alice", history[0].From)

	m.DeleteChannelMessages(7)
	assert.Empty(t, m.ChannelMessages(7, 0))
	assert.Len(t, m.ChannelMessages(8, 0), 1)
}
