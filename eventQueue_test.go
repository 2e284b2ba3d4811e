package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPushDrain(t *testing.T) {
	q := newEventQueue()
	q.Push("alice", "incoming_call", map[string]interface{}{"from_user": "bob"})

	events := q.Drain("alice")
	require.Len(t, events, 1)
	assert.Equal(t, "incoming_call", events[0]["type"])
	assert.Equal(t, "bob", events[0]["from_user"])
	assert.NotEmpty(t, events[0]["ts"])

	// drain is destructive
	assert.Empty(t, q.Drain("alice"))
}

func TestEventCap(t *testing.T) {
	q := newEventQueue()
	for i := 0; i < eventMaxPerUser+50; i++ {
		q.Push("alice", "call_ended", map[string]interface{}{"n": i})
	}
	events := q.Drain("alice")
	require.Len(t, events, eventMaxPerUser)
	// oldest dropped, newest kept
	assert.Equal(t, 50, events[0]["n"])
}

func TestEventTTL(t *testing.T) {
	now := time.Now()
	q := newEventQueue()
	q.now = func() time.Time { return now }

	q.Push("alice", "call_ended", nil)
	now = now.Add(eventTTL + time.Second)
	q.Push("alice", "incoming_call", map[string]interface{}{"from_user": "bob"})

	events := q.Drain("alice")
	require.Len(t, events, 1)
	assert.Equal(t, "incoming_call", events[0]["type"])
}

func TestEventQueuesIsolated(t *testing.T) {
	q := newEventQueue()
	for i := 0; i < 3; i++ {
		q.Push(fmt.Sprintf("user%d", i), "call_ended", nil)
	}
	assert.Equal(t, 1, q.Pending("user0"))
	q.Drain("user0")
	assert.Equal(t, 0, q.Pending("user0"))
	assert.Equal(t, 1, q.Pending("user1"))
}
