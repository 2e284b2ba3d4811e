// msgStore persists direct and channel chat history plus per-pair
// unread counters. History rows are append-only slices keyed by the
// canonical pair (direct) or the channel id.
package main

import (
	"strconv"
	"sync"
	"time"

	"voicelink/skv"
)

const (
	dbMessageBucket        = "messages"
	dbUnreadBucket         = "unread"
	dbChannelMessageBucket = "channelMessages"

	messageDefaultLimit = 100
	messageMaxLimit     = 500
)

type dbMessage struct {
	From string
	Text string
	Ts   time.Time
}

type msgStore struct {
	mu sync.Mutex
	kv skv.KV
}

func newMsgStore(kv skv.KV) *msgStore {
	return &msgStore{kv: kv}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return messageDefaultLimit
	}
	if limit > messageMaxLimit {
		return messageMaxLimit
	}
	return limit
}

// SaveMessage appends a direct message and bumps the recipient's unread
// counter for the sender.
func (m *msgStore) SaveMessage(from, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(from, to)
	var history []dbMessage
	m.kv.Get(dbMessageBucket, key, &history)
	history = append(history, dbMessage{From: from, Text: text, Ts: time.Now()})
	if err := m.kv.Put(dbMessageBucket, key, history); err != nil {
		return err
	}
	counts := make(map[string]int)
	m.kv.Get(dbUnreadBucket, to, &counts)
	counts[from]++
	return m.kv.Put(dbUnreadBucket, to, counts)
}

// Messages returns up to limit most recent direct messages between a
// and b, in chronological order.
func (m *msgStore) Messages(a, b string, limit int) []dbMessage {
	limit = clampLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	var history []dbMessage
	m.kv.Get(dbMessageBucket, pairKey(a, b), &history)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

// MarkRead clears the unread counter current has for messages from peer.
func (m *msgStore) MarkRead(current, peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	if m.kv.Get(dbUnreadBucket, current, &counts) != nil {
		return
	}
	if _, ok := counts[peer]; !ok {
		return
	}
	delete(counts, peer)
	m.kv.Put(dbUnreadBucket, current, counts)
}

// UnreadCounts returns login's unread counters keyed by sender.
func (m *msgStore) UnreadCounts(login string) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	m.kv.Get(dbUnreadBucket, login, &counts)
	return counts
}

// SaveChannelMessage appends a message to a channel's history.
func (m *msgStore) SaveChannelMessage(channelID int64, from, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strconv.FormatInt(channelID, 10)
	var history []dbMessage
	m.kv.Get(dbChannelMessageBucket, key, &history)
	history = append(history, dbMessage{From: from, Text: text, Ts: time.Now()})
	return m.kv.Put(dbChannelMessageBucket, key, history)
}

// ChannelMessages returns up to limit most recent channel messages, in
// chronological order.
func (m *msgStore) ChannelMessages(channelID int64, limit int) []dbMessage {
	limit = clampLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	var history []dbMessage
	m.kv.Get(dbChannelMessageBucket, strconv.FormatInt(channelID, 10), &history)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

// DeleteChannelMessages drops a channel's history (channel deleted).
func (m *msgStore) DeleteChannelMessages(channelID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv.Delete(dbChannelMessageBucket, strconv.FormatInt(channelID, 10))
}
