// callMgr is the one-to-one call signaling engine: a small state
// machine over pairs of logins (ringing -> active -> gone) that turns
// signaling actions into events for the peer. A login participates in
// at most one pair at a time. Pairs whose participants stop sending
// heartbeats/polls are force-released by PruneStale, which runs before
// every dispatched request, so a crashed client can never leave its
// peer permanently busy.
package main

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"voicelink/wire"
)

const callStaleAfter = 25 * time.Second

const (
	callRinging = "ringing"
	callActive  = "active"
)

var (
	errCallUnknownUser = errors.New("user not found")
	errCallNotFriends  = errors.New("can only call friends")
	errCallOffline     = errors.New("user is offline")
	errCallBusy        = errors.New("user is busy")
)

// callDirectory is what the engine needs to know about the outside
// world; implemented by the server over userStore and sessionMgr.
type callDirectory interface {
	UserExists(login string) bool
	AreFriends(a, b string) bool
	IsOnline(login string) bool
}

type callPair struct {
	A, B    string // canonical order, A < B
	Status  string
	Created time.Time
	Updated time.Time
}

type callMgr struct {
	mu       sync.Mutex
	pairs    map[string]*callPair // canonical "a|b" -> pair
	peer     map[string]string    // login -> peer login
	activity map[string]time.Time // login -> last call-related activity
	events   *eventQueue
	dir      callDirectory
	now      func() time.Time
}

func newCallMgr(events *eventQueue, dir callDirectory) *callMgr {
	return &callMgr{
		pairs:    make(map[string]*callPair),
		peer:     make(map[string]string),
		activity: make(map[string]time.Time),
		events:   events,
		dir:      dir,
		now:      time.Now,
	}
}

func pairKey(a, b string) string {
	if a <= b {
		return a + "|" + b
	}
	return b + "|" + a
}

// StartCall creates a ringing pair and notifies the callee.
func (c *callMgr) StartCall(from, to string) error {
	c.PruneStale()

	if !c.dir.UserExists(to) {
		return errCallUnknownUser
	}
	if !c.dir.AreFriends(from, to) {
		return errCallNotFriends
	}
	if !c.dir.IsOnline(to) {
		return errCallOffline
	}

	c.mu.Lock()
	if _, busy := c.peer[from]; busy {
		c.mu.Unlock()
		return errCallBusy
	}
	if _, busy := c.peer[to]; busy {
		c.mu.Unlock()
		return errCallBusy
	}
	now := c.now()
	c.pairs[pairKey(from, to)] = &callPair{
		A: minStr(from, to), B: maxStr(from, to),
		Status: callRinging, Created: now, Updated: now,
	}
	c.peer[from] = to
	c.peer[to] = from
	c.activity[from] = now
	c.activity[to] = now
	activeCallPairs.Set(float64(len(c.pairs)))
	c.mu.Unlock()

	if logWantedFor("calls") {
		log.Debugf("call start %s -> %s", from, to)
	}
	c.events.Push(to, wire.EventIncomingCall, map[string]interface{}{"from_user": from})
	return nil
}

// AcceptCall promotes a ringing pair to active. Both sides get an
// explicit media-start event: the caller call_accepted, the acceptor
// call_started. Each side independently opens its audio engine on that
// signal.
func (c *callMgr) AcceptCall(current, from string) bool {
	c.PruneStale()

	c.mu.Lock()
	if c.peer[current] != from {
		c.mu.Unlock()
		return false
	}
	pair := c.pairs[pairKey(current, from)]
	if pair == nil {
		c.mu.Unlock()
		return false
	}
	now := c.now()
	pair.Status = callActive
	pair.Updated = now
	c.activity[current] = now
	c.activity[from] = now
	c.mu.Unlock()

	if logWantedFor("calls") {
		log.Debugf("call accept %s <- %s", current, from)
	}
	c.events.Push(from, wire.EventCallAccepted, map[string]interface{}{
		"by_user": current, "with_user": current,
	})
	c.events.Push(current, wire.EventCallStarted, map[string]interface{}{
		"with_user": from,
	})
	return true
}

// DeclineCall removes a pair and notifies the caller.
func (c *callMgr) DeclineCall(current, from string) bool {
	c.PruneStale()

	if !c.removePair(current, from) {
		return false
	}
	c.events.Push(from, wire.EventCallDeclined, map[string]interface{}{"by_user": current})
	return true
}

// EndCall removes a pair and notifies the counterpart.
func (c *callMgr) EndCall(current, with string) bool {
	c.PruneStale()

	if !c.removePair(current, with) {
		return false
	}
	c.events.Push(with, wire.EventCallEnded, map[string]interface{}{
		"with_user": current, "by_user": current,
	})
	return true
}

// removePair drops the pair between current and expected peer. Returns
// false when no such pair exists (no-op failure, never an error).
func (c *callMgr) removePair(current, other string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer[current] != other {
		return false
	}
	c.dropLocked(current, other)
	return true
}

// dropLocked clears every trace of the pair. Caller holds mu.
func (c *callMgr) dropLocked(a, b string) {
	delete(c.pairs, pairKey(a, b))
	delete(c.peer, a)
	delete(c.peer, b)
	delete(c.activity, a)
	delete(c.activity, b)
	activeCallPairs.Set(float64(len(c.pairs)))
}

// MarkActivity refreshes liveness for a login's pair (heartbeat/poll).
func (c *callMgr) MarkActivity(login string) {
	if login == "" {
		return
	}
	c.mu.Lock()
	if _, inCall := c.peer[login]; inCall {
		c.activity[login] = c.now()
	}
	c.mu.Unlock()
}

// PruneStale force-removes every pair where either side has been silent
// longer than callStaleAfter and tells both sides the call ended.
// Idempotent and O(active pairs); runs before every dispatched request.
func (c *callMgr) PruneStale() {
	now := c.now()
	var stale [][2]string

	c.mu.Lock()
	for _, pair := range c.pairs {
		ta := c.activity[pair.A]
		tb := c.activity[pair.B]
		if now.Sub(ta) > callStaleAfter || now.Sub(tb) > callStaleAfter {
			stale = append(stale, [2]string{pair.A, pair.B})
		}
	}
	for _, p := range stale {
		c.dropLocked(p[0], p[1])
	}
	c.mu.Unlock()

	for _, p := range stale {
		log.Infof("call stale-released %s / %s", p[0], p[1])
		c.events.Push(p[0], wire.EventCallEnded, map[string]interface{}{
			"with_user": p[1], "by_user": wire.SystemUser,
		})
		c.events.Push(p[1], wire.EventCallEnded, map[string]interface{}{
			"with_user": p[0], "by_user": wire.SystemUser,
		})
	}
}

// CleanupForUser releases any pair the user participates in (logout,
// app close) and notifies the peer.
func (c *callMgr) CleanupForUser(login string) {
	c.mu.Lock()
	peer, inCall := c.peer[login]
	if inCall {
		c.dropLocked(login, peer)
	}
	c.mu.Unlock()
	if inCall {
		c.events.Push(peer, wire.EventCallEnded, map[string]interface{}{
			"with_user": login, "by_user": login,
		})
	}
}

// HasActivePair reports whether a and b are in an Active (accepted)
// call. The relay consults this before honoring a pairing request.
func (c *callMgr) HasActivePair(a, b string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pair := c.pairs[pairKey(a, b)]
	return pair != nil && pair.Status == callActive
}

// PeerOf returns the current peer of a login, if any.
func (c *callMgr) PeerOf(login string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	peer, ok := c.peer[login]
	return peer, ok
}

// ActivePairs returns a snapshot for the admin surface.
func (c *callMgr) ActivePairs() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(c.pairs))
	for _, pair := range c.pairs {
		out = append(out, map[string]interface{}{
			"user_a":  pair.A,
			"user_b":  pair.B,
			"status":  pair.Status,
			"created": pair.Created.UTC().Format(time.RFC3339),
			"updated": pair.Updated.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func minStr(a, b string) string {
	if a <= b {
		return a
	}
	return b
}

func maxStr(a, b string) string {
	if a <= b {
		return b
	}
	return a
}
