// sessionMgr issues and validates the opaque bearer tokens used by every
// authenticated control-plane request, and derives "online" status from
// session last-seen timestamps. Sessions are kept in memory for fast
// validation and written through to the sessions bucket so tokens
// survive a server restart (clients auto-login with a stored token).
package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"voicelink/skv"
)

const (
	sessionTTL           = 30 * 24 * time.Hour
	onlineWindow         = 45 * time.Second
	sessionTouchInterval = 3 * time.Second
	dbSessionBucket      = "sessions"
)

type session struct {
	Token     string
	Login     string
	CreatedAt time.Time
	LastSeen  time.Time
	ExpiresAt time.Time
}

type sessionMgr struct {
	mu        sync.Mutex
	byToken   map[string]*session
	byLogin   map[string]map[string]*session
	lastWrite map[string]time.Time // touch-throttle per token
	kv        skv.KV               // nil in tests
	now       func() time.Time
}

func newSessionMgr(kv skv.KV) *sessionMgr {
	m := &sessionMgr{
		byToken:   make(map[string]*session),
		byLogin:   make(map[string]map[string]*session),
		lastWrite: make(map[string]time.Time),
		kv:        kv,
		now:       time.Now,
	}
	m.loadFromDb()
	return m
}

func (m *sessionMgr) loadFromDb() {
	if m.kv == nil {
		return
	}
	count := 0
	err := m.kv.ForEach(dbSessionBucket, func(key string, raw []byte) error {
		var sess session
		if err := skv.Decode(raw, &sess); err != nil {
			return nil // skip undecodable row
		}
		if sess.ExpiresAt.Before(m.now()) {
			return nil
		}
		m.index(&sess)
		count++
		return nil
	})
	if err != nil {
		log.Warnf("# sessionMgr load err=%v", err)
	}
	if count > 0 {
		log.Infof("sessionMgr loaded %d sessions", count)
	}
}

// index links a session into both lookup maps. Caller holds mu (or runs
// before the manager is shared).
func (m *sessionMgr) index(sess *session) {
	m.byToken[sess.Token] = sess
	perLogin := m.byLogin[sess.Login]
	if perLogin == nil {
		perLogin = make(map[string]*session)
		m.byLogin[sess.Login] = perLogin
	}
	perLogin[sess.Token] = sess
}

func (m *sessionMgr) unindex(sess *session) {
	delete(m.byToken, sess.Token)
	delete(m.lastWrite, sess.Token)
	if perLogin := m.byLogin[sess.Login]; perLogin != nil {
		delete(perLogin, sess.Token)
		if len(perLogin) == 0 {
			delete(m.byLogin, sess.Login)
		}
	}
}

func newToken() string {
	// two v4 uuids, hex only: opaque and unguessable
	return strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
}

// Create issues a fresh session for login.
func (m *sessionMgr) Create(login string) (string, time.Time) {
	now := m.now()
	sess := &session{
		Token:     newToken(),
		Login:     login,
		CreatedAt: now,
		LastSeen:  now,
		ExpiresAt: now.Add(sessionTTL),
	}
	m.mu.Lock()
	m.index(sess)
	m.mu.Unlock()
	m.persist(sess)
	return sess.Token, sess.ExpiresAt
}

// Validate resolves a token to its login. Expired tokens are removed.
func (m *sessionMgr) Validate(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byToken[token]
	if !ok {
		return "", false
	}
	if sess.ExpiresAt.Before(m.now()) {
		m.unindex(sess)
		m.deleteDb(token)
		return "", false
	}
	return sess.Login, true
}

// Touch refreshes last_seen, throttled to one write per token per
// sessionTouchInterval to bound write pressure under frequent polling.
func (m *sessionMgr) Touch(token string) {
	now := m.now()
	m.mu.Lock()
	sess, ok := m.byToken[token]
	if !ok {
		m.mu.Unlock()
		return
	}
	if prev, seen := m.lastWrite[token]; seen && now.Sub(prev) < sessionTouchInterval {
		m.mu.Unlock()
		return
	}
	m.lastWrite[token] = now
	sess.LastSeen = now
	cp := *sess
	m.mu.Unlock()
	if err := m.persist(&cp); err != nil {
		// allow an earlier retry after a failed write
		m.mu.Lock()
		delete(m.lastWrite, token)
		m.mu.Unlock()
	}
}

// Invalidate removes a session (logout).
func (m *sessionMgr) Invalidate(token string) {
	m.mu.Lock()
	sess, ok := m.byToken[token]
	if ok {
		m.unindex(sess)
	}
	m.mu.Unlock()
	if ok {
		m.deleteDb(token)
	}
}

// SoftOffline pushes last_seen outside the online window but keeps the
// token valid, for fast presence convergence on app close while still
// allowing auto-login on the next start.
func (m *sessionMgr) SoftOffline(token string) {
	m.mu.Lock()
	sess, ok := m.byToken[token]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess.LastSeen = m.now().Add(-(onlineWindow + 5*time.Second))
	delete(m.lastWrite, token)
	cp := *sess
	m.mu.Unlock()
	m.persist(&cp)
}

// IsOnline is a derived read: a login is online iff any of its
// unexpired sessions was seen within the online window. Create sets
// LastSeen, so a fresh login counts immediately.
func (m *sessionMgr) IsOnline(login string) bool {
	if login == "" {
		return false
	}
	now := m.now()
	windowStart := now.Add(-onlineWindow)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.byLogin[login] {
		if sess.ExpiresAt.Before(now) {
			continue
		}
		if sess.LastSeen.After(windowStart) {
			return true
		}
	}
	return false
}

// OnlineLogins returns the set of currently online logins.
func (m *sessionMgr) OnlineLogins() map[string]bool {
	now := m.now()
	windowStart := now.Add(-onlineWindow)
	out := make(map[string]bool)
	m.mu.Lock()
	defer m.mu.Unlock()
	for login, sessions := range m.byLogin {
		for _, sess := range sessions {
			if sess.ExpiresAt.Before(now) {
				continue
			}
			if sess.LastSeen.After(windowStart) {
				out[login] = true
				break
			}
		}
	}
	return out
}

// SweepExpired drops sessions past their TTL. Called by ticker30sec.
func (m *sessionMgr) SweepExpired() int {
	now := m.now()
	var expired []*session
	m.mu.Lock()
	for _, sess := range m.byToken {
		if sess.ExpiresAt.Before(now) {
			expired = append(expired, sess)
		}
	}
	for _, sess := range expired {
		m.unindex(sess)
	}
	m.mu.Unlock()
	for _, sess := range expired {
		m.deleteDb(sess.Token)
	}
	return len(expired)
}

func (m *sessionMgr) persist(sess *session) error {
	if m.kv == nil {
		return nil
	}
	err := m.kv.Put(dbSessionBucket, sess.Token, sess)
	if err != nil {
		log.Warnf("# sessionMgr persist token=%s... err=%v", sess.Token[:8], err)
	}
	return err
}

func (m *sessionMgr) deleteDb(token string) {
	if m.kv == nil {
		return
	}
	if err := m.kv.Delete(dbSessionBucket, token); err != nil && err != skv.ErrNotFound {
		log.Warnf("# sessionMgr delete token=%s... err=%v", token[:8], err)
	}
}

func (m *sessionMgr) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("sessions=%d logins=%d", len(m.byToken), len(m.byLogin))
}
