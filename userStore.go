// userStore holds user accounts, the friends graph and pending friend
// requests. The call signaling core only consumes its read predicates
// (UserExists, AreFriends, Profile); the mutation surface exists so the
// service is self-contained.
package main

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"voicelink/skv"
)

const (
	dbUserBucket      = "users"
	dbFriendBucket    = "friends"
	dbFriendReqBucket = "friendRequests"

	pbkdf2Prefix = "pbkdf2_sha256"
	pbkdf2Iters  = 200_000
	pbkdf2KeyLen = 32
)

var (
	errLoginTaken   = errors.New("login already exists")
	errUserNotFound = errors.New("user not found")
)

type dbUser struct {
	Login    string
	Password string // pbkdf2_sha256$iters$salt$dk, or legacy plaintext
	Nickname string
	Avatar   string
}

type userStore struct {
	mu sync.Mutex
	kv skv.KV
}

func newUserStore(kv skv.KV) *userStore {
	return &userStore{kv: kv}
}

// hashPassword produces a pbkdf2_sha256$iters$salt$dk record.
func hashPassword(password string) string {
	salt := make([]byte, 16)
	rand.Read(salt)
	dk := pbkdf2.Key([]byte(password), salt, pbkdf2Iters, pbkdf2KeyLen, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s",
		pbkdf2Prefix, pbkdf2Iters,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(dk))
}

// verifyPassword checks a password against a stored record. Legacy
// plaintext records are still accepted (and upgraded on login).
func verifyPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	if strings.HasPrefix(stored, pbkdf2Prefix+"$") {
		parts := strings.SplitN(stored, "$", 4)
		if len(parts) != 4 {
			return false
		}
		iters, err := strconv.Atoi(parts[1])
		if err != nil || iters <= 0 {
			return false
		}
		salt, err := base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			return false
		}
		expected, err := base64.StdEncoding.DecodeString(parts[3])
		if err != nil {
			return false
		}
		dk := pbkdf2.Key([]byte(password), salt, iters, len(expected), sha256.New)
		return hmac.Equal(dk, expected)
	}
	// legacy plaintext
	return hmac.Equal([]byte(password), []byte(stored))
}

func (u *userStore) Register(login, password, nickname, avatar string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.kv.Get(dbUserBucket, login, nil) == nil {
		return errLoginTaken
	}
	return u.kv.Put(dbUserBucket, login, dbUser{
		Login:    login,
		Password: hashPassword(password),
		Nickname: nickname,
		Avatar:   avatar,
	})
}

// Authenticate verifies credentials, transparently upgrading legacy
// plaintext password records to pbkdf2 on success.
func (u *userStore) Authenticate(login, password string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	var user dbUser
	if u.kv.Get(dbUserBucket, login, &user) != nil {
		return false
	}
	if !verifyPassword(password, user.Password) {
		return false
	}
	if !strings.HasPrefix(user.Password, pbkdf2Prefix+"$") {
		user.Password = hashPassword(password)
		u.kv.Put(dbUserBucket, login, user)
	}
	return true
}

func (u *userStore) UserExists(login string) bool {
	return u.kv.Get(dbUserBucket, login, nil) == nil
}

// Profile returns nickname and avatar, falling back to the login.
func (u *userStore) Profile(login string) (string, string) {
	var user dbUser
	if u.kv.Get(dbUserBucket, login, &user) != nil {
		return login, ""
	}
	if user.Nickname == "" {
		user.Nickname = login
	}
	return user.Nickname, user.Avatar
}

func (u *userStore) UpdateProfile(login, nickname, password, avatar string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var user dbUser
	if u.kv.Get(dbUserBucket, login, &user) != nil {
		return errUserNotFound
	}
	user.Nickname = nickname
	user.Avatar = avatar
	if password != "" {
		user.Password = hashPassword(password)
	}
	return u.kv.Put(dbUserBucket, login, user)
}

// -------------------- friends graph --------------------

func (u *userStore) friendsOf(login string) []string {
	var list []string
	u.kv.Get(dbFriendBucket, login, &list)
	return list
}

func (u *userStore) AreFriends(a, b string) bool {
	if a == "" || b == "" || a == b {
		return false
	}
	for _, f := range u.friendsOf(a) {
		if f == b {
			return true
		}
	}
	return false
}

func (u *userStore) Friends(login string) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.friendsOf(login)
}

// SendFriendRequest queues a request unless the pair is already
// friends or a request is already pending.
func (u *userStore) SendFriendRequest(from, to string) bool {
	if from == to || from == "" || to == "" {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.kv.Get(dbUserBucket, to, nil) != nil {
		return false
	}
	for _, f := range u.friendsOf(from) {
		if f == to {
			return false
		}
	}
	var pending []string
	u.kv.Get(dbFriendReqBucket, to, &pending)
	for _, p := range pending {
		if p == from {
			return false
		}
	}
	pending = append(pending, from)
	return u.kv.Put(dbFriendReqBucket, to, pending) == nil
}

func (u *userStore) FriendRequests(to string) []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	var pending []string
	u.kv.Get(dbFriendReqBucket, to, &pending)
	return pending
}

// AcceptFriendRequest consumes a pending request and links both sides.
// Only an existing request can be accepted.
func (u *userStore) AcceptFriendRequest(from, to string) bool {
	if from == "" || to == "" || from == to {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.dropRequestLocked(from, to) {
		return false
	}
	u.linkLocked(from, to)
	u.linkLocked(to, from)
	return true
}

func (u *userStore) DeclineFriendRequest(from, to string) bool {
	if from == "" || to == "" || from == to {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dropRequestLocked(from, to)
}

// RemoveFriend severs the friendship in both directions and clears any
// pending requests between the two users.
func (u *userStore) RemoveFriend(current, friend string) bool {
	if current == "" || friend == "" || current == friend {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	removed := u.unlinkLocked(current, friend)
	removed = u.unlinkLocked(friend, current) || removed
	removed = u.dropRequestLocked(current, friend) || removed
	removed = u.dropRequestLocked(friend, current) || removed
	return removed
}

func (u *userStore) linkLocked(owner, friend string) {
	list := u.friendsOf(owner)
	for _, f := range list {
		if f == friend {
			return
		}
	}
	u.kv.Put(dbFriendBucket, owner, append(list, friend))
}

func (u *userStore) unlinkLocked(owner, friend string) bool {
	list := u.friendsOf(owner)
	out := list[:0]
	removed := false
	for _, f := range list {
		if f == friend {
			removed = true
			continue
		}
		out = append(out, f)
	}
	if removed {
		u.kv.Put(dbFriendBucket, owner, append([]string{}, out...))
	}
	return removed
}

func (u *userStore) dropRequestLocked(from, to string) bool {
	var pending []string
	u.kv.Get(dbFriendReqBucket, to, &pending)
	out := pending[:0]
	removed := false
	for _, p := range pending {
		if p == from {
			removed = true
			continue
		}
		out = append(out, p)
	}
	if removed {
		u.kv.Put(dbFriendReqBucket, to, append([]string{}, out...))
	}
	return removed
}
