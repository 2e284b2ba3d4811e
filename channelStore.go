// channelStore holds group channels: metadata, join codes, membership
// with roles, invites, and the role gates for text and voice. Roles are
// ranked member < moderator < admin < owner; the owner login outranks
// everything regardless of the stored member row.
package main

import (
	"crypto/rand"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"voicelink/skv"
)

const (
	dbChannelBucket       = "channels"
	dbChannelCodeBucket   = "channelCodes"
	dbChannelMemberBucket = "channelMembers"
	dbUserChannelBucket   = "userChannels"
	dbChannelInviteBucket = "channelInvites"

	channelCodeLen = 8
)

const (
	roleMember    = "member"
	roleModerator = "moderator"
	roleAdmin     = "admin"
	roleOwner     = "owner"
)

const (
	inviteStatusPending  = "pending"
	inviteStatusAccepted = "accepted"
	inviteStatusDeclined = "declined"
)

var (
	errChannelNotFound = errors.New("channel not found")
	errBadChannelCode  = errors.New("invalid channel code")
	errAlreadyMember   = errors.New("already a member")
	errNotChannelOwner = errors.New("only the owner can do that")
	errRoleTooLow      = errors.New("insufficient role")
	errBadRole         = errors.New("unknown role")
)

func roleRank(role string) int {
	switch role {
	case roleMember:
		return 1
	case roleModerator:
		return 2
	case roleAdmin:
		return 3
	case roleOwner:
		return 4
	}
	return 0
}

type dbChannel struct {
	ID           int64
	Code         string
	Name         string
	Avatar       string
	OwnerLogin   string
	TextMinRole  string
	VoiceMinRole string
	CreatedAt    time.Time
}

type dbMember struct {
	Role     string
	JoinedAt time.Time
}

type dbInvite struct {
	ID        int64
	ChannelID int64
	FromLogin string
	ToLogin   string
	Status    string
	CreatedAt time.Time
}

type channelStore struct {
	mu sync.Mutex
	kv skv.KV
}

func newChannelStore(kv skv.KV) *channelStore {
	return &channelStore{kv: kv}
}

func channelKey(id int64) string { return strconv.FormatInt(id, 10) }

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func newChannelCode() string {
	buf := make([]byte, channelCodeLen)
	rand.Read(buf)
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf)
}

// Create makes a channel owned by login with a fresh join code. Unset
// role gates default to member (everyone in the channel).
func (c *channelStore) Create(owner, name, avatar, textMinRole, voiceMinRole string) (*dbChannel, error) {
	if textMinRole == "" {
		textMinRole = roleMember
	}
	if voiceMinRole == "" {
		voiceMinRole = roleMember
	}
	if roleRank(textMinRole) == 0 || roleRank(voiceMinRole) == 0 {
		return nil, errBadRole
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.kv.NextSequence(dbChannelBucket)
	if err != nil {
		return nil, err
	}
	code := newChannelCode()
	for c.kv.Get(dbChannelCodeBucket, code, nil) == nil {
		code = newChannelCode()
	}
	ch := dbChannel{
		ID:           int64(id),
		Code:         code,
		Name:         name,
		Avatar:       avatar,
		OwnerLogin:   owner,
		TextMinRole:  textMinRole,
		VoiceMinRole: voiceMinRole,
		CreatedAt:    time.Now(),
	}
	if err := c.kv.Put(dbChannelBucket, channelKey(ch.ID), ch); err != nil {
		return nil, err
	}
	if err := c.kv.Put(dbChannelCodeBucket, code, ch.ID); err != nil {
		return nil, err
	}
	// the owner row carries the admin role; ownership itself comes from
	// OwnerLogin and always wins
	c.addMemberLocked(ch.ID, owner, roleAdmin)
	return &ch, nil
}

func (c *channelStore) channel(id int64) (*dbChannel, bool) {
	var ch dbChannel
	if c.kv.Get(dbChannelBucket, channelKey(id), &ch) != nil {
		return nil, false
	}
	return &ch, true
}

// Channel returns channel metadata by id.
func (c *channelStore) Channel(id int64) (*dbChannel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel(id)
}

func (c *channelStore) members(id int64) map[string]dbMember {
	m := make(map[string]dbMember)
	c.kv.Get(dbChannelMemberBucket, channelKey(id), &m)
	return m
}

func (c *channelStore) addMemberLocked(id int64, login, role string) error {
	m := c.members(id)
	m[login] = dbMember{Role: role, JoinedAt: time.Now()}
	if err := c.kv.Put(dbChannelMemberBucket, channelKey(id), m); err != nil {
		return err
	}
	var chans []int64
	c.kv.Get(dbUserChannelBucket, login, &chans)
	for _, cid := range chans {
		if cid == id {
			return nil
		}
	}
	return c.kv.Put(dbUserChannelBucket, login, append(chans, id))
}

func (c *channelStore) removeMemberLocked(id int64, login string) {
	m := c.members(id)
	delete(m, login)
	c.kv.Put(dbChannelMemberBucket, channelKey(id), m)
	var chans []int64
	c.kv.Get(dbUserChannelBucket, login, &chans)
	out := chans[:0]
	for _, cid := range chans {
		if cid != id {
			out = append(out, cid)
		}
	}
	c.kv.Put(dbUserChannelBucket, login, append([]int64{}, out...))
}

// JoinByCode adds login as a member of the channel with that code.
func (c *channelStore) JoinByCode(login, code string) (*dbChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var id int64
	if c.kv.Get(dbChannelCodeBucket, code, &id) != nil {
		return nil, errBadChannelCode
	}
	ch, ok := c.channel(id)
	if !ok {
		return nil, errChannelNotFound
	}
	if _, member := c.members(id)[login]; member {
		return nil, errAlreadyMember
	}
	if err := c.addMemberLocked(id, login, roleMember); err != nil {
		return nil, err
	}
	return ch, nil
}

// ChannelsOf lists the channels login belongs to, sorted by id.
func (c *channelStore) ChannelsOf(login string) []*dbChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int64
	c.kv.Get(dbUserChannelBucket, login, &ids)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*dbChannel, 0, len(ids))
	for _, id := range ids {
		if ch, ok := c.channel(id); ok {
			out = append(out, ch)
		}
	}
	return out
}

func (c *channelStore) IsMember(id int64, login string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members(id)[login]
	return ok
}

// RoleOf returns the effective role of login in channel id, "" for
// non-members. The owner login is always "owner".
func (c *channelStore) RoleOf(id int64, login string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roleLocked(id, login)
}

func (c *channelStore) roleLocked(id int64, login string) string {
	ch, ok := c.channel(id)
	if !ok {
		return ""
	}
	if ch.OwnerLogin == login {
		return roleOwner
	}
	row, member := c.members(id)[login]
	if !member {
		return ""
	}
	return row.Role
}

// CanSendText reports whether login passes the channel's text role gate.
func (c *channelStore) CanSendText(id int64, login string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channel(id)
	if !ok {
		return false
	}
	role := c.roleLocked(id, login)
	return role == roleOwner || (role != "" && roleRank(role) >= roleRank(ch.TextMinRole))
}

// CanJoinVoice reports whether login passes the channel's voice role
// gate. The owner always passes.
func (c *channelStore) CanJoinVoice(id int64, login string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channel(id)
	if !ok {
		return false
	}
	role := c.roleLocked(id, login)
	return role == roleOwner || (role != "" && roleRank(role) >= roleRank(ch.VoiceMinRole))
}

// SetMemberRole changes target's role. The actor must outrank both the
// target's current role and the new role; the owner row is immutable.
func (c *channelStore) SetMemberRole(id int64, actor, target, newRole string) error {
	if roleRank(newRole) == 0 || newRole == roleOwner {
		return errBadRole
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channel(id)
	if !ok {
		return errChannelNotFound
	}
	if target == ch.OwnerLogin {
		return errRoleTooLow
	}
	actorRank := roleRank(c.roleLocked(id, actor))
	targetRole := c.roleLocked(id, target)
	if targetRole == "" {
		return errUserNotFound
	}
	if actorRank <= roleRank(targetRole) || actorRank <= roleRank(newRole) {
		return errRoleTooLow
	}
	m := c.members(id)
	row := m[target]
	row.Role = newRole
	m[target] = row
	return c.kv.Put(dbChannelMemberBucket, channelKey(id), m)
}

// RemoveMember kicks target from the channel. Moderators can kick
// members; admins can kick members and moderators; nobody kicks the
// owner.
func (c *channelStore) RemoveMember(id int64, actor, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channel(id)
	if !ok {
		return errChannelNotFound
	}
	if target == ch.OwnerLogin {
		return errRoleTooLow
	}
	targetRole := c.roleLocked(id, target)
	if targetRole == "" {
		return errUserNotFound
	}
	actorRank := roleRank(c.roleLocked(id, actor))
	if actorRank < roleRank(roleModerator) || actorRank <= roleRank(targetRole) {
		return errRoleTooLow
	}
	c.removeMemberLocked(id, target)
	return nil
}

// Leave removes the caller from the channel. The owner cannot leave
// their own channel; they delete it instead.
func (c *channelStore) Leave(id int64, login string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channel(id)
	if !ok {
		return errChannelNotFound
	}
	if ch.OwnerLogin == login {
		return errNotChannelOwner
	}
	if _, member := c.members(id)[login]; !member {
		return errNotMember
	}
	c.removeMemberLocked(id, login)
	return nil
}

// DeleteChannel removes the channel, its code, and all member rows.
// Owner only.
func (c *channelStore) DeleteChannel(id int64, actor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channel(id)
	if !ok {
		return errChannelNotFound
	}
	if ch.OwnerLogin != actor {
		return errNotChannelOwner
	}
	for login := range c.members(id) {
		c.removeMemberLocked(id, login)
	}
	c.kv.Delete(dbChannelCodeBucket, ch.Code)
	c.kv.Delete(dbChannelMemberBucket, channelKey(id))
	return c.kv.Delete(dbChannelBucket, channelKey(id))
}

// UpdateSettings edits name/avatar and the role gates. Owner only.
// Empty fields keep their current value.
func (c *channelStore) UpdateSettings(id int64, actor, name, avatar, textMinRole, voiceMinRole string) (*dbChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channel(id)
	if !ok {
		return nil, errChannelNotFound
	}
	if ch.OwnerLogin != actor {
		return nil, errNotChannelOwner
	}
	if name != "" {
		ch.Name = name
	}
	if avatar != "" {
		ch.Avatar = avatar
	}
	if textMinRole != "" {
		if roleRank(textMinRole) == 0 {
			return nil, errBadRole
		}
		ch.TextMinRole = textMinRole
	}
	if voiceMinRole != "" {
		if roleRank(voiceMinRole) == 0 {
			return nil, errBadRole
		}
		ch.VoiceMinRole = voiceMinRole
	}
	if err := c.kv.Put(dbChannelBucket, channelKey(id), *ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// RegenerateCode replaces the join code, invalidating the old one.
// Owner only.
func (c *channelStore) RegenerateCode(id int64, actor string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channel(id)
	if !ok {
		return "", errChannelNotFound
	}
	if ch.OwnerLogin != actor {
		return "", errNotChannelOwner
	}
	code := newChannelCode()
	for c.kv.Get(dbChannelCodeBucket, code, nil) == nil {
		code = newChannelCode()
	}
	c.kv.Delete(dbChannelCodeBucket, ch.Code)
	ch.Code = code
	if err := c.kv.Put(dbChannelCodeBucket, code, ch.ID); err != nil {
		return "", err
	}
	if err := c.kv.Put(dbChannelBucket, channelKey(id), *ch); err != nil {
		return "", err
	}
	return code, nil
}

// InviteUser creates a pending invite. Any member may invite.
func (c *channelStore) InviteUser(id int64, from, to string) (*dbInvite, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channel(id); !ok {
		return nil, errChannelNotFound
	}
	members := c.members(id)
	if _, member := members[from]; !member {
		return nil, errNotMember
	}
	if _, member := members[to]; member {
		return nil, errAlreadyMember
	}
	var dup bool
	c.kv.ForEach(dbChannelInviteBucket, func(key string, raw []byte) error {
		var inv dbInvite
		if skv.Decode(raw, &inv) == nil &&
			inv.ChannelID == id && inv.ToLogin == to && inv.Status == inviteStatusPending {
			dup = true
		}
		return nil
	})
	if dup {
		return nil, errAlreadyMember
	}
	seq, err := c.kv.NextSequence(dbChannelInviteBucket)
	if err != nil {
		return nil, err
	}
	inv := dbInvite{
		ID:        int64(seq),
		ChannelID: id,
		FromLogin: from,
		ToLogin:   to,
		Status:    inviteStatusPending,
		CreatedAt: time.Now(),
	}
	if err := c.kv.Put(dbChannelInviteBucket, channelKey(inv.ID), inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// PendingInvites lists pending invites addressed to login, oldest first.
func (c *channelStore) PendingInvites(login string) []dbInvite {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []dbInvite
	c.kv.ForEach(dbChannelInviteBucket, func(key string, raw []byte) error {
		var inv dbInvite
		if skv.Decode(raw, &inv) == nil &&
			inv.ToLogin == login && inv.Status == inviteStatusPending {
			out = append(out, inv)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RespondInvite accepts or declines a pending invite addressed to
// login. Accepting joins the channel as member.
func (c *channelStore) RespondInvite(inviteID int64, login string, accept bool) (*dbChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var inv dbInvite
	if c.kv.Get(dbChannelInviteBucket, channelKey(inviteID), &inv) != nil {
		return nil, errUserNotFound
	}
	if inv.ToLogin != login || inv.Status != inviteStatusPending {
		return nil, errUserNotFound
	}
	if !accept {
		inv.Status = inviteStatusDeclined
		return nil, c.kv.Put(dbChannelInviteBucket, channelKey(inviteID), inv)
	}
	ch, ok := c.channel(inv.ChannelID)
	if !ok {
		return nil, errChannelNotFound
	}
	inv.Status = inviteStatusAccepted
	if err := c.kv.Put(dbChannelInviteBucket, channelKey(inviteID), inv); err != nil {
		return nil, err
	}
	if _, member := c.members(inv.ChannelID)[login]; !member {
		if err := c.addMemberLocked(inv.ChannelID, login, roleMember); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

// Permissions reports what login may do in the channel, for client UI.
func (c *channelStore) Permissions(id int64, login string) map[string]bool {
	c.mu.Lock()
	ch, ok := c.channel(id)
	role := c.roleLocked(id, login)
	c.mu.Unlock()
	if !ok || role == "" {
		return map[string]bool{}
	}
	rank := roleRank(role)
	return map[string]bool{
		"can_invite":        true,
		"can_kick":          rank >= roleRank(roleModerator),
		"can_manage_roles":  rank >= roleRank(roleAdmin),
		"can_edit_settings": role == roleOwner,
		"can_delete":        role == roleOwner,
		"can_send_text":     role == roleOwner || rank >= roleRank(ch.TextMinRole),
		"can_join_voice":    role == roleOwner || rank >= roleRank(ch.VoiceMinRole),
	}
}

type channelMemberInfo struct {
	Login    string    `json:"login"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// MembersDetail lists members with effective roles, owner first, then
// by descending rank, then login.
func (c *channelStore) MembersDetail(id int64) []channelMemberInfo {
	c.mu.Lock()
	ch, ok := c.channel(id)
	rows := c.members(id)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	out := make([]channelMemberInfo, 0, len(rows))
	for login, row := range rows {
		role := row.Role
		if login == ch.OwnerLogin {
			role = roleOwner
		}
		out = append(out, channelMemberInfo{Login: login, Role: role, JoinedAt: row.JoinedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := roleRank(out[i].Role), roleRank(out[j].Role)
		if ri != rj {
			return ri > rj
		}
		return out[i].Login < out[j].Login
	})
	return out
}
