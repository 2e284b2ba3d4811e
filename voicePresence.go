// voicePresence tracks who is currently "in" a channel voice room.
// Rows are leases: a row counts as absent once it has not been
// refreshed for voicePresenceTTL, so clients must push presence more
// often than that or silently disappear from the room.
package main

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

const voicePresenceTTL = 8 * time.Second

var (
	errNoChannel     = errors.New("channel not specified")
	errNotMember     = errors.New("no access to this channel")
	errVoiceRoleGate = errors.New("your role cannot join this voice channel")
)

// presenceDirectory supplies the membership/role/online reads the
// presence manager needs; implemented by the server over channelStore,
// userStore and sessionMgr.
type presenceDirectory interface {
	IsMember(channelID int64, login string) bool
	CanJoinVoice(channelID int64, login string) bool
	RoleOf(channelID int64, login string) string
	IsOnline(login string) bool
	Profile(login string) (nickname, avatar string)
}

type voiceLease struct {
	Speaking bool
	LastSeen time.Time
}

type presenceMgr struct {
	mu    sync.Mutex
	rooms map[int64]map[string]*voiceLease
	dir   presenceDirectory
	now   func() time.Time
}

func newPresenceMgr(dir presenceDirectory) *presenceMgr {
	return &presenceMgr{
		rooms: make(map[int64]map[string]*voiceLease),
		dir:   dir,
		now:   time.Now,
	}
}

// SetPresence upserts (joined=true) or removes (joined=false) the
// caller's lease. Joining re-checks the channel's voice role gate.
func (p *presenceMgr) SetPresence(login string, channelID int64, speaking, joined bool) error {
	if channelID <= 0 {
		return errNoChannel
	}
	if !p.dir.IsMember(channelID, login) {
		return errNotMember
	}
	if joined && !p.dir.CanJoinVoice(channelID, login) {
		return errVoiceRoleGate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(channelID)
	if !joined {
		p.removeLocked(channelID, login)
		return nil
	}
	room := p.rooms[channelID]
	if room == nil {
		room = make(map[string]*voiceLease)
		p.rooms[channelID] = room
	}
	room[login] = &voiceLease{Speaking: speaking, LastSeen: p.now()}
	return nil
}

// Leave removes the lease unconditionally.
func (p *presenceMgr) Leave(login string, channelID int64) error {
	if channelID <= 0 {
		return errNoChannel
	}
	p.mu.Lock()
	p.removeLocked(channelID, login)
	p.mu.Unlock()
	return nil
}

type voiceParticipant struct {
	Login    string `json:"login"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Role     string `json:"role"`
	Speaking bool   `json:"speaking"`
	Online   bool   `json:"online"`
}

// Participants lists the room after pruning expired leases, joined with
// membership role and session-derived online flag. Visibility requires
// channel membership.
func (p *presenceMgr) Participants(channelID int64, requester string) ([]voiceParticipant, error) {
	if channelID <= 0 {
		return nil, errNoChannel
	}
	if !p.dir.IsMember(channelID, requester) {
		return nil, errNotMember
	}

	p.mu.Lock()
	p.pruneLocked(channelID)
	room := p.rooms[channelID]
	type entry struct {
		login    string
		speaking bool
	}
	entries := make([]entry, 0, len(room))
	for login, lease := range room {
		entries = append(entries, entry{login: login, speaking: lease.Speaking})
	}
	p.mu.Unlock()

	out := make([]voiceParticipant, 0, len(entries))
	for _, e := range entries {
		nickname, avatar := p.dir.Profile(e.login)
		out = append(out, voiceParticipant{
			Login:    e.login,
			Nickname: nickname,
			Avatar:   avatar,
			Role:     p.dir.RoleOf(channelID, e.login),
			Speaking: e.speaking,
			Online:   p.dir.IsOnline(e.login),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Speaking != out[j].Speaking {
			return out[i].Speaking
		}
		return strings.ToLower(out[i].Login) < strings.ToLower(out[j].Login)
	})
	return out, nil
}

// RemoveFromChannel clears a user's lease when they lose membership.
func (p *presenceMgr) RemoveFromChannel(channelID int64, login string) {
	p.mu.Lock()
	p.removeLocked(channelID, login)
	p.mu.Unlock()
}

// DropChannel clears a whole room (channel deleted).
func (p *presenceMgr) DropChannel(channelID int64) {
	p.mu.Lock()
	delete(p.rooms, channelID)
	p.mu.Unlock()
}

// Counts returns room occupancy per channel after a global prune.
func (p *presenceMgr) Counts() map[int64]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int64]int, len(p.rooms))
	for channelID := range p.rooms {
		p.pruneLocked(channelID)
		if n := len(p.rooms[channelID]); n > 0 {
			out[channelID] = n
		}
	}
	return out
}

// PruneAll expires stale leases everywhere. Called by ticker30sec.
func (p *presenceMgr) PruneAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for channelID := range p.rooms {
		p.pruneLocked(channelID)
	}
}

func (p *presenceMgr) pruneLocked(channelID int64) {
	room := p.rooms[channelID]
	if room == nil {
		return
	}
	threshold := p.now().Add(-voicePresenceTTL)
	for login, lease := range room {
		if lease.LastSeen.Before(threshold) {
			delete(room, login)
		}
	}
	if len(room) == 0 {
		delete(p.rooms, channelID)
	}
}

func (p *presenceMgr) removeLocked(channelID int64, login string) {
	if room := p.rooms[channelID]; room != nil {
		delete(room, login)
		if len(room) == 0 {
			delete(p.rooms, channelID)
		}
	}
}
