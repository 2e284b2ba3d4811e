// relayServer is the UDP voice relay. It never decodes audio: it
// learns login -> address bindings from authenticated join datagrams,
// then forwards raw PCM frames to the paired peer (one-to-one calls)
// or to every other member of a room (channel voice). Endpoints expire
// after relayEndpointTTL of silence.
package main

import (
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"voicelink/wire"
)

const (
	relayEndpointTTL   = 20 * time.Second
	relaySweepInterval = 5 * time.Second
	relayReadBufSize   = 8192
)

// relayDirectory is the control-plane view the relay needs: token
// resolution plus the two authorization predicates for pairing and
// room joins. Room ids arrive as strings off the wire.
type relayDirectory interface {
	ValidateToken(token string) (login string, ok bool)
	AreFriends(a, b string) bool
	HasActiveCall(a, b string) bool
	CanJoinVoice(login, roomID string) bool
}

type relayEndpoint struct {
	login    string
	addr     *net.UDPAddr
	lastSeen time.Time
	room     string // "" when not in a room
}

type relayServer struct {
	mu      sync.Mutex
	byLogin map[string]*relayEndpoint
	byAddr  map[string]*relayEndpoint
	rooms   map[string]map[string]bool // roomID -> set of logins
	pairs   map[string]string          // login -> partner, both directions
	dir     relayDirectory
	limiter *rateLimiter
	send    func(b []byte, addr *net.UDPAddr)
	now     func() time.Time
}

func newRelayServer(dir relayDirectory, maxControlPerSecond int) *relayServer {
	return &relayServer{
		byLogin: make(map[string]*relayEndpoint),
		byAddr:  make(map[string]*relayEndpoint),
		rooms:   make(map[string]map[string]bool),
		pairs:   make(map[string]string),
		dir:     dir,
		limiter: newRateLimiter(maxControlPerSecond),
		now:     time.Now,
	}
}

// run reads datagrams until the socket closes.
func (r *relayServer) run(conn *net.UDPConn) {
	if r.send == nil {
		r.send = func(b []byte, addr *net.UDPAddr) {
			conn.WriteToUDP(b, addr)
		}
	}
	buf := make([]byte, relayReadBufSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if shutdownStarted.Load() {
				return
			}
			log.Warnf("# relay read err=%v", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		r.handleDatagram(data, addr)
	}
}

func (r *relayServer) handleDatagram(data []byte, addr *net.UDPAddr) {
	d, err := wire.ParseDatagram(data)
	if err != nil {
		relayDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}
	relayDatagramsTotal.WithLabelValues(string(d.Tag)).Inc()

	if d.Tag != wire.TagAudio {
		key := addr.String() + "/" + string(d.Tag)
		if !r.limiter.Allow(key) {
			relayDroppedTotal.WithLabelValues("ratelimited").Inc()
			return
		}
	}

	switch d.Tag {
	case wire.TagJoin:
		r.handleJoin(d.Fields, addr)
	case wire.TagRoomJoin:
		r.handleRoomJoin(d.Fields, addr)
	case wire.TagRoomLeave:
		r.handleRoomLeave(d.Fields, addr)
	case wire.TagPair:
		r.handlePair(d.Fields, addr)
	case wire.TagPing:
		r.send(append([]byte{wire.TagPong, '|'}, data[2:]...), addr)
	case wire.TagAudio:
		r.handleAudio(d, addr)
	default:
		relayDroppedTotal.WithLabelValues("malformed").Inc()
	}
}

// handleJoin binds login -> addr. Without the open-join config flag a
// valid session token matching the claimed login is required.
func (r *relayServer) handleJoin(fields []string, addr *net.UDPAddr) {
	login := fields[0]
	readConfigLock.RLock()
	open := allowOpenRelayJoin
	readConfigLock.RUnlock()
	if !open {
		if len(fields) < 2 {
			relayDroppedTotal.WithLabelValues("auth").Inc()
			return
		}
		tokenLogin, ok := r.dir.ValidateToken(fields[1])
		if !ok || tokenLogin != login {
			relayDroppedTotal.WithLabelValues("auth").Inc()
			return
		}
	}
	r.registerEndpoint(login, addr, "")
}

// handleRoomJoin binds login -> addr and puts the endpoint into a room
// after the channel's voice role gate passes. A member of one room
// leaves its previous room implicitly.
func (r *relayServer) handleRoomJoin(fields []string, addr *net.UDPAddr) {
	if len(fields) < 3 {
		relayDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}
	login, token, room := fields[0], fields[1], fields[2]
	tokenLogin, ok := r.dir.ValidateToken(token)
	if !ok || tokenLogin != login {
		relayDroppedTotal.WithLabelValues("auth").Inc()
		return
	}
	if !r.dir.CanJoinVoice(login, room) {
		relayDroppedTotal.WithLabelValues("forbidden").Inc()
		return
	}
	r.registerEndpoint(login, addr, room)
}

func (r *relayServer) handleRoomLeave(fields []string, addr *net.UDPAddr) {
	if len(fields) < 2 {
		relayDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}
	login, room := fields[0], fields[1]
	r.mu.Lock()
	defer r.mu.Unlock()
	ep := r.byAddr[addr.String()]
	if ep == nil || ep.login != login {
		relayDroppedTotal.WithLabelValues("spoofed").Inc()
		return
	}
	r.dropFromRoomLocked(login, room)
	if ep.room == room {
		ep.room = ""
	}
}

// handlePair establishes or tears down a one-to-one forwarding pair.
// The sender must be bound at this address, be one of the two parties,
// and present a token resolving to itself. Activation additionally
// requires friendship and an accepted call between the parties. The
// token-less 3-field form is honored only in open-join mode.
func (r *relayServer) handlePair(fields []string, addr *net.UDPAddr) {
	var a, b string
	var active bool
	switch len(fields) {
	case 5:
		sender, token := fields[0], fields[1]
		a, b = fields[2], fields[3]
		active = fields[4] == "1"
		if sender != a && sender != b {
			relayDroppedTotal.WithLabelValues("forbidden").Inc()
			return
		}
		tokenLogin, ok := r.dir.ValidateToken(token)
		if !ok || tokenLogin != sender {
			relayDroppedTotal.WithLabelValues("auth").Inc()
			return
		}
		r.mu.Lock()
		ep := r.byAddr[addr.String()]
		r.mu.Unlock()
		if ep == nil || ep.login != sender {
			relayDroppedTotal.WithLabelValues("spoofed").Inc()
			return
		}
	case 3:
		readConfigLock.RLock()
		open := allowOpenRelayJoin
		readConfigLock.RUnlock()
		if !open {
			relayDroppedTotal.WithLabelValues("auth").Inc()
			return
		}
		a, b = fields[0], fields[1]
		active = fields[2] == "1"
	default:
		relayDroppedTotal.WithLabelValues("malformed").Inc()
		return
	}

	if active {
		if !r.dir.AreFriends(a, b) || !r.dir.HasActiveCall(a, b) {
			relayDroppedTotal.WithLabelValues("forbidden").Inc()
			return
		}
		r.mu.Lock()
		// a previous partner's reverse entry must not keep forwarding
		if prev, ok := r.pairs[a]; ok && prev != b && r.pairs[prev] == a {
			delete(r.pairs, prev)
		}
		if prev, ok := r.pairs[b]; ok && prev != a && r.pairs[prev] == b {
			delete(r.pairs, prev)
		}
		r.pairs[a] = b
		r.pairs[b] = a
		r.mu.Unlock()
		if logWantedFor("relay") {
			log.Debugf("relay pair %s <-> %s", a, b)
		}
		return
	}
	r.mu.Lock()
	if r.pairs[a] == b {
		delete(r.pairs, a)
	}
	if r.pairs[b] == a {
		delete(r.pairs, b)
	}
	r.mu.Unlock()
}

// handleAudio forwards a PCM frame. The claimed sender must match the
// login bound at the source address; spoofed frames are dropped.
func (r *relayServer) handleAudio(d wire.Datagram, addr *net.UDPAddr) {
	from := d.From()
	r.mu.Lock()
	ep := r.byAddr[addr.String()]
	if ep == nil || ep.login != from {
		r.mu.Unlock()
		relayDroppedTotal.WithLabelValues("spoofed").Inc()
		return
	}
	ep.lastSeen = r.now()

	var targets []*net.UDPAddr
	if ep.room != "" {
		for member := range r.rooms[ep.room] {
			if member == from {
				continue
			}
			if mep := r.byLogin[member]; mep != nil {
				targets = append(targets, mep.addr)
			}
		}
	} else if partner, paired := r.pairs[from]; paired {
		if pep := r.byLogin[partner]; pep != nil {
			targets = append(targets, pep.addr)
		}
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		relayDroppedTotal.WithLabelValues("unrouted").Inc()
		return
	}
	out := wire.RelayedDatagram(from, d.Audio)
	for _, target := range targets {
		r.send(out, target)
	}
}

// registerEndpoint upserts the login binding. A login moving to a new
// address invalidates the old one; room is only overwritten when the
// join names one.
func (r *relayServer) registerEndpoint(login string, addr *net.UDPAddr, room string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.byLogin[login]; old != nil && old.addr.String() != addr.String() {
		delete(r.byAddr, old.addr.String())
	}
	ep := r.byLogin[login]
	if ep == nil {
		ep = &relayEndpoint{login: login}
		r.byLogin[login] = ep
	}
	ep.addr = addr
	ep.lastSeen = now
	if room != "" && ep.room != room {
		r.dropFromRoomLocked(login, ep.room)
		ep.room = room
		members := r.rooms[room]
		if members == nil {
			members = make(map[string]bool)
			r.rooms[room] = members
		}
		members[login] = true
	}
	r.byAddr[addr.String()] = ep
	relayEndpointsGauge.Set(float64(len(r.byLogin)))
}

func (r *relayServer) dropFromRoomLocked(login, room string) {
	if room == "" {
		return
	}
	if members := r.rooms[room]; members != nil {
		delete(members, login)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// sweepLoop evicts endpoints that have been silent past the TTL.
func (r *relayServer) sweepLoop() {
	ticker := time.NewTicker(relaySweepInterval)
	defer ticker.Stop()
	for ; true; <-ticker.C {
		if shutdownStarted.Load() {
			return
		}
		r.sweep()
		r.limiter.Sweep()
	}
}

func (r *relayServer) sweep() {
	threshold := r.now().Add(-relayEndpointTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	for login, ep := range r.byLogin {
		if ep.lastSeen.After(threshold) {
			continue
		}
		delete(r.byLogin, login)
		delete(r.byAddr, ep.addr.String())
		r.dropFromRoomLocked(login, ep.room)
		if partner, paired := r.pairs[login]; paired {
			delete(r.pairs, login)
			if r.pairs[partner] == login {
				delete(r.pairs, partner)
			}
		}
		if logWantedFor("relay") {
			log.Debugf("relay evict %s", login)
		}
	}
	relayEndpointsGauge.Set(float64(len(r.byLogin)))
}

// EndpointCount is read by the admin stats surface.
func (r *relayServer) EndpointCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byLogin)
}
