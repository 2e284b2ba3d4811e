// voicelink is a small voice chat service: a TCP control plane for
// accounts, friends, chat, channels and call signaling, plus a UDP
// relay that forwards raw PCM between authenticated endpoints.
//
// All state except sessions, users, channels and chat history is in
// memory; restart drops active calls but keeps accounts and tokens.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"voicelink/iptools"
	"voicelink/skv"
)

const (
	configFileName = "config.ini"
	dbMainName     = "voicelink.db"
)

var (
	codetag   = "dev"
	builddate = ""
)

var shutdownStarted atomic.Bool

var dbBuckets = []string{
	dbSessionBucket,
	dbUserBucket,
	dbFriendBucket,
	dbFriendReqBucket,
	dbMessageBucket,
	dbUnreadBucket,
	dbChannelMessageBucket,
	dbChannelBucket,
	dbChannelCodeBucket,
	dbChannelMemberBucket,
	dbUserChannelBucket,
	dbChannelInviteBucket,
}

// coreDirectory adapts the stores for the call and presence engines.
type coreDirectory struct {
	users    *userStore
	sessions *sessionMgr
	channels *channelStore
}

func (d *coreDirectory) UserExists(login string) bool { return d.users.UserExists(login) }
func (d *coreDirectory) AreFriends(a, b string) bool  { return d.users.AreFriends(a, b) }
func (d *coreDirectory) IsOnline(login string) bool   { return d.sessions.IsOnline(login) }
func (d *coreDirectory) IsMember(id int64, login string) bool {
	return d.channels.IsMember(id, login)
}
func (d *coreDirectory) CanJoinVoice(id int64, login string) bool {
	return d.channels.CanJoinVoice(id, login)
}
func (d *coreDirectory) RoleOf(id int64, login string) string {
	return d.channels.RoleOf(id, login)
}
func (d *coreDirectory) Profile(login string) (string, string) {
	return d.users.Profile(login)
}

// relayAdapter adapts the control plane for the UDP relay, which sees
// room ids as strings off the wire.
type relayAdapter struct {
	users    *userStore
	sessions *sessionMgr
	channels *channelStore
	calls    *callMgr
}

func (d *relayAdapter) ValidateToken(token string) (string, bool) {
	return d.sessions.Validate(token)
}
func (d *relayAdapter) AreFriends(a, b string) bool { return d.users.AreFriends(a, b) }
func (d *relayAdapter) HasActiveCall(a, b string) bool {
	return d.calls.HasActivePair(a, b)
}
func (d *relayAdapter) CanJoinVoice(login, roomID string) bool {
	id, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil || id <= 0 {
		return false
	}
	return d.channels.CanJoinVoice(id, login)
}

func main() {
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()
	if *showVersion {
		fmt.Printf("voicelink %s %s\n", codetag, builddate)
		return
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	log.SetLevel(log.DebugLevel)
	log.Infof("voicelink %s %s starting", codetag, builddate)

	readConfig(true)

	readConfigLock.RLock()
	tcpAddr := tcpAddress
	udpAddr := udpAddress
	adminAddr := adminAddress
	dbDir := dbPath
	controlPerSec := maxControlPerSec
	readConfigLock.RUnlock()

	kv, err := skv.DbOpen(dbMainName, dbDir)
	if err != nil {
		log.Fatalf("# db open %s err=%v", dbDir+dbMainName, err)
	}
	for _, bucket := range dbBuckets {
		if err := kv.CreateBucket(bucket); err != nil {
			log.Fatalf("# db bucket %s err=%v", bucket, err)
		}
	}

	users := newUserStore(kv)
	sessions := newSessionMgr(kv)
	channels := newChannelStore(kv)
	msgs := newMsgStore(kv)
	events := newEventQueue()
	dir := &coreDirectory{users: users, sessions: sessions, channels: channels}
	calls := newCallMgr(events, dir)
	presence := newPresenceMgr(dir)

	srv := &server{
		users:    users,
		sessions: sessions,
		events:   events,
		calls:    calls,
		presence: presence,
		channels: channels,
		msgs:     msgs,
		startup:  time.Now(),
	}

	relay := newRelayServer(&relayAdapter{
		users: users, sessions: sessions, channels: channels, calls: calls,
	}, controlPerSec)

	tcpLn, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		log.Fatalf("# tcp listen %s err=%v", tcpAddr, err)
	}
	udpLocal, err := net.ResolveUDPAddr("udp", udpAddr)
	if err != nil {
		log.Fatalf("# udp resolve %s err=%v", udpAddr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpLocal)
	if err != nil {
		log.Fatalf("# udp listen %s err=%v", udpAddr, err)
	}

	if outboundIP, err := iptools.GetOutboundIP(); err == nil {
		log.Infof("control=%s relay=%s outboundIP=%v", tcpAddr, udpAddr, outboundIP)
	} else {
		log.Infof("control=%s relay=%s", tcpAddr, udpAddr)
	}

	go runTCPServer(srv, tcpLn)
	go relay.run(udpConn)
	go relay.sweepLoop()
	go runAdminServer(srv, relay, adminAddr)
	go ticker10sec()
	go ticker30sec(srv)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("shutdown on signal %v", sig)
	shutdownStarted.Store(true)
	tcpLn.Close()
	udpConn.Close()
	time.Sleep(200 * time.Millisecond)
	if err := kv.Close(); err != nil {
		log.Warnf("# db close err=%v", err)
	}
	log.Info("voicelink stopped")
}
