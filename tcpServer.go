// tcpServer is the control-plane listener: one goroutine per
// connection, one length-prefixed JSON request per connection, one
// framed JSON response back.
package main

import (
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"voicelink/wire"
)

const connDeadline = 30 * time.Second

type server struct {
	users    *userStore
	sessions *sessionMgr
	events   *eventQueue
	calls    *callMgr
	presence *presenceMgr
	channels *channelStore
	msgs     *msgStore
	startup  time.Time
}

func runTCPServer(s *server, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if shutdownStarted.Load() {
				return
			}
			log.Warnf("# tcpServer accept err=%v", err)
			continue
		}
		go s.serveConn(conn)
	}
}

func (s *server) serveConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("# serveConn panic %v", r)
		}
		conn.Close()
	}()
	conn.SetDeadline(time.Now().Add(connDeadline))

	readConfigLock.RLock()
	maxBytes := maxRequestBytes
	allowLegacy := allowLegacyFraming
	readConfigLock.RUnlock()

	raw, err := wire.ReadRequest(conn, maxBytes, allowLegacy)
	if err != nil {
		if logWantedFor("tcp") {
			log.Debugf("tcpServer read %s err=%v", conn.RemoteAddr(), err)
		}
		return
	}

	resp := s.dispatch(raw)
	if err := wire.WriteFrame(conn, resp.Marshal()); err != nil {
		if logWantedFor("tcp") {
			log.Debugf("tcpServer write %s err=%v", conn.RemoteAddr(), err)
		}
	}
}
