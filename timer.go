package main

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// ticker10sec re-reads the config file so most settings apply without
// a restart.
func ticker10sec() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for ; true; <-ticker.C {
		if shutdownStarted.Load() {
			return
		}
		readConfig(false)
	}
}

// ticker30sec sweeps expired sessions and stale voice leases, and logs
// a periodic stats line.
func ticker30sec(s *server) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for ; true; <-ticker.C {
		if shutdownStarted.Load() {
			return
		}
		expired := s.sessions.SweepExpired()
		s.presence.PruneAll()
		s.calls.PruneStale()
		if logWantedFor("stats") {
			log.Debugf("stats %s online=%d callPairs=%d sessionsExpired=%d",
				s.sessions.String(), len(s.sessions.OnlineLogins()),
				len(s.calls.ActivePairs()), expired)
		}
	}
}
