// voicelink config is read from config.ini and re-read every 10s by
// ticker10sec(), so most settings can be changed without a restart.
package main

import (
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

var readConfigLock sync.RWMutex

// config.ini values, guarded by readConfigLock
var (
	tcpAddress         = ":5555"
	udpAddress         = ":5556"
	adminAddress       = "127.0.0.1:8055"
	dbPath             = ""
	allowLegacyFraming = false
	allowOpenRelayJoin = false
	maxRequestBytes    = 10_000_000
	maxControlPerSec   = 35
	logevents          = ""
)

func readIniEntry(configIni *ini.File, keyword string) (string, bool) {
	if configIni == nil {
		return "", false
	}
	if !configIni.Section("").HasKey(keyword) {
		return "", false
	}
	cfgEntry := configIni.Section("").Key(keyword).String()
	commentIdx := strings.Index(cfgEntry, "#")
	if commentIdx >= 0 {
		cfgEntry = cfgEntry[:commentIdx]
	}
	return strings.TrimSpace(cfgEntry), true
}

func readIniString(configIni *ini.File, cfgKeyword string, currentVal string, defaultValue string) string {
	newVal := defaultValue
	cfgValue, ok := readIniEntry(configIni, cfgKeyword)
	if ok && cfgValue != "" {
		newVal = cfgValue
	}
	if currentVal != newVal {
		log.Infof("%s %s=%s", configFileName, cfgKeyword, newVal)
	}
	return newVal
}

func readIniBoolean(configIni *ini.File, cfgKeyword string, currentVal bool, defaultValue bool) bool {
	newVal := defaultValue
	cfgValue, ok := readIniEntry(configIni, cfgKeyword)
	if ok && cfgValue != "" {
		newVal = cfgValue == "true"
	}
	if currentVal != newVal {
		log.Infof("%s %s=%v", configFileName, cfgKeyword, newVal)
	}
	return newVal
}

func readIniInt(configIni *ini.File, cfgKeyword string, currentVal int, defaultValue int) int {
	newVal := defaultValue
	cfgValue, ok := readIniEntry(configIni, cfgKeyword)
	if ok && cfgValue != "" {
		i64, err := strconv.ParseInt(cfgValue, 10, 64)
		if err != nil {
			log.Warnf("%s int %s=%v err=%v", configFileName, cfgKeyword, cfgValue, err)
		} else {
			newVal = int(i64)
		}
	}
	if newVal != currentVal {
		log.Infof("%s %s=%d", configFileName, cfgKeyword, newVal)
	}
	return newVal
}

// readConfig reads config.ini. Called once at startup (init=true) and
// then periodically, so values can be hot-changed.
func readConfig(init bool) {
	configIni, err := ini.Load(configFileName)
	if err != nil {
		if init {
			log.Infof("no %s, using defaults (%v)", configFileName, err)
		}
		configIni = nil
	}
	readConfigLock.Lock()
	defer readConfigLock.Unlock()

	tcpAddress = readIniString(configIni, "tcpAddress", tcpAddress, ":5555")
	udpAddress = readIniString(configIni, "udpAddress", udpAddress, ":5556")
	adminAddress = readIniString(configIni, "adminAddress", adminAddress, "127.0.0.1:8055")
	if init {
		// dbPath cannot be hot-switched; databases are already open
		dbPath = readIniString(configIni, "dbPath", dbPath, "")
	}
	allowLegacyFraming = readIniBoolean(configIni, "allowLegacyFraming", allowLegacyFraming, false)
	allowOpenRelayJoin = readIniBoolean(configIni, "allowOpenRelayJoin", allowOpenRelayJoin, false)
	maxRequestBytes = readIniInt(configIni, "maxRequestBytes", maxRequestBytes, 10_000_000)
	maxControlPerSec = readIniInt(configIni, "maxControlPerSec", maxControlPerSec, 35)
	logevents = readIniString(configIni, "logevents", logevents, "")

	if init {
		if allowLegacyFraming {
			log.Warn("allowLegacyFraming is enabled: accepting raw-json requests without length prefix")
		}
		if allowOpenRelayJoin {
			log.Warn("allowOpenRelayJoin is enabled: relay accepts token-less joins and legacy pairing")
		}
	}
}

// logWantedFor gates noisy per-module debug logging via the config.ini
// "logevents" list, e.g. logevents = relay,calls,dispatch
func logWantedFor(module string) bool {
	readConfigLock.RLock()
	defer readConfigLock.RUnlock()
	for _, tok := range strings.Split(logevents, ",") {
		if strings.TrimSpace(tok) == module {
			return true
		}
	}
	return false
}
