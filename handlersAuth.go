// Account and session handlers.
package main

import (
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"voicelink/wire"
)

var loginRegexp = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

func handleRegister(s *server, req *wire.Request, _ string) wire.Response {
	login := strings.ToLower(strings.TrimSpace(req.Login))
	if !loginRegexp.MatchString(login) {
		return wire.Err("login must be 3-32 characters (letters, digits, underscore)")
	}
	if len(req.Password) < 4 {
		return wire.Err("password too short")
	}
	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		nickname = login
	}
	if err := s.users.Register(login, req.Password, nickname, req.Avatar); err != nil {
		if err == errLoginTaken {
			return wire.ErrCode(wire.CodeConflict, "login already exists")
		}
		log.Warnf("# register login=%s err=%v", login, err)
		return wire.Err("registration failed")
	}
	log.Infof("registered %s", login)
	return wire.OK(wire.Response{"login": login})
}

func handleLogin(s *server, req *wire.Request, _ string) wire.Response {
	login := strings.ToLower(strings.TrimSpace(req.Login))
	if login == "" || req.Password == "" {
		return wire.Err("login and password required")
	}
	if !s.users.Authenticate(login, req.Password) {
		return wire.Err("wrong login or password")
	}
	token, expires := s.sessions.Create(login)
	nickname, avatar := s.users.Profile(login)
	return wire.OK(wire.Response{
		"login":    login,
		"token":    token,
		"expires":  expires.UTC().Format(time.RFC3339),
		"nickname": nickname,
		"avatar":   avatar,
	})
}

// handleResumeSession revalidates a stored token so clients can skip
// the password prompt on startup.
func handleResumeSession(s *server, req *wire.Request, _ string) wire.Response {
	token := req.BearerToken()
	if token == "" {
		return wire.ErrCode(wire.CodeSessionRequired, "session token required")
	}
	login, ok := s.sessions.Validate(token)
	if !ok {
		return wire.ErrCode(wire.CodeSessionInvalid, "session expired or invalid")
	}
	s.sessions.Touch(token)
	nickname, avatar := s.users.Profile(login)
	return wire.OK(wire.Response{
		"login":    login,
		"nickname": nickname,
		"avatar":   avatar,
	})
}

func handleLogout(s *server, req *wire.Request, login string) wire.Response {
	s.calls.CleanupForUser(login)
	s.sessions.Invalidate(req.BearerToken())
	return wire.OK()
}

func handleStatus(s *server, _ *wire.Request, login string) wire.Response {
	resp := wire.Response{
		"login":          login,
		"online":         true,
		"pending_events": s.events.Pending(login),
	}
	if peer, inCall := s.calls.PeerOf(login); inCall {
		resp["in_call_with"] = peer
	}
	return wire.OK(resp)
}

func handleHeartbeat(s *server, _ *wire.Request, login string) wire.Response {
	s.calls.MarkActivity(login)
	return wire.OK()
}

// handlePresenceOffline pushes the session out of the online window
// without invalidating the token (app close, not logout).
func handlePresenceOffline(s *server, req *wire.Request, login string) wire.Response {
	s.calls.CleanupForUser(login)
	s.sessions.SoftOffline(req.BearerToken())
	return wire.OK()
}

// handleReleaseCallState force-clears any call pair the caller is in,
// for client-side recovery after a crash or UI desync.
func handleReleaseCallState(s *server, _ *wire.Request, login string) wire.Response {
	s.calls.CleanupForUser(login)
	return wire.OK()
}

func handleFindUser(s *server, req *wire.Request, login string) wire.Response {
	target := strings.ToLower(strings.TrimSpace(req.TargetLogin))
	if target == "" {
		return wire.Err("target_login required")
	}
	if !s.users.UserExists(target) {
		return wire.ErrCode(wire.CodeNotFound, "user not found")
	}
	nickname, avatar := s.users.Profile(target)
	return wire.OK(wire.Response{
		"login":     target,
		"nickname":  nickname,
		"avatar":    avatar,
		"online":    s.sessions.IsOnline(target),
		"is_friend": s.users.AreFriends(login, target),
	})
}

func handleUpdateProfile(s *server, req *wire.Request, login string) wire.Response {
	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		nickname = login
	}
	if req.Password != "" && len(req.Password) < 4 {
		return wire.Err("password too short")
	}
	if err := s.users.UpdateProfile(login, nickname, req.Password, req.Avatar); err != nil {
		log.Warnf("# update_profile login=%s err=%v", login, err)
		return wire.Err("profile update failed")
	}
	return wire.OK(wire.Response{"nickname": nickname, "avatar": req.Avatar})
}
