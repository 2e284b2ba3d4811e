// Call signaling and event poll handlers.
package main

import (
	"strings"

	"voicelink/wire"
)

func handleCallUser(s *server, req *wire.Request, login string) wire.Response {
	target := strings.ToLower(strings.TrimSpace(req.TargetLogin))
	if target == "" {
		return wire.Err("target_login required")
	}
	if target == login {
		return wire.Err("cannot call yourself")
	}
	switch err := s.calls.StartCall(login, target); err {
	case nil:
		return wire.OK(wire.Response{"calling": target})
	case errCallUnknownUser:
		return wire.ErrCode(wire.CodeNotFound, err.Error())
	case errCallNotFriends:
		return wire.ErrCode(wire.CodeForbidden, err.Error())
	case errCallBusy:
		return wire.ErrCode(wire.CodeBusy, err.Error())
	default:
		return wire.Err(err.Error())
	}
}

func handleAcceptCall(s *server, req *wire.Request, login string) wire.Response {
	from := strings.ToLower(strings.TrimSpace(req.FromUser))
	if from == "" {
		return wire.Err("from_user required")
	}
	if !s.calls.AcceptCall(login, from) {
		return wire.ErrCode(wire.CodeNotFound, "no ringing call from that user")
	}
	return wire.OK(wire.Response{"with_user": from})
}

func handleDeclineCall(s *server, req *wire.Request, login string) wire.Response {
	from := strings.ToLower(strings.TrimSpace(req.FromUser))
	if from == "" {
		return wire.Err("from_user required")
	}
	if !s.calls.DeclineCall(login, from) {
		return wire.ErrCode(wire.CodeNotFound, "no ringing call from that user")
	}
	return wire.OK()
}

func handleEndCall(s *server, req *wire.Request, login string) wire.Response {
	with := strings.ToLower(strings.TrimSpace(req.WithUser))
	if with == "" {
		return wire.Err("with_user required")
	}
	if !s.calls.EndCall(login, with) {
		return wire.ErrCode(wire.CodeNotFound, "no call with that user")
	}
	return wire.OK()
}

// handlePollEvents drains the caller's outbox. Polling counts as call
// liveness, so a client in a call stays un-pruned by polling alone.
func handlePollEvents(s *server, _ *wire.Request, login string) wire.Response {
	s.calls.MarkActivity(login)
	return wire.OK(wire.Response{"events": s.events.Drain(login)})
}
