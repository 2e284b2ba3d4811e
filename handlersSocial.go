// Friends graph and direct chat handlers.
package main

import (
	"strings"
	"time"

	"voicelink/wire"
)

func handleSendFriendRequest(s *server, req *wire.Request, login string) wire.Response {
	target := strings.ToLower(strings.TrimSpace(req.TargetLogin))
	if target == "" {
		return wire.Err("target_login required")
	}
	if target == login {
		return wire.Err("cannot friend yourself")
	}
	if !s.users.UserExists(target) {
		return wire.ErrCode(wire.CodeNotFound, "user not found")
	}
	if s.users.AreFriends(login, target) {
		return wire.ErrCode(wire.CodeConflict, "already friends")
	}
	if !s.users.SendFriendRequest(login, target) {
		return wire.ErrCode(wire.CodeConflict, "request already pending")
	}
	return wire.OK()
}

func handleGetFriendRequests(s *server, _ *wire.Request, login string) wire.Response {
	pending := s.users.FriendRequests(login)
	out := make([]map[string]interface{}, 0, len(pending))
	for _, from := range pending {
		nickname, avatar := s.users.Profile(from)
		out = append(out, map[string]interface{}{
			"from_user": from,
			"nickname":  nickname,
			"avatar":    avatar,
		})
	}
	return wire.OK(wire.Response{"requests": out})
}

func handleAcceptFriendRequest(s *server, req *wire.Request, login string) wire.Response {
	from := strings.ToLower(strings.TrimSpace(req.FromUser))
	if from == "" {
		return wire.Err("from_user required")
	}
	if !s.users.AcceptFriendRequest(from, login) {
		return wire.ErrCode(wire.CodeNotFound, "no pending request from that user")
	}
	return wire.OK()
}

func handleDeclineFriendRequest(s *server, req *wire.Request, login string) wire.Response {
	from := strings.ToLower(strings.TrimSpace(req.FromUser))
	if from == "" {
		return wire.Err("from_user required")
	}
	if !s.users.DeclineFriendRequest(from, login) {
		return wire.ErrCode(wire.CodeNotFound, "no pending request from that user")
	}
	return wire.OK()
}

func handleGetFriends(s *server, _ *wire.Request, login string) wire.Response {
	friends := s.users.Friends(login)
	unread := s.msgs.UnreadCounts(login)
	out := make([]map[string]interface{}, 0, len(friends))
	for _, f := range friends {
		nickname, avatar := s.users.Profile(f)
		out = append(out, map[string]interface{}{
			"login":    f,
			"nickname": nickname,
			"avatar":   avatar,
			"online":   s.sessions.IsOnline(f),
			"unread":   unread[f],
		})
	}
	return wire.OK(wire.Response{"friends": out})
}

func handleRemoveFriend(s *server, req *wire.Request, login string) wire.Response {
	friend := strings.ToLower(strings.TrimSpace(req.FriendLogin))
	if friend == "" {
		friend = strings.ToLower(strings.TrimSpace(req.TargetLogin))
	}
	if friend == "" {
		return wire.Err("friend_login required")
	}
	if !s.users.RemoveFriend(login, friend) {
		return wire.ErrCode(wire.CodeNotFound, "not in your friend list")
	}
	return wire.OK()
}

func messageRows(history []dbMessage) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(history))
	for _, msg := range history {
		out = append(out, map[string]interface{}{
			"from": msg.From,
			"text": msg.Text,
			"ts":   msg.Ts.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func handleSendMessage(s *server, req *wire.Request, login string) wire.Response {
	to := strings.ToLower(strings.TrimSpace(req.ToUser))
	text := strings.TrimSpace(req.BodyText())
	if to == "" || text == "" {
		return wire.Err("to_user and text required")
	}
	if !s.users.AreFriends(login, to) {
		return wire.ErrCode(wire.CodeForbidden, "can only message friends")
	}
	if err := s.msgs.SaveMessage(login, to, text); err != nil {
		return wire.Err("message not saved")
	}
	return wire.OK()
}

func handleGetMessages(s *server, req *wire.Request, login string) wire.Response {
	peer := strings.ToLower(strings.TrimSpace(req.WithUser))
	if peer == "" {
		return wire.Err("with_user required")
	}
	history := s.msgs.Messages(login, peer, req.Limit)
	return wire.OK(wire.Response{"messages": messageRows(history)})
}

func handleMarkChatRead(s *server, req *wire.Request, login string) wire.Response {
	peer := strings.ToLower(strings.TrimSpace(req.WithUser))
	if peer == "" {
		return wire.Err("with_user required")
	}
	s.msgs.MarkRead(login, peer)
	return wire.OK()
}

func handleGetUnreadCounts(s *server, _ *wire.Request, login string) wire.Response {
	return wire.OK(wire.Response{"unread": s.msgs.UnreadCounts(login)})
}
