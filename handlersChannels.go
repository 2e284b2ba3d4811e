// Channel, invite, channel chat, and voice presence handlers.
package main

import (
	"strings"
	"time"

	"voicelink/wire"
)

func channelRow(s *server, ch *dbChannel, viewer string) map[string]interface{} {
	return map[string]interface{}{
		"channel_id":     ch.ID,
		"code":           ch.Code,
		"name":           ch.Name,
		"avatar":         ch.Avatar,
		"owner_login":    ch.OwnerLogin,
		"text_min_role":  ch.TextMinRole,
		"voice_min_role": ch.VoiceMinRole,
		"my_role":        s.channels.RoleOf(ch.ID, viewer),
	}
}

func handleCreateChannel(s *server, req *wire.Request, login string) wire.Response {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return wire.Err("name required")
	}
	ch, err := s.channels.Create(login, name, req.Avatar, req.TextMinRole, req.VoiceMinRole)
	if err != nil {
		if err == errBadRole {
			return wire.Err("unknown role")
		}
		return wire.Err("channel not created")
	}
	return wire.OK(wire.Response{"channel": channelRow(s, ch, login)})
}

func handleJoinChannel(s *server, req *wire.Request, login string) wire.Response {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return wire.Err("code required")
	}
	ch, err := s.channels.JoinByCode(login, code)
	switch err {
	case nil:
		return wire.OK(wire.Response{"channel": channelRow(s, ch, login)})
	case errBadChannelCode, errChannelNotFound:
		return wire.ErrCode(wire.CodeNotFound, "invalid channel code")
	case errAlreadyMember:
		return wire.ErrCode(wire.CodeConflict, "already a member")
	default:
		return wire.Err("join failed")
	}
}

func handleGetMyChannels(s *server, _ *wire.Request, login string) wire.Response {
	chans := s.channels.ChannelsOf(login)
	counts := s.presence.Counts()
	out := make([]map[string]interface{}, 0, len(chans))
	for _, ch := range chans {
		row := channelRow(s, ch, login)
		row["voice_count"] = counts[ch.ID]
		out = append(out, row)
	}
	return wire.OK(wire.Response{"channels": out})
}

func handleSendChannelInvite(s *server, req *wire.Request, login string) wire.Response {
	target := strings.ToLower(strings.TrimSpace(req.TargetLogin))
	if req.ChannelID <= 0 || target == "" {
		return wire.Err("channel_id and target_login required")
	}
	if !s.users.UserExists(target) {
		return wire.ErrCode(wire.CodeNotFound, "user not found")
	}
	inv, err := s.channels.InviteUser(req.ChannelID, login, target)
	switch err {
	case nil:
		return wire.OK(wire.Response{"invite_id": inv.ID})
	case errChannelNotFound:
		return wire.ErrCode(wire.CodeNotFound, "channel not found")
	case errNotMember:
		return wire.ErrCode(wire.CodeForbidden, "no access to this channel")
	case errAlreadyMember:
		return wire.ErrCode(wire.CodeConflict, "already a member or already invited")
	default:
		return wire.Err("invite failed")
	}
}

func handleGetMyChannelInvites(s *server, _ *wire.Request, login string) wire.Response {
	invites := s.channels.PendingInvites(login)
	out := make([]map[string]interface{}, 0, len(invites))
	for _, inv := range invites {
		row := map[string]interface{}{
			"invite_id":  inv.ID,
			"channel_id": inv.ChannelID,
			"from_user":  inv.FromLogin,
			"created":    inv.CreatedAt.UTC().Format(time.RFC3339),
		}
		if ch, ok := s.channels.Channel(inv.ChannelID); ok {
			row["channel_name"] = ch.Name
			row["channel_avatar"] = ch.Avatar
		}
		out = append(out, row)
	}
	return wire.OK(wire.Response{"invites": out})
}

func handleRespondChannelInvite(s *server, req *wire.Request, login string) wire.Response {
	if req.InviteID <= 0 {
		return wire.Err("invite_id required")
	}
	accept := req.Decision == "accept"
	if !accept && req.Decision != "decline" {
		return wire.Err("decision must be accept or decline")
	}
	ch, err := s.channels.RespondInvite(req.InviteID, login, accept)
	if err != nil {
		return wire.ErrCode(wire.CodeNotFound, "invite not found")
	}
	resp := wire.Response{"decision": req.Decision}
	if ch != nil {
		resp["channel"] = channelRow(s, ch, login)
	}
	return wire.OK(resp)
}

func handleGetChannelMessages(s *server, req *wire.Request, login string) wire.Response {
	if req.ChannelID <= 0 {
		return wire.Err("channel_id required")
	}
	if !s.channels.IsMember(req.ChannelID, login) {
		return wire.ErrCode(wire.CodeForbidden, "no access to this channel")
	}
	history := s.msgs.ChannelMessages(req.ChannelID, req.Limit)
	return wire.OK(wire.Response{"messages": messageRows(history)})
}

func handleSendChannelMessage(s *server, req *wire.Request, login string) wire.Response {
	text := strings.TrimSpace(req.BodyText())
	if req.ChannelID <= 0 || text == "" {
		return wire.Err("channel_id and text required")
	}
	if !s.channels.IsMember(req.ChannelID, login) {
		return wire.ErrCode(wire.CodeForbidden, "no access to this channel")
	}
	if !s.channels.CanSendText(req.ChannelID, login) {
		return wire.ErrCode(wire.CodeForbidden, "your role cannot post in this channel")
	}
	if err := s.msgs.SaveChannelMessage(req.ChannelID, login, text); err != nil {
		return wire.Err("message not saved")
	}
	return wire.OK()
}

func handleGetChannelDetails(s *server, req *wire.Request, login string) wire.Response {
	if req.ChannelID <= 0 {
		return wire.Err("channel_id required")
	}
	if !s.channels.IsMember(req.ChannelID, login) {
		return wire.ErrCode(wire.CodeForbidden, "no access to this channel")
	}
	ch, ok := s.channels.Channel(req.ChannelID)
	if !ok {
		return wire.ErrCode(wire.CodeNotFound, "channel not found")
	}
	members := s.channels.MembersDetail(req.ChannelID)
	rows := make([]map[string]interface{}, 0, len(members))
	for _, m := range members {
		nickname, avatar := s.users.Profile(m.Login)
		rows = append(rows, map[string]interface{}{
			"login":    m.Login,
			"nickname": nickname,
			"avatar":   avatar,
			"role":     m.Role,
			"online":   s.sessions.IsOnline(m.Login),
			"joined":   m.JoinedAt.UTC().Format(time.RFC3339),
		})
	}
	return wire.OK(wire.Response{
		"channel":     channelRow(s, ch, login),
		"members":     rows,
		"permissions": s.channels.Permissions(req.ChannelID, login),
	})
}

func handleUpdateChannelSettings(s *server, req *wire.Request, login string) wire.Response {
	if req.ChannelID <= 0 {
		return wire.Err("channel_id required")
	}
	ch, err := s.channels.UpdateSettings(req.ChannelID, login,
		strings.TrimSpace(req.Name), req.Avatar, req.TextMinRole, req.VoiceMinRole)
	switch err {
	case nil:
		return wire.OK(wire.Response{"channel": channelRow(s, ch, login)})
	case errChannelNotFound:
		return wire.ErrCode(wire.CodeNotFound, "channel not found")
	case errNotChannelOwner:
		return wire.ErrCode(wire.CodeForbidden, "only the owner can do that")
	case errBadRole:
		return wire.Err("unknown role")
	default:
		return wire.Err("update failed")
	}
}

func handleRegenerateChannelCode(s *server, req *wire.Request, login string) wire.Response {
	if req.ChannelID <= 0 {
		return wire.Err("channel_id required")
	}
	code, err := s.channels.RegenerateCode(req.ChannelID, login)
	switch err {
	case nil:
		return wire.OK(wire.Response{"code": code})
	case errChannelNotFound:
		return wire.ErrCode(wire.CodeNotFound, "channel not found")
	case errNotChannelOwner:
		return wire.ErrCode(wire.CodeForbidden, "only the owner can do that")
	default:
		return wire.Err("regenerate failed")
	}
}

func handleSetChannelMemberRole(s *server, req *wire.Request, login string) wire.Response {
	target := strings.ToLower(strings.TrimSpace(req.TargetLogin))
	if req.ChannelID <= 0 || target == "" || req.Role == "" {
		return wire.Err("channel_id, target_login and role required")
	}
	err := s.channels.SetMemberRole(req.ChannelID, login, target, req.Role)
	switch err {
	case nil:
		return wire.OK()
	case errChannelNotFound:
		return wire.ErrCode(wire.CodeNotFound, "channel not found")
	case errUserNotFound:
		return wire.ErrCode(wire.CodeNotFound, "not a member of this channel")
	case errBadRole:
		return wire.Err("unknown role")
	case errRoleTooLow:
		return wire.ErrCode(wire.CodeForbidden, "insufficient role")
	default:
		return wire.Err("role change failed")
	}
}

func handleRemoveChannelMember(s *server, req *wire.Request, login string) wire.Response {
	target := strings.ToLower(strings.TrimSpace(req.TargetLogin))
	if req.ChannelID <= 0 || target == "" {
		return wire.Err("channel_id and target_login required")
	}
	err := s.channels.RemoveMember(req.ChannelID, login, target)
	switch err {
	case nil:
		s.presence.RemoveFromChannel(req.ChannelID, target)
		return wire.OK()
	case errChannelNotFound:
		return wire.ErrCode(wire.CodeNotFound, "channel not found")
	case errUserNotFound:
		return wire.ErrCode(wire.CodeNotFound, "not a member of this channel")
	case errRoleTooLow:
		return wire.ErrCode(wire.CodeForbidden, "insufficient role")
	default:
		return wire.Err("kick failed")
	}
}

func handleLeaveChannel(s *server, req *wire.Request, login string) wire.Response {
	if req.ChannelID <= 0 {
		return wire.Err("channel_id required")
	}
	err := s.channels.Leave(req.ChannelID, login)
	switch err {
	case nil:
		s.presence.RemoveFromChannel(req.ChannelID, login)
		return wire.OK()
	case errChannelNotFound:
		return wire.ErrCode(wire.CodeNotFound, "channel not found")
	case errNotChannelOwner:
		return wire.ErrCode(wire.CodeForbidden, "the owner cannot leave; delete the channel instead")
	case errNotMember:
		return wire.ErrCode(wire.CodeNotFound, "not a member of this channel")
	default:
		return wire.Err("leave failed")
	}
}

func handleDeleteChannel(s *server, req *wire.Request, login string) wire.Response {
	if req.ChannelID <= 0 {
		return wire.Err("channel_id required")
	}
	err := s.channels.DeleteChannel(req.ChannelID, login)
	switch err {
	case nil:
		s.presence.DropChannel(req.ChannelID)
		s.msgs.DeleteChannelMessages(req.ChannelID)
		return wire.OK()
	case errChannelNotFound:
		return wire.ErrCode(wire.CodeNotFound, "channel not found")
	case errNotChannelOwner:
		return wire.ErrCode(wire.CodeForbidden, "only the owner can do that")
	default:
		return wire.Err("delete failed")
	}
}

func handleSetVoicePresence(s *server, req *wire.Request, login string) wire.Response {
	err := s.presence.SetPresence(login, req.ChannelID, req.Speaking, req.JoinedOrDefault())
	switch err {
	case nil:
		return wire.OK()
	case errNoChannel:
		return wire.Err("channel_id required")
	case errNotMember:
		return wire.ErrCode(wire.CodeForbidden, "no access to this channel")
	case errVoiceRoleGate:
		return wire.ErrCode(wire.CodeForbidden, "your role cannot join this voice channel")
	default:
		return wire.Err("presence update failed")
	}
}

func handleLeaveChannelVoice(s *server, req *wire.Request, login string) wire.Response {
	if err := s.presence.Leave(login, req.ChannelID); err != nil {
		return wire.Err("channel_id required")
	}
	return wire.OK()
}

func handleGetVoiceParticipants(s *server, req *wire.Request, login string) wire.Response {
	participants, err := s.presence.Participants(req.ChannelID, login)
	switch err {
	case nil:
		return wire.OK(wire.Response{"participants": participants})
	case errNoChannel:
		return wire.Err("channel_id required")
	case errNotMember:
		return wire.ErrCode(wire.CodeForbidden, "no access to this channel")
	default:
		return wire.Err("lookup failed")
	}
}
