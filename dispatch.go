// dispatch routes a decoded request to its handler, enforcing session
// auth and refreshing liveness first. Stale call pairs are pruned at
// the top of every request, so "busy" answers are never older than one
// round trip.
package main

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"voicelink/wire"
)

type handlerFunc func(s *server, req *wire.Request, login string) wire.Response

var handlers = map[string]handlerFunc{
	"register":           handleRegister,
	"login":              handleLogin,
	"resume_session":     handleResumeSession,
	"logout":             handleLogout,
	"status":             handleStatus,
	"heartbeat":          handleHeartbeat,
	"presence_offline":   handlePresenceOffline,
	"release_call_state": handleReleaseCallState,
	"find_user":          handleFindUser,
	"update_profile":     handleUpdateProfile,

	"send_friend_request":    handleSendFriendRequest,
	"get_friend_requests":    handleGetFriendRequests,
	"accept_friend_request":  handleAcceptFriendRequest,
	"decline_friend_request": handleDeclineFriendRequest,
	"get_friends":            handleGetFriends,
	"remove_friend":          handleRemoveFriend,

	"send_message":      handleSendMessage,
	"get_messages":      handleGetMessages,
	"mark_chat_read":    handleMarkChatRead,
	"get_unread_counts": handleGetUnreadCounts,

	"create_channel":          handleCreateChannel,
	"join_channel":            handleJoinChannel,
	"get_my_channels":         handleGetMyChannels,
	"send_channel_invite":     handleSendChannelInvite,
	"get_my_channel_invites":  handleGetMyChannelInvites,
	"respond_channel_invite":  handleRespondChannelInvite,
	"get_channel_messages":    handleGetChannelMessages,
	"send_channel_message":    handleSendChannelMessage,
	"get_channel_details":     handleGetChannelDetails,
	"update_channel_settings": handleUpdateChannelSettings,
	"regenerate_channel_code": handleRegenerateChannelCode,
	"set_channel_member_role": handleSetChannelMemberRole,
	"remove_channel_member":   handleRemoveChannelMember,
	"leave_channel":           handleLeaveChannel,
	"delete_channel":          handleDeleteChannel,

	"set_channel_voice_presence":     handleSetVoicePresence,
	"leave_channel_voice":            handleLeaveChannelVoice,
	"get_channel_voice_participants": handleGetVoiceParticipants,

	"call_user":    handleCallUser,
	"accept_call":  handleAcceptCall,
	"decline_call": handleDeclineCall,
	"end_call":     handleEndCall,
	"poll_events":  handlePollEvents,
}

func (s *server) dispatch(raw []byte) wire.Response {
	s.calls.PruneStale()

	var req wire.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return wire.Err("invalid JSON")
	}
	if req.Action == "" {
		return wire.Err("missing action")
	}
	spec, known := wire.Lookup(req.Action)
	handler := handlers[req.Action]
	if !known || handler == nil {
		requestsTotal.WithLabelValues("unknown", "error").Inc()
		return wire.Err("unknown action: " + req.Action)
	}

	login := ""
	if spec.Auth {
		token := req.BearerToken()
		if token == "" {
			requestsTotal.WithLabelValues(req.Action, "unauthorized").Inc()
			return wire.ErrCode(wire.CodeSessionRequired, "session token required")
		}
		var ok bool
		login, ok = s.sessions.Validate(token)
		if !ok {
			requestsTotal.WithLabelValues(req.Action, "unauthorized").Inc()
			return wire.ErrCode(wire.CodeSessionInvalid, "session expired or invalid")
		}
		s.sessions.Touch(token)
	}

	resp := handler(s, &req, login)
	status := "ok"
	if st, _ := resp["status"].(string); st != "ok" {
		status = "error"
	}
	requestsTotal.WithLabelValues(req.Action, status).Inc()
	if logWantedFor("dispatch") {
		log.Debugf("dispatch action=%s login=%s status=%s", req.Action, login, status)
	}
	return resp
}
