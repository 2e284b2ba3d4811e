package wire

// ActionSpec declares one control-plane action. Auth marks whether a
// valid session token is required. Idempotent marks whether a client may
// safely retry the action after a transport failure; mutations that can
// double-fire (call_user, accept_call, send_message, ...) must not be
// retried blindly.
type ActionSpec struct {
	Name       string
	Auth       bool
	Idempotent bool
}

// Actions is the single source of truth for the action set. The server
// dispatcher reads Auth, the client retry loop reads Idempotent.
var Actions = map[string]ActionSpec{
	// account / session
	"register":           {Name: "register", Auth: false, Idempotent: false},
	"login":              {Name: "login", Auth: false, Idempotent: false},
	"resume_session":     {Name: "resume_session", Auth: false, Idempotent: true},
	"logout":             {Name: "logout", Auth: true, Idempotent: true},
	"status":             {Name: "status", Auth: true, Idempotent: true},
	"heartbeat":          {Name: "heartbeat", Auth: true, Idempotent: true},
	"presence_offline":   {Name: "presence_offline", Auth: true, Idempotent: true},
	"release_call_state": {Name: "release_call_state", Auth: true, Idempotent: true},
	"find_user":          {Name: "find_user", Auth: true, Idempotent: true},
	"update_profile":     {Name: "update_profile", Auth: true, Idempotent: false},

	// friends
	"send_friend_request":    {Name: "send_friend_request", Auth: true, Idempotent: false},
	"get_friend_requests":    {Name: "get_friend_requests", Auth: true, Idempotent: true},
	"accept_friend_request":  {Name: "accept_friend_request", Auth: true, Idempotent: false},
	"decline_friend_request": {Name: "decline_friend_request", Auth: true, Idempotent: false},
	"get_friends":            {Name: "get_friends", Auth: true, Idempotent: true},
	"remove_friend":          {Name: "remove_friend", Auth: true, Idempotent: false},

	// direct chat
	"send_message":      {Name: "send_message", Auth: true, Idempotent: false},
	"get_messages":      {Name: "get_messages", Auth: true, Idempotent: true},
	"mark_chat_read":    {Name: "mark_chat_read", Auth: true, Idempotent: true},
	"get_unread_counts": {Name: "get_unread_counts", Auth: true, Idempotent: true},

	// channels
	"create_channel":          {Name: "create_channel", Auth: true, Idempotent: false},
	"join_channel":            {Name: "join_channel", Auth: true, Idempotent: false},
	"get_my_channels":         {Name: "get_my_channels", Auth: true, Idempotent: true},
	"send_channel_invite":     {Name: "send_channel_invite", Auth: true, Idempotent: false},
	"get_my_channel_invites":  {Name: "get_my_channel_invites", Auth: true, Idempotent: true},
	"respond_channel_invite":  {Name: "respond_channel_invite", Auth: true, Idempotent: false},
	"get_channel_messages":    {Name: "get_channel_messages", Auth: true, Idempotent: true},
	"send_channel_message":    {Name: "send_channel_message", Auth: true, Idempotent: false},
	"get_channel_details":     {Name: "get_channel_details", Auth: true, Idempotent: true},
	"update_channel_settings": {Name: "update_channel_settings", Auth: true, Idempotent: false},
	"regenerate_channel_code": {Name: "regenerate_channel_code", Auth: true, Idempotent: false},
	"set_channel_member_role": {Name: "set_channel_member_role", Auth: true, Idempotent: false},
	"remove_channel_member":   {Name: "remove_channel_member", Auth: true, Idempotent: false},
	"leave_channel":           {Name: "leave_channel", Auth: true, Idempotent: false},
	"delete_channel":          {Name: "delete_channel", Auth: true, Idempotent: false},

	// channel voice presence
	"set_channel_voice_presence":     {Name: "set_channel_voice_presence", Auth: true, Idempotent: true},
	"leave_channel_voice":            {Name: "leave_channel_voice", Auth: true, Idempotent: true},
	"get_channel_voice_participants": {Name: "get_channel_voice_participants", Auth: true, Idempotent: true},

	// calls
	"call_user":    {Name: "call_user", Auth: true, Idempotent: false},
	"accept_call":  {Name: "accept_call", Auth: true, Idempotent: false},
	"decline_call": {Name: "decline_call", Auth: true, Idempotent: false},
	"end_call":     {Name: "end_call", Auth: true, Idempotent: false},
	"poll_events":  {Name: "poll_events", Auth: true, Idempotent: true},
}

// Lookup returns the spec for an action name.
func Lookup(action string) (ActionSpec, bool) {
	spec, ok := Actions[action]
	return spec, ok
}
