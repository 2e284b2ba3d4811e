package wire

import "encoding/json"

// Error codes carried in the "code" response field. Clients use
// session_required/session_invalid to decide whether to prompt re-login.
const (
	CodeSessionRequired = "session_required"
	CodeSessionInvalid  = "session_invalid"
	CodeNotFound        = "not_found"
	CodeForbidden       = "forbidden"
	CodeConflict        = "conflict"
	CodeBusy            = "busy"
)

// Event types delivered through the per-login outbox.
const (
	EventIncomingCall = "incoming_call"
	EventCallAccepted = "call_accepted"
	EventCallStarted  = "call_started"
	EventCallDeclined = "call_declined"
	EventCallEnded    = "call_ended"

	// SystemUser marks server-initiated call teardown in by_user fields.
	SystemUser = "system"
)

// Request is the decoded control-plane request body. Field presence
// depends on the action; unknown fields are ignored.
type Request struct {
	Action       string `json:"action"`
	Token        string `json:"token,omitempty"`
	SessionToken string `json:"session_token,omitempty"` // legacy alias for token

	Login    string `json:"login,omitempty"`
	Password string `json:"password,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`

	TargetLogin string `json:"target_login,omitempty"`
	ToUser      string `json:"to_user,omitempty"`
	FromUser    string `json:"from_user,omitempty"`
	WithUser    string `json:"with_user,omitempty"`
	FriendLogin string `json:"friend_login,omitempty"`

	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"` // legacy alias for text
	Limit   int    `json:"limit,omitempty"`

	Name         string `json:"name,omitempty"`
	Code         string `json:"code,omitempty"`
	ChannelID    int64  `json:"channel_id,omitempty"`
	InviteID     int64  `json:"invite_id,omitempty"`
	Decision     string `json:"decision,omitempty"`
	Role         string `json:"role,omitempty"`
	TextMinRole  string `json:"text_min_role,omitempty"`
	VoiceMinRole string `json:"voice_min_role,omitempty"`

	Speaking bool  `json:"speaking,omitempty"`
	Joined   *bool `json:"joined,omitempty"` // nil means true
}

// BearerToken returns the session token, honoring the legacy field name.
func (r *Request) BearerToken() string {
	if r.Token != "" {
		return r.Token
	}
	return r.SessionToken
}

// JoinedOrDefault resolves the optional joined flag (default true).
func (r *Request) JoinedOrDefault() bool {
	if r.Joined == nil {
		return true
	}
	return *r.Joined
}

// BodyText returns the message text, honoring the legacy field name.
func (r *Request) BodyText() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Message
}

// Response is a control-plane response body.
type Response map[string]interface{}

// OK builds a success response, optionally merging extra fields.
func OK(extra ...Response) Response {
	resp := Response{"status": "ok"}
	for _, e := range extra {
		for k, v := range e {
			resp[k] = v
		}
	}
	return resp
}

// Err builds an error response without a machine code.
func Err(message string) Response {
	return Response{"status": "error", "message": message}
}

// ErrCode builds an error response with a machine-readable code.
func ErrCode(code, message string) Response {
	return Response{"status": "error", "code": code, "message": message}
}

// Marshal encodes a response body.
func (r Response) Marshal() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"status":"error","message":"encode failed"}`)
	}
	return b
}
