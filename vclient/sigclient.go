// Package vclient is the client side of voicelink: a small control
// plane client plus the audio engine (capture, relay I/O, jitter
// buffer, quality estimation). Audio devices are abstracted behind the
// Device interface so the engine is testable without sound hardware.
package vclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"voicelink/wire"
)

const (
	defaultDialTimeout = 4 * time.Second
	defaultRetries     = 2
	retryBackoffBase   = 200 * time.Millisecond
)

// APIError is a server-side rejection with an optional machine code.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// SessionExpired reports whether err means the stored token is no
// longer usable and the user must log in again.
func SessionExpired(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == wire.CodeSessionRequired || apiErr.Code == wire.CodeSessionInvalid
	}
	return false
}

// Client issues control-plane requests. One TCP connection per request,
// matching the server's request/response model. Safe for concurrent use.
type Client struct {
	Addr    string
	Timeout time.Duration
	Token   string
	Login   string
	Retries int
}

func NewClient(addr string) *Client {
	return &Client{Addr: addr, Timeout: defaultDialTimeout, Retries: defaultRetries}
}

// Do sends one request and decodes the response. The client token is
// filled in when the request carries none. Transport failures are
// retried with jittered backoff, but only for actions declared
// idempotent; a mutation that may have reached the server is surfaced
// as an error instead of double-fired.
func (c *Client) Do(req wire.Request) (map[string]interface{}, error) {
	if req.Token == "" {
		req.Token = c.Token
	}
	payload, err := json.Marshal(&req)
	if err != nil {
		return nil, err
	}

	retries := 0
	if spec, ok := wire.Lookup(req.Action); ok && spec.Idempotent {
		retries = c.Retries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoffBase << (attempt - 1)
			time.Sleep(backoff + time.Duration(rand.Int63n(int64(backoff))))
		}
		resp, err := c.roundTrip(payload)
		if err != nil {
			lastErr = err
			continue
		}
		return checkResponse(resp)
	}
	return nil, lastErr
}

func (c *Client) roundTrip(payload []byte) (map[string]interface{}, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}
	conn, err := net.DialTimeout("tcp", c.Addr, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if err := wire.WriteFrame(conn, payload); err != nil {
		return nil, err
	}
	raw, err := wire.ReadFrame(conn, wire.MaxFrameBytes)
	if err != nil {
		return nil, err
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func checkResponse(resp map[string]interface{}) (map[string]interface{}, error) {
	status, _ := resp["status"].(string)
	if status == "ok" {
		return resp, nil
	}
	message, _ := resp["message"].(string)
	if message == "" {
		message = "request failed"
	}
	code, _ := resp["code"].(string)
	return nil, &APIError{Code: code, Message: message}
}

// LogIn authenticates and stores the issued token on the client.
func (c *Client) LogIn(login, password string) error {
	resp, err := c.Do(wire.Request{Action: "login", Login: login, Password: password})
	if err != nil {
		return err
	}
	c.Token, _ = resp["token"].(string)
	c.Login, _ = resp["login"].(string)
	return nil
}

// ResumeSession revalidates a stored token.
func (c *Client) ResumeSession(token string) error {
	resp, err := c.Do(wire.Request{Action: "resume_session", Token: token})
	if err != nil {
		return err
	}
	c.Token = token
	c.Login, _ = resp["login"].(string)
	return nil
}

// PollEvents drains the caller's event outbox.
func (c *Client) PollEvents() ([]map[string]interface{}, error) {
	resp, err := c.Do(wire.Request{Action: "poll_events"})
	if err != nil {
		return nil, err
	}
	rawEvents, _ := resp["events"].([]interface{})
	out := make([]map[string]interface{}, 0, len(rawEvents))
	for _, raw := range rawEvents {
		if ev, ok := raw.(map[string]interface{}); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *Client) Heartbeat() error {
	_, err := c.Do(wire.Request{Action: "heartbeat"})
	return err
}

func (c *Client) CallUser(target string) error {
	_, err := c.Do(wire.Request{Action: "call_user", TargetLogin: target})
	return err
}

func (c *Client) AcceptCall(from string) error {
	_, err := c.Do(wire.Request{Action: "accept_call", FromUser: from})
	return err
}

func (c *Client) DeclineCall(from string) error {
	_, err := c.Do(wire.Request{Action: "decline_call", FromUser: from})
	return err
}

func (c *Client) EndCall(with string) error {
	_, err := c.Do(wire.Request{Action: "end_call", WithUser: with})
	return err
}

// SetChannelVoicePresence refreshes the caller's voice room lease.
func (c *Client) SetChannelVoicePresence(channelID int64, speaking, joined bool) error {
	_, err := c.Do(wire.Request{
		Action:    "set_channel_voice_presence",
		ChannelID: channelID,
		Speaking:  speaking,
		Joined:    &joined,
	})
	return err
}

// PresenceOffline marks the user offline without dropping the token.
func (c *Client) PresenceOffline() error {
	_, err := c.Do(wire.Request{Action: "presence_offline"})
	return err
}
