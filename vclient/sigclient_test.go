package vclient

import (
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicelink/wire"
)

// startFakeServer accepts connections and answers each with responses
// produced by handler; a nil response drops the connection unanswered.
func startFakeServer(t *testing.T, handler func(req wire.Request) map[string]interface{}) (addr string, connCount *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var count atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			count.Add(1)
			go func(conn net.Conn) {
				defer conn.Close()
				raw, err := wire.ReadFrame(conn, wire.MaxFrameBytes)
				if err != nil {
					return
				}
				var req wire.Request
				if json.Unmarshal(raw, &req) != nil {
					return
				}
				resp := handler(req)
				if resp == nil {
					return
				}
				payload, _ := json.Marshal(resp)
				wire.WriteFrame(conn, payload)
			}(conn)
		}
	}()
	return ln.Addr().String(), &count
}

func TestClientLogInStoresToken(t *testing.T) {
	addr, _ := startFakeServer(t, func(req wire.Request) map[string]interface{} {
		if req.Action != "login" || req.Password != "pw" {
			return map[string]interface{}{"status": "error", "message": "bad credentials"}
		}
		return map[string]interface{}{"status": "ok", "token": "tok123", "login": req.Login}
	})

	c := NewClient(addr)
	require.NoError(t, c.LogIn("alice", "pw"))
	assert.Equal(t, "tok123", c.Token)
	assert.Equal(t, "alice", c.Login)

	// stored token rides along on later requests
	addr2, _ := startFakeServer(t, func(req wire.Request) map[string]interface{} {
		if req.BearerToken() != "tok123" {
			return map[string]interface{}{"status": "error", "code": wire.CodeSessionRequired, "message": "no token"}
		}
		return map[string]interface{}{"status": "ok"}
	})
	c.Addr = addr2
	assert.NoError(t, c.Heartbeat())
}

func TestClientAPIError(t *testing.T) {
	addr, _ := startFakeServer(t, func(req wire.Request) map[string]interface{} {
		return map[string]interface{}{"status": "error", "code": wire.CodeBusy, "message": "user is busy"}
	})

	c := NewClient(addr)
	c.Token = "tok"
	err := c.CallUser("bob")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, wire.CodeBusy, apiErr.Code)
	assert.False(t, SessionExpired(err))
}

func TestClientSessionExpiredDetection(t *testing.T) {
	addr, _ := startFakeServer(t, func(req wire.Request) map[string]interface{} {
		return map[string]interface{}{"status": "error", "code": wire.CodeSessionInvalid, "message": "expired"}
	})
	c := NewClient(addr)
	c.Token = "stale"
	err := c.Heartbeat()
	assert.True(t, SessionExpired(err))
}

func TestClientRetriesIdempotentOnly(t *testing.T) {
	var fails atomic.Int32
	fails.Store(2)
	addr, connCount := startFakeServer(t, func(req wire.Request) map[string]interface{} {
		if fails.Add(-1) >= 0 {
			return nil // drop without answering
		}
		return map[string]interface{}{"status": "ok", "events": []interface{}{}}
	})

	c := NewClient(addr)
	c.Token = "tok"
	c.Timeout = 500 * time.Millisecond

	// poll_events is idempotent: two dropped connections, then success
	_, err := c.PollEvents()
	require.NoError(t, err)
	assert.Equal(t, int32(3), connCount.Load())

	// call_user is not: a single dropped connection is a hard error
	fails.Store(1)
	before := connCount.Load()
	err = c.CallUser("bob")
	require.Error(t, err)
	assert.Equal(t, before+1, connCount.Load())
}

func TestClientTransportErrorAfterRetries(t *testing.T) {
	addr, _ := startFakeServer(t, func(req wire.Request) map[string]interface{} {
		return nil
	})
	c := NewClient(addr)
	c.Token = "tok"
	c.Timeout = 200 * time.Millisecond
	err := c.Heartbeat()
	assert.Error(t, err)
	assert.False(t, SessionExpired(err))
}
