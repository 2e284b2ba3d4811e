package vclient

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicelink/wire"
)

// fakeConn records writes and feeds reads from a channel.
type fakeConn struct {
	mu     sync.Mutex
	wrote  [][]byte
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	c.wrote = append(c.wrote, append([]byte{}, b...))
	c.mu.Unlock()
	return len(b), nil
}

func (c *fakeConn) Read(b []byte) (int, error) {
	select {
	case data := <-c.inbox:
		return copy(b, data), nil
	case <-c.closed:
		return 0, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.wrote))
	copy(out, c.wrote)
	return out
}

func (c *fakeConn) writtenTags() map[byte]int {
	tags := make(map[byte]int)
	for _, b := range c.written() {
		if len(b) > 0 {
			tags[b[0]]++
		}
	}
	return tags
}

// fakeDevice hands the engine's callbacks to the test.
type fakeDevice struct {
	mu        sync.Mutex
	onCapture func([]int16)
	fill      func([]int16)
	started   int
	stopped   int
}

func (d *fakeDevice) Start(onCapture func([]int16), fill func([]int16)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onCapture = onCapture
	d.fill = fill
	d.started++
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped++
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeConn, *fakeDevice) {
	t.Helper()
	dev := &fakeDevice{}
	conn := newFakeConn()
	e := NewEngine("alice", "tok123", "127.0.0.1:5556", dev)
	e.dial = func(addr string) (netConn, error) { return conn, nil }
	t.Cleanup(func() { e.Stop() })
	return e, conn, dev
}

func loudFrame() []int16 {
	frame := make([]int16, FrameSamples)
	for i := range frame {
		frame[i] = 8000
	}
	return frame
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEngineStartSendsJoinAndPair(t *testing.T) {
	e, conn, dev := newTestEngine(t)
	require.NoError(t, e.Start("bob"))
	assert.Equal(t, 1, dev.started)

	written := conn.written()
	require.GreaterOrEqual(t, len(written), 2)
	assert.Equal(t, []byte("J|alice|tok123"), written[0])
	assert.Equal(t, []byte("S|alice|tok123|alice|bob|1"), written[1])

	// second Start is a no-op
	require.NoError(t, e.Start("bob"))
	assert.Equal(t, 1, dev.started)
}

func TestEngineStopClearsPair(t *testing.T) {
	e, conn, _ := newTestEngine(t)
	require.NoError(t, e.Start("bob"))
	require.NoError(t, e.Stop())

	written := conn.written()
	require.NotEmpty(t, written)
	assert.Equal(t, []byte("S|alice|tok123|alice|bob|0"), written[len(written)-1])
}

func TestEngineRoomJoinAndLeave(t *testing.T) {
	e, conn, _ := newTestEngine(t)
	require.NoError(t, e.StartRoom(42))

	written := conn.written()
	require.NotEmpty(t, written)
	assert.Equal(t, []byte("C|alice|tok123|42"), written[0])

	require.NoError(t, e.Stop())
	tags := conn.writtenTags()
	assert.Equal(t, 1, tags[wire.TagRoomLeave])
}

func TestEngineCaptureReachesWire(t *testing.T) {
	e, conn, dev := newTestEngine(t)
	require.NoError(t, e.Start("bob"))

	dev.onCapture(loudFrame())
	waitFor(t, func() bool { return conn.writtenTags()[wire.TagAudio] >= 1 })

	var audio []byte
	for _, b := range conn.written() {
		if b[0] == wire.TagAudio {
			audio = b
		}
	}
	d, err := wire.ParseDatagram(audio)
	require.NoError(t, err)
	assert.Equal(t, "alice", d.From())
	assert.Len(t, d.Audio, FrameBytes)

	assert.True(t, e.Speaking())
	assert.Greater(t, e.Activity().MicLevel, 0.1)
}

func TestEngineMuteStopsAudioNotLevels(t *testing.T) {
	e, conn, dev := newTestEngine(t)
	require.NoError(t, e.Start("bob"))

	e.SetMicEnabled(false)
	dev.onCapture(loudFrame())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, conn.writtenTags()[wire.TagAudio])
	// level metering keeps working while muted
	assert.Greater(t, e.Activity().MicLevel, 0.1)
}

func TestEnginePlaybackPath(t *testing.T) {
	e, conn, dev := newTestEngine(t)
	require.NoError(t, e.Start("bob"))

	pcm := pcmToBytes(loudFrame())
	for i := 0; i < jitterPrefill; i++ {
		conn.inbox <- wire.RelayedDatagram("bob", pcm)
	}
	waitFor(t, func() bool { return e.Activity().BufferDepth >= jitterPrefill })

	out := make([]int16, FrameSamples)
	dev.fill(out)
	assert.Equal(t, int16(8000), out[0])
	assert.Greater(t, e.Activity().PeerLevel, 0.1)
}

func TestEngineSoundDisabledPlaysSilence(t *testing.T) {
	e, conn, dev := newTestEngine(t)
	require.NoError(t, e.Start("bob"))

	e.SetSoundEnabled(false)
	conn.inbox <- wire.RelayedDatagram("bob", pcmToBytes(loudFrame()))
	time.Sleep(50 * time.Millisecond)

	out := []int16{1, 2, 3}
	dev.fill(out)
	assert.Equal(t, []int16{0, 0, 0}, out)
}

func TestEnginePongFeedsLatency(t *testing.T) {
	e, conn, _ := newTestEngine(t)
	require.NoError(t, e.Start("bob"))

	// a pong carrying a send time 80ms in the past
	sent := float64(time.Now().UnixNano())/1e9 - 0.080
	conn.inbox <- wirePong(1, sent)
	waitFor(t, func() bool { return e.Activity().LatencyMs > 0 })
	assert.InDelta(t, 80, e.Activity().LatencyMs, 40)
}

func wirePong(seq int, sendTime float64) []byte {
	p := wire.PingDatagram(seq, sendTime)
	p[0] = wire.TagPong
	return p
}

func TestEngineStopIdempotent(t *testing.T) {
	e, _, dev := newTestEngine(t)
	require.NoError(t, e.Start("bob"))
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	assert.Equal(t, 1, dev.stopped)

	// restart works
	require.NoError(t, e.Start("bob"))
	assert.Equal(t, 2, dev.started)
}
