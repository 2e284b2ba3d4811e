package vclient

import (
	"context"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"voicelink/wire"
)

func dialUDP(addr string) (netConn, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

const (
	rejoinInterval = 2 * time.Second
	pingInterval   = 2 * time.Second
	speakingHold   = 350 * time.Millisecond
	rmsThreshold   = 0.015
	sendQueueCap   = 8
)

// Device is the audio hardware boundary. Start begins duplex streaming:
// the implementation calls onCapture with each recorded frame and fill
// for each frame it is about to play. Both callbacks run on audio
// threads and must not block.
type Device interface {
	Start(onCapture func(frame []int16), fill func(out []int16)) error
	Stop() error
}

// netConn is the slice of net.UDPConn the engine uses, split out so
// tests can capture traffic.
type netConn interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// Activity is a point-in-time view of the running engine for UI.
type Activity struct {
	MicLevel    float64
	PeerLevel   float64
	Speaking    bool
	LatencyMs   float64
	JitterMs    float64
	LossPct     float64
	Score       float64
	Level       string
	BufferDepth int
	Underflows  int
	Overflows   int
}

// Engine runs one voice session: microphone frames out to the relay,
// relayed frames through the jitter buffer to the speaker. It covers
// both one-to-one calls (Start) and channel rooms (StartRoom).
type Engine struct {
	Login     string
	Token     string
	RelayAddr string

	dev  Device
	dial func(addr string) (netConn, error)

	running      atomic.Bool
	micEnabled   atomic.Bool
	soundEnabled atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	conn   netConn
	room   string // "" for one-to-one
	peer   string // one-to-one call partner, "" in a room

	jitter  *jitterBuffer
	quality *qualityMeter
	sendCh  chan []byte

	micLevel  atomic.Uint64 // float64 bits
	peerLevel atomic.Uint64
	lastVoice atomic.Int64 // unix nanos of last frame above threshold

	lastUnderflows int
	lastOverflows  int
}

func NewEngine(login, token, relayAddr string, dev Device) *Engine {
	e := &Engine{
		Login:     login,
		Token:     token,
		RelayAddr: relayAddr,
		dev:       dev,
		dial:      dialUDP,
	}
	e.micEnabled.Store(true)
	e.soundEnabled.Store(true)
	return e
}

// Start opens a one-to-one voice session with peer. The relay forwards
// audio only between paired endpoints, so the pairing request goes out
// right after the join and is refreshed by joinLoop. Idempotent; a
// second Start while running is a no-op.
func (e *Engine) Start(peer string) error {
	return e.start("", peer)
}

// StartRoom opens a channel voice session.
func (e *Engine) StartRoom(channelID int64) error {
	return e.start(strconv.FormatInt(channelID, 10), "")
}

func (e *Engine) start(room, peer string) error {
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}
	conn, err := e.dial(e.RelayAddr)
	if err != nil {
		e.running.Store(false)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = cancel
	e.conn = conn
	e.room = room
	e.peer = peer
	e.jitter = newJitterBuffer()
	e.quality = newQualityMeter()
	e.sendCh = make(chan []byte, sendQueueCap)
	e.lastUnderflows = 0
	e.lastOverflows = 0
	e.mu.Unlock()

	e.sendJoin(conn, room)
	if peer != "" {
		e.sendPair(conn, peer, true)
	}

	go e.sendLoop(ctx, conn)
	go e.recvLoop(conn)
	go e.joinLoop(ctx, conn, room, peer)
	go e.pingLoop(ctx)

	if err := e.dev.Start(e.onCapture, e.fillPlayback); err != nil {
		e.Stop()
		return err
	}
	return nil
}

// Stop tears the session down. Idempotent.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	e.mu.Lock()
	cancel := e.cancel
	conn := e.conn
	room := e.room
	peer := e.peer
	e.mu.Unlock()

	if conn != nil && room != "" {
		conn.Write(wire.RoomLeaveDatagram(e.Login, room))
	}
	if conn != nil && peer != "" {
		e.sendPair(conn, peer, false)
	}
	if cancel != nil {
		cancel()
	}
	err := e.dev.Stop()
	if conn != nil {
		conn.Close()
	}
	return err
}

func (e *Engine) SetMicEnabled(on bool)   { e.micEnabled.Store(on) }
func (e *Engine) SetSoundEnabled(on bool) { e.soundEnabled.Store(on) }
func (e *Engine) MicEnabled() bool        { return e.micEnabled.Load() }
func (e *Engine) SoundEnabled() bool      { return e.soundEnabled.Load() }

// Speaking reports whether the microphone picked up voice within the
// hold window.
func (e *Engine) Speaking() bool {
	last := e.lastVoice.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < speakingHold
}

// onCapture runs on the audio thread: measure level, hand the frame to
// the sender goroutine. Network writes never happen here.
func (e *Engine) onCapture(frame []int16) {
	if !e.running.Load() {
		return
	}
	rms := frameRMS(frame)
	e.micLevel.Store(math.Float64bits(rms))
	if rms >= rmsThreshold {
		e.lastVoice.Store(time.Now().UnixNano())
	}
	if !e.micEnabled.Load() {
		return
	}
	e.mu.Lock()
	ch := e.sendCh
	e.mu.Unlock()
	if ch == nil {
		return
	}
	datagram := wire.AudioDatagram(e.Login, pcmToBytes(frame))
	select {
	case ch <- datagram:
	default:
		// sender is behind; dropping beats blocking the audio thread
	}
}

// fillPlayback runs on the audio thread: pull the next frame out of the
// jitter buffer.
func (e *Engine) fillPlayback(out []int16) {
	e.mu.Lock()
	jb := e.jitter
	e.mu.Unlock()
	if jb == nil || !e.soundEnabled.Load() {
		for i := range out {
			out[i] = 0
		}
		return
	}
	copy(out, jb.Next())
}

func (e *Engine) sendLoop(ctx context.Context, conn netConn) {
	e.mu.Lock()
	ch := e.sendCh
	e.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return
		case datagram := <-ch:
			conn.Write(datagram)
		}
	}
}

func (e *Engine) recvLoop(conn netConn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.handleDatagram(data)
	}
}

func (e *Engine) handleDatagram(data []byte) {
	d, err := wire.ParseDatagram(data)
	if err != nil {
		return
	}
	switch d.Tag {
	case wire.TagPong:
		if len(d.Fields) >= 2 {
			if sent, err := strconv.ParseFloat(d.Fields[1], 64); err == nil {
				latencyMs := (float64(time.Now().UnixNano())/1e9 - sent) * 1000
				if latencyMs >= 0 {
					e.quality.OnPong(latencyMs)
				}
			}
		}
	case wire.TagRelayed:
		e.quality.OnAudio()
		if len(d.Audio) == FrameBytes {
			frame := bytesToPCM(d.Audio)
			e.peerLevel.Store(math.Float64bits(frameRMS(frame)))
			if e.soundEnabled.Load() {
				e.mu.Lock()
				jb := e.jitter
				e.mu.Unlock()
				if jb != nil {
					jb.Push(frame)
				}
			}
		}
	}
}

func (e *Engine) sendJoin(conn netConn, room string) {
	if room != "" {
		conn.Write(wire.RoomJoinDatagram(e.Login, e.Token, room))
	} else {
		conn.Write(wire.JoinDatagram(e.Login, e.Token))
	}
}

func (e *Engine) sendPair(conn netConn, peer string, active bool) {
	conn.Write(wire.PairDatagram(e.Login, e.Token, e.Login, peer, active))
}

// joinLoop re-registers with the relay so the endpoint binding, room
// membership and call pairing survive NAT rebinds and relay sweeps.
func (e *Engine) joinLoop(ctx context.Context, conn netConn, room, peer string) {
	ticker := time.NewTicker(rejoinInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sendJoin(conn, room)
			if peer != "" {
				e.sendPair(conn, peer, true)
			}
		}
	}
}

func (e *Engine) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			sendTime := float64(time.Now().UnixNano()) / 1e9
			e.mu.Lock()
			conn := e.conn
			e.mu.Unlock()
			if conn != nil {
				conn.Write(wire.PingDatagram(seq, sendTime))
			}
		}
	}
}

// Activity snapshots levels, speaking state and link quality.
func (e *Engine) Activity() Activity {
	act := Activity{
		MicLevel:  math.Float64frombits(e.micLevel.Load()),
		PeerLevel: math.Float64frombits(e.peerLevel.Load()),
		Speaking:  e.Speaking(),
	}
	e.mu.Lock()
	jb := e.jitter
	qm := e.quality
	e.mu.Unlock()
	if jb == nil || qm == nil {
		return act
	}
	depth, underflows, overflows := jb.Stats()
	act.BufferDepth = depth
	act.Underflows = underflows
	act.Overflows = overflows

	e.mu.Lock()
	deltaU := underflows - e.lastUnderflows
	deltaO := overflows - e.lastOverflows
	e.lastUnderflows = underflows
	e.lastOverflows = overflows
	e.mu.Unlock()

	act.JitterMs, act.LatencyMs, act.LossPct = qm.Snapshot()
	score, level := qm.Score(deltaU, deltaO)
	act.Score = score
	act.Level = level.String()
	return act
}

// frameRMS returns the normalized 0..1 signal level of a frame.
func frameRMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		f := float64(s) / 32768
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(frame)))
}
