package vclient

import (
	"encoding/binary"
	"sync"
	"time"
)

// Audio format shared with the relay: 20ms mono frames, 16kHz, int16.
const (
	SampleRate    = 16000
	FrameSamples  = 320
	FrameBytes    = FrameSamples * 2
	FrameDuration = 20 * time.Millisecond
)

const (
	jitterCap     = 50
	jitterPrefill = 3
	plcWindow     = 120 * time.Millisecond
)

// jitterBuffer smooths network arrival jitter between the receive loop
// and the playback callback. Playback starts after jitterPrefill frames
// have accumulated; a short gap is concealed by replaying a decaying
// copy of the last frame, a long gap goes silent and the buffer
// re-primes.
type jitterBuffer struct {
	mu          sync.Mutex
	queue       [][]int16
	primed      bool
	lastPlayed  []int16
	lastArrival time.Time
	underflows  int
	overflows   int
	now         func() time.Time
}

func newJitterBuffer() *jitterBuffer {
	return &jitterBuffer{now: time.Now}
}

// Push queues a decoded frame, dropping the oldest on overflow.
func (j *jitterBuffer) Push(frame []int16) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.queue) >= jitterCap {
		j.queue = j.queue[1:]
		j.overflows++
	}
	j.queue = append(j.queue, frame)
	j.lastArrival = j.now()
}

// PushPCM queues a raw little-endian frame off the wire.
func (j *jitterBuffer) PushPCM(pcm []byte) {
	if len(pcm) != FrameBytes {
		return
	}
	j.Push(bytesToPCM(pcm))
}

// Next returns the frame to play now. Never blocks; returns silence
// when nothing better is available.
func (j *jitterBuffer) Next() []int16 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.queue) == 0 {
		if j.primed {
			j.underflows++
			j.primed = false
		}
		if j.lastPlayed != nil && j.now().Sub(j.lastArrival) < plcWindow {
			// conceal the gap with a decaying repeat
			for i, s := range j.lastPlayed {
				j.lastPlayed[i] = int16(float64(s) * 0.7)
			}
			return j.lastPlayed
		}
		return make([]int16, FrameSamples)
	}
	if !j.primed {
		if len(j.queue) < jitterPrefill {
			return make([]int16, FrameSamples)
		}
		j.primed = true
	}
	frame := j.queue[0]
	j.queue = j.queue[1:]
	j.lastPlayed = frame
	return frame
}

// Stats returns depth, underflow and overflow counters.
func (j *jitterBuffer) Stats() (depth, underflows, overflows int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.queue), j.underflows, j.overflows
}

func bytesToPCM(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func pcmToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
