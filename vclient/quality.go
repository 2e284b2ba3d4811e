package vclient

import (
	"math"
	"sync"
	"time"
)

// Level buckets the connection quality score for display.
type Level int

const (
	LevelPoor Level = iota
	LevelFair
	LevelGood
	LevelExcellent
)

func (l Level) String() string {
	switch l {
	case LevelExcellent:
		return "excellent"
	case LevelGood:
		return "good"
	case LevelFair:
		return "fair"
	}
	return "poor"
}

func levelFor(score float64) Level {
	switch {
	case score >= 75:
		return LevelExcellent
	case score >= 50:
		return LevelGood
	case score >= 30:
		return LevelFair
	}
	return LevelPoor
}

// qualityMeter estimates link quality from inter-arrival gaps of audio
// frames and ping round trips. All estimators are exponential moving
// averages so a single hiccup fades instead of sticking.
type qualityMeter struct {
	mu          sync.Mutex
	avgGapMs    float64
	jitterMs    float64
	lossPct     float64
	latencyMs   float64
	lastArrival time.Time
	now         func() time.Time
}

func newQualityMeter() *qualityMeter {
	return &qualityMeter{now: time.Now}
}

// OnAudio records one received frame. Frames should arrive every 20ms;
// larger gaps raise the jitter and loss estimates.
func (q *qualityMeter) OnAudio() {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.lastArrival.IsZero() {
		gap := float64(now.Sub(q.lastArrival)) / float64(time.Millisecond)
		if q.avgGapMs == 0 {
			q.avgGapMs = gap
		} else {
			q.avgGapMs = 0.95*q.avgGapMs + 0.05*gap
		}
		q.jitterMs = 0.9*q.jitterMs + 0.1*math.Abs(gap-20)
		q.lossPct = math.Min(100, 0.9*q.lossPct+10*math.Max(0, (gap-35)/20))
	}
	q.lastArrival = now
}

// OnPong records one measured round trip in milliseconds.
func (q *qualityMeter) OnPong(latencyMs float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.latencyMs == 0 {
		q.latencyMs = latencyMs
	} else {
		q.latencyMs = 0.8*q.latencyMs + 0.2*latencyMs
	}
}

// Score combines jitter, latency and loss into 0..100, with a small
// penalty for playback buffer trouble since the last call.
func (q *qualityMeter) Score(underflows, overflows int) (float64, Level) {
	q.mu.Lock()
	defer q.mu.Unlock()
	score := 100.0
	score -= 1.5 * q.jitterMs
	score -= 0.6 * math.Max(0, q.latencyMs-60)
	score -= 0.8 * q.lossPct
	score -= 0.5 * float64(underflows+overflows)
	score = math.Max(0, math.Min(100, score))
	return score, levelFor(score)
}

// Snapshot returns the raw estimator values.
func (q *qualityMeter) Snapshot() (jitterMs, latencyMs, lossPct float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jitterMs, q.latencyMs, q.lossPct
}
