// eventQueue is the per-login outbox behind poll_events. Events are
// bounded per login, pruned by TTL, and delivered exactly once: a poll
// drains the whole queue. There is no replay and no ack.
package main

import (
	"sync"
	"time"
)

const (
	eventMaxPerUser = 200
	eventTTL        = 180 * time.Second
)

type queuedEvent struct {
	fields map[string]interface{}
	ts     time.Time
}

type eventQueue struct {
	mu  sync.Mutex
	q   map[string][]queuedEvent
	now func() time.Time
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		q:   make(map[string][]queuedEvent),
		now: time.Now,
	}
}

// Push appends an event for login. The "type" key is set from typ;
// extra fields are copied in. Oldest events are dropped past the cap.
func (e *eventQueue) Push(login string, typ string, extra map[string]interface{}) {
	if login == "" {
		return
	}
	fields := map[string]interface{}{"type": typ}
	for k, v := range extra {
		fields[k] = v
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	q := append(e.q[login], queuedEvent{fields: fields, ts: e.now()})
	if len(q) > eventMaxPerUser {
		q = q[len(q)-eventMaxPerUser:]
	}
	e.q[login] = q
}

// Drain returns all undelivered, unexpired events for login and clears
// the queue.
func (e *eventQueue) Drain(login string) []map[string]interface{} {
	if login == "" {
		return nil
	}
	now := e.now()
	e.mu.Lock()
	q := e.q[login]
	delete(e.q, login)
	e.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(q))
	for _, ev := range q {
		if now.Sub(ev.ts) > eventTTL {
			continue
		}
		ev.fields["ts"] = ev.ts.UTC().Format(time.RFC3339Nano)
		out = append(out, ev.fields)
	}
	return out
}

// Pending reports the number of queued events for login (stats only).
func (e *eventQueue) Pending(login string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.q[login])
}
